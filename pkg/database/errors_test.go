package database_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/dispatchrx/dispatchrx-backend/pkg/database"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPQError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantNil    bool
		wantCode   string
		wantStatus int
		wantMsg    string
	}{
		{
			name:    "non pq error",
			err:     fmt.Errorf("boom"),
			wantNil: true,
		},
		{
			name:       "duplicate scan delta",
			err:        &pq.Error{Code: "23505", Constraint: "scan_deltas_idempotency_key_key"},
			wantCode:   "CONFLICT",
			wantStatus: http.StatusConflict,
			wantMsg:    "This scan has already been recorded.",
		},
		{
			name:       "wrapped duplicate product code",
			err:        fmt.Errorf("insert line: %w", &pq.Error{Code: "23505", Constraint: "document_lines_product_code_key"}),
			wantCode:   "CONFLICT",
			wantStatus: http.StatusConflict,
			wantMsg:    "A line with this product code already exists on the document.",
		},
		{
			name:       "tracking mode check",
			err:        &pq.Error{Code: "23514", Constraint: "document_lines_tracking_mode_valid"},
			wantCode:   "VALIDATION_ERROR",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "foreign key",
			err:        &pq.Error{Code: "23503"},
			wantCode:   "BAD_REQUEST",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "serialization failure",
			err:        &pq.Error{Code: "40001"},
			wantCode:   "RETRY",
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:    "unmapped code",
			err:     &pq.Error{Code: "42P01"},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := database.MapPQError(tt.err)
			if tt.wantNil {
				assert.Nil(t, appErr)
				return
			}
			require.NotNil(t, appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
			assert.Equal(t, tt.wantStatus, appErr.StatusCode)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, appErr.Message)
			}
		})
	}
}

func TestMapPQError_UniqueViolationNamesField(t *testing.T) {
	appErr := database.MapPQError(&pq.Error{Code: "23505", Constraint: "fulfillment_deltas_idempotency_key_key"})
	require.NotNil(t, appErr)
	assert.Equal(t, map[string]string{"field": "scan_id"}, appErr.Details)
	assert.Equal(t, "errors.scan_already_recorded", appErr.MessageKey)
}

func TestMapPQError_CheckViolationDetail(t *testing.T) {
	appErr := database.MapPQError(&pq.Error{Code: "23514", Constraint: "fulfillment_line_items_expected_quantity_non_negative"})
	require.NotNil(t, appErr)
	assert.Equal(t, "must not be negative", appErr.Details["expected_quantity"])
}
