package database

import (
	"net/http"
	"strings"

	"github.com/dispatchrx/dispatchrx-backend/pkg/errors"
	"github.com/lib/pq"
)

// constraintRule maps a constraint name fragment onto the request field it
// guards. For check constraints msg is the field detail; for unique
// constraints it is the i18n key of the conflict.
type constraintRule struct {
	fragment string
	field    string
	msg      string
}

var checkRules = []constraintRule{
	{"tracking_mode_valid", "tracking_mode", "must be one of: serialized, device_tracked, simple"},
	{"expected_quantity_non_negative", "expected_quantity", "must not be negative"},
	{"delta_kind_valid", "kind", "unknown counter event kind"},
}

var uniqueRules = []constraintRule{
	{"idempotency_key", "scan_id", "errors.scan_already_recorded"},
	{"product_code", "product_code", "errors.duplicate_product_code"},
}

func match(rules []constraintRule, constraint string) (constraintRule, bool) {
	for _, r := range rules {
		if strings.Contains(constraint, r.fragment) {
			return r, true
		}
	}
	return constraintRule{}, false
}

// MapPQError converts an integrity or concurrency error from Postgres into
// an AppError. It returns nil for anything else, including non-pq errors.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code.Name() {
	case "check_violation":
		if r, ok := match(checkRules, pqErr.Constraint); ok {
			return errors.Validation(map[string]string{r.field: r.msg})
		}
		return errors.BadRequest("data validation failed: " + pqErr.Constraint)

	case "unique_violation":
		if r, ok := match(uniqueRules, pqErr.Constraint); ok {
			return errors.Conflict(r.field+" already exists").
				WithKey(r.msg, nil).
				WithDetails(map[string]string{"field": r.field})
		}
		return errors.Conflict("a record with these values already exists")

	case "foreign_key_violation":
		return errors.BadRequest("referenced record does not exist").WithKey("errors.missing_reference", nil)

	case "not_null_violation":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{col: "must not be empty"})

	case "serialization_failure", "deadlock_detected":
		return errors.Wrap(pqErr, "RETRY", "concurrent update, retry the request", http.StatusServiceUnavailable).
			WithKey("errors.retry", nil)

	default:
		return nil
	}
}
