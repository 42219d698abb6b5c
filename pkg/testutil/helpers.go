package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dispatchrx/dispatchrx-backend/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewHTTPRequest builds a handler test request. A string or []byte body is
// sent as is, so tests can post malformed JSON; anything else is marshaled.
func NewHTTPRequest(method, path string, body interface{}) *http.Request {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	case []byte:
		reader = bytes.NewBuffer(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			panic(err)
		}
		reader = bytes.NewBuffer(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// WithOperatorHeader sets the warehouse operator header
func WithOperatorHeader(req *http.Request, operator string) *http.Request {
	if operator != "" {
		req.Header.Set(httputil.OperatorHeader, operator)
	}
	return req
}

// WithLanguage sets the Accept-Language header
func WithLanguage(req *http.Request, lang string) *http.Request {
	req.Header.Set("Accept-Language", lang)
	return req
}

// ExecuteRequest serves req and returns the recorded response
func ExecuteRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// AssertStatus asserts the response status code, printing the body on failure
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	assert.Equal(t, expected, rr.Code, "unexpected status code. Body: %s", rr.Body.String())
}

// AssertErrorCode asserts status and the error code of the response envelope
// and returns the decoded error body
func AssertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) httputil.ErrorBody {
	t.Helper()
	AssertStatus(t, rr, status)

	var env struct {
		Success bool                `json:"success"`
		Error   *httputil.ErrorBody `json:"error"`
	}
	ParseJSONBody(t, rr, &env)
	require.False(t, env.Success)
	require.NotNil(t, env.Error, "response has no error body: %s", rr.Body.String())
	assert.Equal(t, code, env.Error.Code)
	return *env.Error
}

// AssertBodyContains asserts the response body contains a string
func AssertBodyContains(t *testing.T, rr *httptest.ResponseRecorder, expected string) {
	t.Helper()
	assert.Contains(t, rr.Body.String(), expected)
}

// ParseJSONBody parses the response body into the target
func ParseJSONBody(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	err := json.Unmarshal(rr.Body.Bytes(), target)
	require.NoError(t, err, "failed to parse response body: %s", rr.Body.String())
}

// DefaultTestContext returns a context cancelled after 30s or at test end
func DefaultTestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// SkipIfShort skips integration tests under -short
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}
