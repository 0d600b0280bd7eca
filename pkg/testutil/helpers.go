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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewHTTPRequest builds a request whose body is the JSON encoding of body.
func NewHTTPRequest(method, path string, body interface{}) *http.Request {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(MustJSON(body))
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// WithUserHeaders sets the identity headers the gateway forwards.
func WithUserHeaders(req *http.Request, userID, role string) *http.Request {
	req.Header.Set("X-User-ID", userID)
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	return req
}

// WithTenantHeaders sets the tenant headers the gateway forwards.
func WithTenantHeaders(req *http.Request, id, slug, schema string) *http.Request {
	req.Header.Set("X-Tenant-ID", id)
	req.Header.Set("X-Tenant-Slug", slug)
	req.Header.Set("X-Tenant-Schema", schema)
	return req
}

func ExecuteRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// AssertStatus fails with the response body so API errors are readable.
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) bool {
	t.Helper()
	return assert.Equal(t, want, rr.Code, "body: %s", rr.Body.String())
}

func ParseJSONBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), "body: %s", rr.Body.String())
}

// DefaultTestContext is cancelled after 30s or when the test ends.
func DefaultTestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func MustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
