package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxBodySize(t *testing.T) {
	var readErr error
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("short")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, readErr)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("far too long for the cap")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":"request body too large"}`, rec.Body.String())

	// Chunked bodies have no declared length and are cut off while reading.
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("far too long for the cap"))
	req.ContentLength = -1
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var tooLarge *http.MaxBytesError
	assert.ErrorAs(t, readErr, &tooLarge)
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		allowOrigin string
		credentials string
	}{
		{"wildcard", nil, "http://app.example", "*", ""},
		{"listed origin", []string{"http://app.example"}, "http://app.example", "http://app.example", "true"},
		{"unlisted origin", []string{"http://app.example"}, "http://evil.example", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.origins)(ok)
			req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.allowOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.credentials, rec.Header().Get("Access-Control-Allow-Credentials"))
			if tt.allowOrigin != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Run-Id")
			}
		})
	}
}
