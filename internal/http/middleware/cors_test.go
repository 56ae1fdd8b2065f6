package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	p := NewOriginPolicy([]string{" https://ops.example/ ", "", "HTTPS://Review.Example"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://ops.example", true},
		{"https://ops.example/", true},
		{"https://review.example", true},
		{"https://evil.example", false},
		{"http://ops.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Allows(tt.origin))
		})
	}

	assert.False(t, p.Empty())
	assert.True(t, NewOriginPolicy(nil).Empty())
	assert.True(t, NewOriginPolicy([]string{"*"}).Allows("https://anything.example"))
}

func TestOriginPolicyAllowsRequestSameHostWhenEmpty(t *testing.T) {
	p := NewOriginPolicy(nil)

	req := httptest.NewRequest(http.MethodGet, "http://lca.internal:8080/v1/filings/f-1/progress/stream", nil)
	assert.True(t, p.AllowsRequest(req), "no Origin header")

	req.Header.Set("Origin", "http://lca.internal:8080")
	assert.True(t, p.AllowsRequest(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, p.AllowsRequest(req))

	req.Header.Set("Origin", "://bad")
	assert.False(t, p.AllowsRequest(req))
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantCode    int
		wantAllow   string
		wantCalled  bool
		wantHeaders bool
	}{
		{name: "listed origin", method: http.MethodGet, origin: "https://ops.example",
			wantCode: http.StatusOK, wantAllow: "https://ops.example", wantCalled: true, wantHeaders: true},
		{name: "unlisted origin", method: http.MethodGet, origin: "https://evil.example",
			wantCode: http.StatusOK, wantCalled: true},
		{name: "no origin", method: http.MethodPost,
			wantCode: http.StatusOK, wantCalled: true},
		{name: "preflight listed", method: http.MethodOptions, origin: "https://ops.example", preflight: true,
			wantCode: http.StatusNoContent, wantAllow: "https://ops.example", wantHeaders: true},
		{name: "preflight unlisted", method: http.MethodOptions, origin: "https://evil.example", preflight: true,
			wantCode: http.StatusNoContent},
		{name: "plain options", method: http.MethodOptions, origin: "https://ops.example",
			wantCode: http.StatusOK, wantAllow: "https://ops.example", wantCalled: true, wantHeaders: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, "/v1/filings", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			CORS([]string{"https://ops.example"})(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantHeaders {
				assert.Equal(t, corsAllowMethods, rec.Header().Get("Access-Control-Allow-Methods"))
				assert.Equal(t, corsAllowHeaders, rec.Header().Get("Access-Control-Allow-Headers"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
			}
		})
	}
}
