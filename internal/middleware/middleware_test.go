package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRecoverJSON_AfterWrite(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestLocalOnly(t *testing.T) {
	h := LocalOnly("s3cret")(ok)
	tests := []struct {
		name   string
		remote string
		secret string
		want   int
	}{
		{"loopback v4", "127.0.0.1:5555", "", http.StatusNoContent},
		{"loopback v6", "[::1]:5555", "", http.StatusNoContent},
		{"lan", "192.168.1.7:5555", "", http.StatusForbidden},
		{"lan with secret", "192.168.1.7:5555", "s3cret", http.StatusNoContent},
		{"wrong secret", "10.0.0.2:5555", "nope", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
			req.RemoteAddr = tt.remote
			if tt.secret != "" {
				req.Header.Set("X-Agent-Secret", tt.secret)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(0.001, 2)(ok)
	post := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusNoContent, post("127.0.0.1:1"))
	assert.Equal(t, http.StatusNoContent, post("127.0.0.1:2"))
	assert.Equal(t, http.StatusTooManyRequests, post("127.0.0.1:3"))
	assert.Equal(t, http.StatusNoContent, post("127.0.0.2:1"), "buckets are per address")

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.RemoteAddr = "127.0.0.1:4"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code, "reads are not limited")
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("short"))
	assert.Equal(t, "eyJhbG***", MaskToken("eyJhbGciOiJIUzI1NiJ9.payload.sig"))
}
