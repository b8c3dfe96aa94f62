package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func protected(secret string) http.Handler {
	return Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, _ := Subject(r.Context())
		w.Write([]byte(sub))
	}))
}

func TestMiddleware_ValidToken(t *testing.T) {
	tok, err := Issue("secret", "alice", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	protected("secret").ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice", rec.Body.String())
}

func TestMiddleware_Rejects(t *testing.T) {
	expired, err := Issue("secret", "alice", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := Issue("other", "alice", time.Minute)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":   "",
		"garbage":   "Bearer not-a-token",
		"expired":   "Bearer " + expired,
		"wrong key": "Bearer " + wrongKey,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			protected("secret").ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestMiddleware_DisabledWithoutSecret(t *testing.T) {
	rec := httptest.NewRecorder()
	protected("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIssue_EmptySecret(t *testing.T) {
	_, err := Issue("", "alice", time.Minute)
	require.Error(t, err)
}
