package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-jwt-secret-key")

func protected(ja *jwtauth.JWTAuth) (http.Handler, *AuthAccount) {
	seen := &AuthAccount{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := GetAuthAccount(r)
		if ok {
			*seen = *account
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return Verifier(ja)(AuthAccountMiddleware(RequireAuth(h))), seen
}

func TestAuthAccountMiddleware(t *testing.T) {
	ja := jwtauth.New("HS256", testSecret, nil)
	accountID := uuid.New()

	token, err := IssueToken(ja, accountID, "ann@x.com", time.Hour)
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		handler, seen := protected(ja)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, accountID, seen.AccountID)
		assert.Equal(t, "ann@x.com", seen.Email)
	})

	t.Run("cookie", func(t *testing.T) {
		handler, seen := protected(ja)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: ACCESS_TOKEN_NAME, Value: token})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, accountID, seen.AccountID)
	})
}

func TestAuthAccountMiddleware_Rejects(t *testing.T) {
	ja := jwtauth.New("HS256", testSecret, nil)
	other := jwtauth.New("HS256", []byte("a-different-secret"), nil)

	foreign, err := IssueToken(other, uuid.New(), "", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(ja, uuid.New(), "", -time.Minute)
	require.NoError(t, err)
	_, notUUID, err := ja.Encode(map[string]interface{}{"sub": "alice"})
	require.NoError(t, err)
	_, noSub, err := ja.Encode(map[string]interface{}{"email": "a@x.com"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"wrong key", foreign},
		{"expired", expired},
		{"subject not a uuid", notUUID},
		{"no subject", noSub},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := protected(ja)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.Equal(t, "UNAUTHORIZED", body["code"])
		})
	}
}

func TestRequireAuth_WithoutMiddleware(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAccount_LogValue(t *testing.T) {
	id := uuid.New()
	v := AuthAccount{AccountID: id, Email: "a@x.com"}.LogValue()
	assert.Contains(t, v.String(), id.String())
}
