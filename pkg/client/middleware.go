package client

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	idmerrors "github.com/tendant/simple-idm-email/pkg/errors"
)

// AuthAccountMiddleware reads the verified claims and stores the caller in the request
// context. The `sub` claim must hold the account id.
// Must be used after Verifier.
func AuthAccountMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			slog.Debug("Missing or invalid JWT", "error", err)
			unauthorized(w, r, "missing or invalid token")
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			unauthorized(w, r, "missing account id in token")
			return
		}
		accountID, err := uuid.Parse(sub)
		if err != nil {
			slog.Warn("Failed to parse account id from token", "sub", sub, "error", err)
			unauthorized(w, r, "invalid account id in token")
			return
		}

		account := &AuthAccount{AccountID: accountID}
		account.Email, _ = claims["email"].(string)
		slog.Debug("Authenticated account", "account", account)

		next.ServeHTTP(w, r.WithContext(WithAuthAccount(r.Context(), account)))
	})
}

// RequireAuth rejects requests that did not pass AuthAccountMiddleware.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetAuthAccount(r); !ok {
			slog.Debug("Unauthenticated request to protected resource", "path", r.URL.Path)
			unauthorized(w, r, http.StatusText(http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]interface{}{
		"success": false,
		"message": message,
		"code":    string(idmerrors.ErrCodeUnauthorized),
	})
}
