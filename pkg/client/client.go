package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

// AuthAccount is the caller identity taken from a verified access token.
type AuthAccount struct {
	AccountID uuid.UUID
	Email     string
}

func (a AuthAccount) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("account_id", a.AccountID.String()),
		slog.String("email", a.Email),
	)
}

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "email context value " + k.name
}

const ACCESS_TOKEN_NAME = "access_token"

var AuthAccountKey = &contextKey{"AuthAccount"}

// GetAuthAccount returns the account stored by AuthAccountMiddleware.
func GetAuthAccount(r *http.Request) (*AuthAccount, bool) {
	account, ok := r.Context().Value(AuthAccountKey).(*AuthAccount)
	return account, ok && account != nil
}

// WithAuthAccount stores account in ctx.
func WithAuthAccount(ctx context.Context, account *AuthAccount) context.Context {
	return context.WithValue(ctx, AuthAccountKey, account)
}

// Verifier looks for the access token in the Authorization header, then in the cookie.
func Verifier(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Verify(ja, jwtauth.TokenFromHeader, TokenFromCookie)(next)
	}
}

func TokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(ACCESS_TOKEN_NAME)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// IssueToken signs an access token for accountID. The email claim is optional.
func IssueToken(ja *jwtauth.JWTAuth, accountID uuid.UUID, email string, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{
		"sub": accountID.String(),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	_, tokenString, err := ja.Encode(claims)
	return tokenString, err
}
