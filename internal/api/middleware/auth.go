package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/example/supply-marketplace/internal/auth"
)

const accessTokenCookie = "access_token"

var (
	errMissingToken = fmt.Errorf("%w: missing access token", apperr.ErrUnauthorized)
	errNoIdentity   = fmt.Errorf("%w: request carries no identity", apperr.ErrUnauthorized)
)

// failure has the same shape as the API's error envelope.
type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind"`
}

func deny(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, apperr.ErrForbidden) {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(failure{Error: err.Error(), Kind: apperr.KindOf(err)})
}

// ExtractToken returns the access token from the access_token cookie, or
// from a Bearer Authorization header when there is no cookie.
func ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie(accessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || scheme != "Bearer" {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate resolves the caller of r.
func Authenticate(jwtService *auth.JWTService, r *http.Request) (*auth.Claims, error) {
	token := ExtractToken(r)
	if token == "" {
		return nil, errMissingToken
	}
	claims, err := jwtService.ValidateAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	return claims, nil
}

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware rejects requests without a valid access token.
func AuthMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := Authenticate(jwtService, r)
			if err != nil {
				deny(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// OptionalAuthMiddleware attaches the caller's claims when a valid token is
// present and lets anonymous requests through. Catalog reads use it so that
// prices follow the caller's tier.
func OptionalAuthMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, err := Authenticate(jwtService, r); err == nil {
				r = r.WithContext(WithClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits callers holding one of roles. It must run after
// AuthMiddleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok {
				deny(w, errNoIdentity)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				deny(w, fmt.Errorf("%w: role %s may not %s %s", apperr.ErrForbidden, claims.Role, r.Method, r.URL.Path))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

func GetUserFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	return claims, ok
}

func GetUserID(ctx context.Context) string {
	if claims, ok := GetUserFromContext(ctx); ok {
		return claims.UserID
	}
	return ""
}
