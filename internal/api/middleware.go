/**
 * @description
 * Custom middleware for the settlement-service router: optional verification of the
 * client portal session (HS256 JWT issued by the BaaS) and the internal API key check
 * for operator endpoints.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ClientContextKey is a custom type for the context key to avoid collisions.
type ClientContextKey string

const clientEmailKey ClientContextKey = "clientEmail"

// ClientAuthMiddleware validates the client session token when secret is set. With an
// empty secret, sessions are not enforced and requests pass through unchanged.
func ClientAuthMiddleware(secret string) func(http.Handler) http.Handler {
	secret = strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			email, _ := claims["email"].(string)
			email = strings.TrimSpace(email)
			if email == "" {
				writeError(w, http.StatusUnauthorized, "Email not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), clientEmailKey, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientEmail returns the authenticated client's email, if a session was verified.
func GetClientEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(clientEmailKey).(string)
	return email, ok && email != ""
}

// InternalAuthMiddleware guards operator endpoints with the X-Internal-API-Key header.
// An empty key disables the endpoints.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	requiredKey = strings.TrimSpace(requiredKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-API-Key")
			if requiredKey == "" || provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
