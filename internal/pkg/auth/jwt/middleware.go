package jwt

import (
	"context"
	"net/http"
	"strings"

	"chatsync/internal/pkg/logx"
)

type contextKey string

const (
	// ContextAuthPayloadKey is the request context key holding the verified *Payload.
	ContextAuthPayloadKey contextKey = "auth_payload"
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// IdentityExtractorMiddleware verifies the bearer token when one is present and stores its Payload
// in the request context. Requests without a valid token continue anonymously; handlers that need
// an identity are wrapped with RequireIdentity (or check GetPayloadFromContext themselves).
func IdentityExtractorMiddleware(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := BearerToken(r)
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			payload, err := ParseToken(tokenString, secretKey)
			if err != nil {
				logx.Warn("Invalid or expired JWT provided, treating as anonymous", "error", err.Error())
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ContextAuthPayloadKey, payload)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireIdentity rejects requests that reached it without a verified identity.
// onMissing writes the rejection; it keeps this package free of response formatting.
func RequireIdentity(onMissing http.HandlerFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetPayloadFromContext(r) == nil {
				onMissing(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPayloadFromContext returns the verified Payload, or nil for anonymous requests.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, ok := r.Context().Value(ContextAuthPayloadKey).(*Payload)

	if !ok {
		return nil
	}

	return payload
}
