package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/quickbite/delivery-microservices/common/apperr"
	"github.com/quickbite/delivery-microservices/common/httpx"
)

type contextKey struct{}

// FromContext returns the principal placed by Middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// WithPrincipal is used by tests and the websocket handshake to attach a
// principal directly.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// Middleware rejects requests without a valid bearer token and attaches the
// principal to the request context.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				httpx.WriteError(w, apperr.New(apperr.KindUnauthenticated, "missing bearer token"))
				return
			}
			p, err := v.Verify(token)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
