package middleware

import (
	"context"
	"net/http"
	"strings"

	authcore "github.com/levipshemish/jewgo-app-sub004"
)

type introspectionContextKey struct{}

// TokenFromContext returns the introspection result Guard stored for the
// current request.
func TokenFromContext(ctx context.Context) (authcore.TokenIntrospection, bool) {
	info, ok := ctx.Value(introspectionContextKey{}).(authcore.TokenIntrospection)
	return info, ok
}

// Guard rejects requests without an active bearer access token. A token whose
// session family was revoked after issuance is rejected the same way as a bad
// signature; downstream handlers read the verified identity with
// [TokenFromContext].
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := engine.IntrospectAccessToken(r.Context(), token)
			if err != nil || !info.Active {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), introspectionContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
