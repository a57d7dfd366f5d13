package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// MiddlewareConfig configures HTTP authentication.
type MiddlewareConfig struct {
	// AllowAnonymous lets requests without credentials through as
	// AnonymousIdentity(AnonymousRoles...).
	AllowAnonymous bool
	AnonymousRoles []string
}

// Middleware authenticates each request with authn and stores the identity
// in the request context. Failures get 401; authenticator errors get 500.
func Middleware(authn Authenticator, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := RequestFromHTTP(r)

			if !authn.Supports(r.Context(), req) {
				if !cfg.AllowAnonymous {
					writeError(w, http.StatusUnauthorized, ErrMissingCredentials)
					return
				}
				ctx := WithIdentity(r.Context(), AnonymousIdentity(cfg.AnonymousRoles...))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			result, err := authn.Authenticate(r.Context(), req)
			if err != nil {
				writeError(w, http.StatusInternalServerError, errors.New("auth: authenticator unavailable"))
				return
			}
			if !result.Authenticated {
				writeError(w, http.StatusUnauthorized, result.Error)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), result.Identity)))
		})
	}
}

// Require wraps next so it only runs when authz permits action for the
// request's identity. Denials get 403.
func Require(authz Authorizer, action string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := authz.Authorize(r.Context(), &AuthzRequest{
			Subject:  IdentityFromContext(r.Context()),
			Action:   action,
			Resource: r.PathValue("name"),
		})
		if err != nil {
			writeError(w, http.StatusForbidden, ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, code int, err error) {
	if err == nil {
		err = ErrInvalidCredentials
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="modelrelay"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
