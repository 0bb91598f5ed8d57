package auth

import (
	"net/http"
	"strings"

	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/httputil"
	"github.com/storefront/storefront-backend/pkg/logger"
)

// AdminAuth validates the bearer token and puts the admin on the request context.
// Requests whose role is not in roles are rejected with 403.
func AdminAuth(v *Verifier, log *logger.Logger, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.Error(w, errors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				httputil.Error(w, errors.Unauthorized("invalid authorization header format"))
				return
			}

			claims, err := v.ValidateAccessToken(parts[1])
			if err != nil {
				log.WithRequestID(httputil.GetRequestID(r.Context())).Debug().Err(err).Msg("token validation failed")
				httputil.Error(w, err)
				return
			}

			if len(allowed) > 0 && !allowed[claims.Role] {
				httputil.Error(w, errors.Forbidden("insufficient role"))
				return
			}

			ctx := httputil.WithAdminContext(r.Context(), claims.AdminID, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
