package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"instancegraph/pkg/auth"
	pkgerrors "instancegraph/pkg/errors"
)

// Authenticate rejects requests without a valid bearer token and stores the
// token claims in the request context
func Authenticate(validator *auth.JWTValidator, errs *pkgerrors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				errs.Handle(w, r, pkgerrors.NewUnauthorizedError("missing authorization header"))
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				errs.Handle(w, r, pkgerrors.NewUnauthorizedError("invalid authorization header format"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.Debug("Token rejected", zap.Error(err))
				errs.Handle(w, r, pkgerrors.NewUnauthorizedError(err.Error()))
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
		})
	}
}
