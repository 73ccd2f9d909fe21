package middleware

import (
	"errors"
	"net/http"

	"github.com/angelmondragon/eventpass-backend/api/responses"
	pkgAuth "github.com/angelmondragon/eventpass-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type tokenVerifier interface {
	Verify(raw string) (*pkgAuth.AccessTokenClaims, error)
}

// Auth resolves the bearer token into an actor on the request context.
func Auth(verifier tokenVerifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifier.Verify(pkgAuth.BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, authError(err))
				return
			}
			actor := claims.Actor()
			ctx := WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithActor(ctx, actor.UserID.String(), actor.Staff)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authError(err error) error {
	switch {
	case errors.Is(err, pkgAuth.ErrNoCredentials):
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	case errors.Is(err, pkgAuth.ErrTokenExpired):
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "token expired").WithReason(pkgerrors.ReasonTokenExpired)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}
}

// RequireStaff admits only operators. It runs after Auth.
func RequireStaff(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := RequireActor(r.Context())
			if err == nil && !actor.Staff {
				err = pkgerrors.New(pkgerrors.CodeForbidden, "staff access required")
			}
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
