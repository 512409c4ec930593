package auth

import (
	"net/http"

	"github.com/frahmantamala/consulthub/internal"
	"github.com/frahmantamala/consulthub/internal/transport"
	"github.com/frahmantamala/consulthub/pkg/logger"
)

type Authenticator struct {
	*transport.BaseHandler
	verifier TokenVerifier
}

func NewAuthenticator(base *transport.BaseHandler, verifier TokenVerifier) *Authenticator {
	return &Authenticator{BaseHandler: base, verifier: verifier}
}

// Middleware verifies the bearer token and puts the principal id on the
// request context and its logger.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := a.ExtractTokenFromHeader(r)
		if token == "" {
			a.WriteError(w, r, internal.NewUnauthorizedError("missing authorization token", internal.ErrCodeInvalidToken))
			return
		}

		claims, err := a.verifier.Verify(token)
		if err != nil {
			a.WriteError(w, r, err)
			return
		}

		ctx := internal.ContextWithActorID(r.Context(), claims.Principal())
		ctx = logger.With(ctx, "principal_id", claims.Principal())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
