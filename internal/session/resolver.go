package session

import (
	"context"

	"github.com/sirupsen/logrus"

	"tareas/internal/domain"
	"tareas/internal/engine/auth"
)

// IdentityFetcher is the backend call that returns the current user.
type IdentityFetcher interface {
	Me(ctx context.Context) (domain.Identity, error)
}

// Resolver turns stored credentials into an auth.Status. It keeps no state;
// every call asks the backend again.
type Resolver struct {
	Tokens  interface{ AccessToken(context.Context) (string, error) }
	Backend IdentityFetcher
	Logger  *logrus.Logger
}

// Resolve never fails: missing credentials, transport errors, rejected tokens
// and malformed identities all resolve to unauthenticated.
func (r Resolver) Resolve(ctx context.Context) auth.Status {
	token, err := r.Tokens.AccessToken(ctx)
	if err != nil || token == "" {
		return auth.Unauthenticated()
	}
	me, err := r.Backend.Me(ctx)
	if err != nil {
		r.logger().WithError(err).Debug("identity lookup failed")
		return auth.Unauthenticated()
	}
	if me.ID == 0 || me.Username == "" {
		r.logger().Debug("identity payload missing id or username")
		return auth.Unauthenticated()
	}
	return auth.Authenticated(me)
}

func (r Resolver) logger() *logrus.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logrus.StandardLogger()
}
