package shared

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Trusted headers set by the authenticating portal gateway.
const (
	HeaderActorID   = "X-Portal-User"
	HeaderActorRole = "X-Portal-Role"
)

// Actor describes the authenticated caller of an administrative action.
type Actor struct {
	UserID    string
	Role      string
	IPAddress string
	UserAgent string
}

// Anonymous reports whether no user was attached to the request.
func (a Actor) Anonymous() bool {
	return strings.TrimSpace(a.UserID) == ""
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ActorFromRequest builds an Actor from gateway headers and connection metadata.
// RemoteAddr is expected to be rewritten by chi's RealIP middleware.
func ActorFromRequest(r *http.Request) Actor {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return Actor{
		UserID:    strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Role:      strings.TrimSpace(r.Header.Get(HeaderActorRole)),
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}
