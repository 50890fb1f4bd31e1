package middleware

import (
	"context"
	"net/http"
	"strings"
)

// ActorHeader carries the authenticated caller. The gateway in front of the
// API sets it after verifying credentials.
const ActorHeader = "X-Actor-ID"

type actorKey struct{}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// Actor stores the caller identity in the request context. Requests without
// one are rejected.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			writeError(w, http.StatusUnauthorized, "missing "+ActorHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
