package actorcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type actorIDKey struct{}
type actorRoleKey struct{}
type clientIPKey struct{}
type userAgentKey struct{}

// Actor captures who performed a request, for status history audit rows.
type Actor struct {
	ID   snowflake.ID
	Role string
}

func WithActor(ctx context.Context, id int64, role string) context.Context {
	ctx = context.WithValue(ctx, actorIDKey{}, id)
	return context.WithValue(ctx, actorRoleKey{}, role)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	raw := ctx.Value(actorIDKey{})
	if raw == nil {
		return Actor{}, false
	}

	actor := Actor{}
	switch typed := raw.(type) {
	case int64:
		actor.ID = snowflake.ID(typed)
	case snowflake.ID:
		actor.ID = typed
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err != nil {
			return Actor{}, false
		}
		actor.ID = parsed
	default:
		return Actor{}, false
	}

	if role, ok := ctx.Value(actorRoleKey{}).(string); ok {
		actor.Role = role
	}
	return actor, true
}

func WithClientInfo(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, ip)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}
