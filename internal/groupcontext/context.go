package groupcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// GroupContextKey is the request context key for the active group ID.
type GroupContextKey struct{}

// WithGroupID stores the group ID in the context.
func WithGroupID(ctx context.Context, groupID int64) context.Context {
	return context.WithValue(ctx, GroupContextKey{}, groupID)
}

// GroupIDFromContext returns the group ID from context, if set.
func GroupIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	value := ctx.Value(GroupContextKey{})
	if value == nil {
		return 0, false
	}
	switch typed := value.(type) {
	case int64:
		return snowflake.ID(typed), true
	case snowflake.ID:
		return typed, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}
