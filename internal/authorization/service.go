package authorization

import (
	"context"
	"errors"
)

// Service answers "may this actor perform this action on this object
// within this group".
type Service interface {
	Authorize(ctx context.Context, actor string, groupID string, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidGroup  = errors.New("invalid_group")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
