package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleAdmin     = "ADMIN"
	RoleStaff     = "STAFF"
	RoleBroker    = "BROKER"
	RoleApplicant = "APPLICANT"
)

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateGroupRequest) (*GroupResponse, error)
	GetByID(ctx context.Context, id string) (*GroupResponse, error)
	AddMember(ctx context.Context, groupID snowflake.ID, userID snowflake.ID, role string) error
	ListMembers(ctx context.Context, groupID snowflake.ID) ([]MemberResponse, error)
	MemberRole(ctx context.Context, groupID snowflake.ID, userID snowflake.ID) (string, error)
}

type CreateGroupRequest struct {
	Name string
}

type GroupResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

type MemberResponse struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidUser   = errors.New("invalid_user")
	ErrInvalidGroup  = errors.New("invalid_group")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrNotMember     = errors.New("not_member")
	ErrDuplicateSlug = errors.New("duplicate_slug")
)

// ValidRole reports whether role is one of the known group roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleStaff, RoleBroker, RoleApplicant:
		return true
	}
	return false
}
