package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	ListPlans(ctx context.Context, includeInactive bool) ([]Plan, error)
	GetPlan(ctx context.Context, planID snowflake.ID) (*Plan, error)
	GetActiveSubscription(ctx context.Context, groupID snowflake.ID) (*Subscription, error)
	Subscribe(ctx context.Context, groupID snowflake.ID, planCode string) (*Subscription, error)
	ChangePlan(ctx context.Context, groupID snowflake.ID, planCode string) (*Subscription, error)
	Cancel(ctx context.Context, groupID snowflake.ID) error
	// NextUpgradePlan returns the cheapest active plan strictly more
	// expensive than the group's current plan, or nil when the group is
	// already on the top tier.
	NextUpgradePlan(ctx context.Context, groupID snowflake.ID) (*Plan, error)
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentHistory, error)
	ListPayments(ctx context.Context, groupID snowflake.ID) ([]PaymentHistory, error)
}

type RecordPaymentRequest struct {
	GroupID   snowflake.ID
	Amount    decimal.Decimal
	Currency  string
	Reference string
}

var (
	ErrInvalidGroup         = errors.New("invalid_group")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrPlanInactive         = errors.New("plan_inactive")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrAlreadySubscribed    = errors.New("already_subscribed")
	ErrInvalidAmount        = errors.New("invalid_amount")
)
