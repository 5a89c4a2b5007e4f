package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/omnifin/platform/internal/subscription/domain"
	"github.com/shopspring/decimal"
)

type Service interface {
	// RecordUsage appends one immutable ledger row and synchronously
	// recomputes the period summary before returning.
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*TokenUsage, error)
	RecomputeSummary(ctx context.Context, subscriptionID snowflake.ID) (*UsageSummary, error)
	GetUsageSummary(ctx context.Context, subscriptionID snowflake.ID) (*SummaryView, error)
	// CheckUsageLimits never mutates state. When no summary row exists
	// it evaluates against a zero-usage view without persisting one.
	CheckUsageLimits(ctx context.Context, subscriptionID snowflake.ID) (*LimitCheck, error)
	GetGroupUsage(ctx context.Context, groupID snowflake.ID) (*SummaryView, error)
}

type RecordUsageRequest struct {
	SubscriptionID snowflake.ID
	UsageType      UsageType
	Tokens         int64
	Feature        string
	ActorID        *snowflake.ID
	Metadata       map[string]any
}

// ResourceUsage is one metered resource within a summary view.
// Percentage is rounded to two decimal places for display only.
type ResourceUsage struct {
	Used         int64           `json:"used"`
	Limit        int64           `json:"limit"`
	Percentage   decimal.Decimal `json:"percentage"`
	WarningSent  bool            `json:"warning_sent"`
	LimitReached bool            `json:"limit_reached"`
}

// SummaryView is the read model returned to callers.
type SummaryView struct {
	SubscriptionID string        `json:"subscription_id"`
	GroupID        string        `json:"group_id"`
	PeriodStart    time.Time     `json:"period_start"`
	PeriodEnd      time.Time     `json:"period_end"`
	LLM            ResourceUsage `json:"llm"`
	Voice          ResourceUsage `json:"voice"`
}

type WarningLevel string

const (
	WarningLevelWarning WarningLevel = "warning"
	WarningLevelError   WarningLevel = "error"
)

type LimitWarning struct {
	Resource   string          `json:"resource"`
	Level      WarningLevel    `json:"level"`
	Message    string          `json:"message"`
	Percentage decimal.Decimal `json:"percentage"`
}

type LimitCheck struct {
	Warnings         []LimitWarning          `json:"warnings"`
	SuggestedUpgrade *subscriptiondomain.Plan `json:"suggested_upgrade,omitempty"`
}

var (
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrInvalidUsageType      = errors.New("invalid_usage_type")
	ErrInvalidTokens         = errors.New("invalid_tokens")
	ErrInvalidGroup          = errors.New("invalid_group")
	ErrRateLimited           = errors.New("rate_limited")
)

// ValidUsageType reports whether t is a known usage type.
func ValidUsageType(t UsageType) bool {
	switch t {
	case UsageTypeLLM, UsageTypeVoice:
		return true
	}
	return false
}
