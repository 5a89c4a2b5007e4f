// Package domain contains persistence models for the subscription service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Plan is a purchasable subscription tier. Limits are denormalized onto
// usage summaries when a period opens, so editing a plan never rewrites
// history.
type Plan struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	Code            string          `gorm:"type:text;not null;uniqueIndex:ux_plans_code" json:"code"`
	Name            string          `gorm:"type:text;not null" json:"name"`
	Description     string          `gorm:"type:text" json:"description"`
	Price           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Currency        string          `gorm:"type:text;not null;default:'USD'" json:"currency"`
	LLMTokenLimit   int64           `gorm:"not null" json:"llm_token_limit"`
	VoiceTokenLimit int64           `gorm:"not null" json:"voice_token_limit"`
	MaxUsers        int64           `gorm:"not null;default:0" json:"max_users"`
	IsActive        bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// BillingPeriodDays is the length of a subscription billing period.
const BillingPeriodDays = 30

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription binds a group to a plan. The current billing period is
// carried on the row; usage summaries open against it.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	GroupID            snowflake.ID       `gorm:"not null;index:idx_subscriptions_group" json:"group_id"`
	PlanID             snowflake.ID       `gorm:"not null;index" json:"plan_id"`
	Status             SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	StartedAt          time.Time          `gorm:"not null" json:"started_at"`
	EndedAt            *time.Time         `json:"ended_at,omitempty"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// PaymentHistory records subscription payments.
type PaymentHistory struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	GroupID        snowflake.ID      `gorm:"not null;index" json:"group_id"`
	SubscriptionID snowflake.ID      `gorm:"not null;index" json:"subscription_id"`
	Amount         decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency       string            `gorm:"type:text;not null;default:'USD'" json:"currency"`
	Status         string            `gorm:"type:text;not null" json:"status"`
	Reference      string            `gorm:"type:text" json:"reference"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (PaymentHistory) TableName() string { return "payment_histories" }
