// Package domain contains persistence models for the usage metering service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type UsageType string

const (
	UsageTypeLLM   UsageType = "llm"
	UsageTypeVoice UsageType = "voice"
)

// TokenUsage is one immutable ledger row. Rows are never updated or
// deleted; summaries are always recomputed from the ledger.
type TokenUsage struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	GroupID        snowflake.ID      `gorm:"not null;index" json:"group_id"`
	SubscriptionID snowflake.ID      `gorm:"not null;index:idx_token_usages_sub_created,priority:1" json:"subscription_id"`
	UsageType      UsageType         `gorm:"type:text;not null" json:"usage_type"`
	Tokens         int64             `gorm:"not null" json:"tokens"`
	Feature        string            `gorm:"type:text" json:"feature"`
	ActorID        *snowflake.ID     `gorm:"index" json:"actor_id,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt      time.Time         `gorm:"not null;index:idx_token_usages_sub_created,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (TokenUsage) TableName() string { return "token_usages" }

// UsageSummary is the per-period aggregate for one subscription. Limits
// are snapshotted from the plan when the summary row is created, so a
// mid-period plan change never rewrites an open period. Threshold flags
// only ever go from false to true within a period.
type UsageSummary struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	GroupID           snowflake.ID `gorm:"not null;index" json:"group_id"`
	SubscriptionID    snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_summaries_sub_period,priority:1" json:"subscription_id"`
	PeriodStart       time.Time    `gorm:"not null;uniqueIndex:ux_usage_summaries_sub_period,priority:2" json:"period_start"`
	PeriodEnd         time.Time    `gorm:"not null" json:"period_end"`
	LLMTokensUsed     int64        `gorm:"not null;default:0" json:"llm_tokens_used"`
	VoiceTokensUsed   int64        `gorm:"not null;default:0" json:"voice_tokens_used"`
	LLMTokensLimit    int64        `gorm:"not null" json:"llm_tokens_limit"`
	VoiceTokensLimit  int64        `gorm:"not null" json:"voice_tokens_limit"`
	LLMWarningSent    bool         `gorm:"not null;default:false" json:"llm_warning_sent"`
	VoiceWarningSent  bool         `gorm:"not null;default:false" json:"voice_warning_sent"`
	LLMLimitReached   bool         `gorm:"not null;default:false" json:"llm_limit_reached"`
	VoiceLimitReached bool         `gorm:"not null;default:false" json:"voice_limit_reached"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageSummary) TableName() string { return "usage_summaries" }
