// Package domain contains persistence models for the commission service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TriggerApplicationSubmitted = "application_submitted"
	TriggerApplicationApproved  = "application_approved"
	TriggerLoanFunded           = "loan_funded"
)

type CommissionType string

const (
	CommissionTypePercentage CommissionType = "percentage"
	CommissionTypeFixed      CommissionType = "fixed"
)

// CommissionRule maps a trigger event to a payout formula. Rules are
// group-scoped; the cheapest matching active rule wins.
type CommissionRule struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	GroupID        snowflake.ID    `gorm:"not null;index:idx_commission_rules_group_trigger,priority:1" json:"group_id"`
	TriggerEvent   string          `gorm:"type:text;not null;index:idx_commission_rules_group_trigger,priority:2" json:"trigger_event"`
	CommissionType CommissionType  `gorm:"type:text;not null" json:"commission_type"`
	Rate           decimal.Decimal `gorm:"type:numeric(8,4);not null" json:"rate"`
	MinAmount      decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"min_amount"`
	MaxAmount      decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"max_amount"`
	IsActive       bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CommissionRule) TableName() string { return "commission_rules" }

type CommissionStatus string

const (
	CommissionStatusPending   CommissionStatus = "pending"
	CommissionStatusApproved  CommissionStatus = "approved"
	CommissionStatusPaid      CommissionStatus = "paid"
	CommissionStatusCancelled CommissionStatus = "cancelled"
	CommissionStatusDisputed  CommissionStatus = "disputed"
)

// Commission is a payable owed to a referring broker. Created once per
// triggering event; only its status ever changes afterwards.
type Commission struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	GroupID       snowflake.ID      `gorm:"not null;index" json:"group_id"`
	ApplicationID snowflake.ID      `gorm:"not null;index:idx_commissions_app_trigger,priority:1" json:"application_id"`
	BrokerID      snowflake.ID      `gorm:"not null;index" json:"broker_id"`
	TriggerEvent  string            `gorm:"type:text;not null;index:idx_commissions_app_trigger,priority:2" json:"trigger_event"`
	RuleID        snowflake.ID      `gorm:"not null" json:"rule_id"`
	BaseAmount    decimal.Decimal   `gorm:"type:numeric(14,2);not null" json:"base_amount"`
	Rate          decimal.Decimal   `gorm:"type:numeric(8,4);not null" json:"rate"`
	Amount        decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"amount"`
	Status        CommissionStatus  `gorm:"type:text;not null;index" json:"status"`
	PayoutBatchID *snowflake.ID     `gorm:"index" json:"payout_batch_id,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	ApprovedAt    *time.Time        `json:"approved_at,omitempty"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Commission) TableName() string { return "commissions" }

type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusCompleted PayoutStatus = "completed"
	PayoutStatusFailed    PayoutStatus = "failed"
)

// PayoutBatch groups approved commissions into one payment run.
type PayoutBatch struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	GroupID     snowflake.ID    `gorm:"not null;index" json:"group_id"`
	Reference   string          `gorm:"type:text;not null;uniqueIndex:ux_payout_batches_reference" json:"reference"`
	BrokerID    snowflake.ID    `gorm:"not null;index" json:"broker_id"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"total_amount"`
	Count       int             `gorm:"not null" json:"count"`
	Status      PayoutStatus    `gorm:"type:text;not null" json:"status"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (PayoutBatch) TableName() string { return "payout_batches" }
