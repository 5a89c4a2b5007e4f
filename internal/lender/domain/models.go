package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Lender is a funding partner a group can place applications with.
type Lender struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	GroupID        snowflake.ID      `json:"group_id" gorm:"index"`
	Name           string            `json:"name"`
	Code           string            `json:"code" gorm:"uniqueIndex"`
	CommissionRate decimal.Decimal   `json:"commission_rate" gorm:"type:numeric(8,4)"`
	MinLoanAmount  decimal.Decimal   `json:"min_loan_amount" gorm:"type:numeric(14,2)"`
	MaxLoanAmount  decimal.Decimal   `json:"max_loan_amount" gorm:"type:numeric(14,2)"`
	SupportedTypes datatypes.JSON    `json:"supported_types"`
	IsActive       bool              `json:"is_active" gorm:"default:true"`
	Metadata       datatypes.JSONMap `json:"metadata"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferWithdrawn OfferStatus = "withdrawn"
)

// LoanOffer is a lender's terms for a specific application. Accepting
// one offer rejects its siblings.
type LoanOffer struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	GroupID       snowflake.ID      `json:"group_id" gorm:"index"`
	ApplicationID snowflake.ID      `json:"application_id" gorm:"index:idx_loan_offers_app"`
	LenderID      snowflake.ID      `json:"lender_id" gorm:"index"`
	Amount        decimal.Decimal   `json:"amount" gorm:"type:numeric(14,2)"`
	InterestRate  decimal.Decimal   `json:"interest_rate" gorm:"type:numeric(6,3)"`
	TermMonths    int               `json:"term_months"`
	Status        OfferStatus       `json:"status" gorm:"index"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	AcceptedAt    *time.Time        `json:"accepted_at,omitempty"`
	Metadata      datatypes.JSONMap `json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
