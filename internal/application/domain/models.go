// Package domain contains persistence models for the application service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type ApplicationStatus string

const (
	StatusPending     ApplicationStatus = "pending"
	StatusSubmitted   ApplicationStatus = "submitted"
	StatusUnderReview ApplicationStatus = "under_review"
	// StatusDocumentsVerified and StatusCreditCheck are written by the
	// workflow engine's step overrides, not by reviewers directly.
	StatusDocumentsVerified ApplicationStatus = "documents_verified"
	StatusCreditCheck       ApplicationStatus = "credit_check"
	StatusApproved          ApplicationStatus = "approved"
	StatusRejected          ApplicationStatus = "rejected"
	StatusFunded            ApplicationStatus = "funded"
	StatusCancelled         ApplicationStatus = "cancelled"
)

// ValidStatus reports whether status is a known application status.
func ValidStatus(status ApplicationStatus) bool {
	switch status {
	case StatusPending, StatusSubmitted, StatusUnderReview,
		StatusDocumentsVerified, StatusCreditCheck,
		StatusApproved, StatusRejected, StatusFunded, StatusCancelled:
		return true
	}
	return false
}

// Application is a loan request moving through the review workflow.
type Application struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	GroupID           snowflake.ID      `gorm:"not null;index" json:"group_id"`
	ApplicationNumber string            `gorm:"type:text;not null;uniqueIndex:ux_applications_number" json:"application_number"`
	ApplicantID       snowflake.ID      `gorm:"not null;index" json:"applicant_id"`
	BrokerID          *snowflake.ID     `gorm:"index" json:"broker_id,omitempty"`
	LoanType          string            `gorm:"type:text;not null" json:"loan_type"`
	LoanPurpose       string            `gorm:"type:text" json:"loan_purpose"`
	Amount            decimal.Decimal   `gorm:"type:numeric(14,2);not null" json:"amount"`
	TermMonths        int               `gorm:"not null" json:"term_months"`
	InterestRate      decimal.Decimal   `gorm:"type:numeric(6,3)" json:"interest_rate"`
	Status            ApplicationStatus `gorm:"type:text;not null;index" json:"status"`
	Metadata          datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	SubmittedAt       *time.Time        `json:"submitted_at,omitempty"`
	DecisionAt        *time.Time        `json:"decision_at,omitempty"`
	FundedAt          *time.Time        `json:"funded_at,omitempty"`
	CreatedAt         time.Time         `gorm:"not null;index;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Application) TableName() string { return "applications" }

// ApplicationStatusHistory is an immutable audit row. Every status
// mutation appends exactly one row.
type ApplicationStatusHistory struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	ApplicationID snowflake.ID      `gorm:"not null;index:idx_status_histories_app_created,priority:1" json:"application_id"`
	Status        ApplicationStatus `gorm:"type:text;not null" json:"status"`
	Notes         string            `gorm:"type:text" json:"notes"`
	ChangedBy     *snowflake.ID     `json:"changed_by,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;index:idx_status_histories_app_created,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (ApplicationStatusHistory) TableName() string { return "application_status_histories" }
