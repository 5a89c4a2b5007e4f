package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/omnifin/platform/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

type Service interface {
	Create(ctx context.Context, req CreateApplicationRequest) (*Application, error)
	Get(ctx context.Context, applicationID snowflake.ID) (*Application, error)
	List(ctx context.Context, req ListApplicationsRequest) (ListApplicationsResponse, error)
	// Submit moves a pending application to submitted, stamps the
	// submission date and fires the application_submitted commission
	// trigger.
	Submit(ctx context.Context, applicationID snowflake.ID, actorID *snowflake.ID) (*Application, error)
	// UpdateStatus is the only writer of Application.Status. It always
	// appends a status history row, stamps decision/funding dates and
	// fires commission triggers for approved and funded.
	UpdateStatus(ctx context.Context, applicationID snowflake.ID, status ApplicationStatus, notes string, actorID *snowflake.ID) (*Application, error)
	StatusHistory(ctx context.Context, applicationID snowflake.ID) ([]ApplicationStatusHistory, error)
}

type CreateApplicationRequest struct {
	GroupID      snowflake.ID
	ApplicantID  snowflake.ID
	BrokerID     *snowflake.ID
	LoanType     string
	LoanPurpose  string
	Amount       decimal.Decimal
	TermMonths   int
	InterestRate decimal.Decimal
	Metadata     map[string]any
}

type ListApplicationsRequest struct {
	GroupID     snowflake.ID
	ApplicantID *snowflake.ID
	BrokerID    *snowflake.ID
	Status      ApplicationStatus
	Page        pagination.Pagination
}

type ListApplicationsResponse struct {
	Applications []Application        `json:"applications"`
	PageInfo     *pagination.PageInfo `json:"page_info"`
}

var (
	ErrApplicationNotFound = errors.New("application_not_found")
	ErrInvalidGroup        = errors.New("invalid_group")
	ErrInvalidApplicant    = errors.New("invalid_applicant")
	ErrInvalidLoanType     = errors.New("invalid_loan_type")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidTerm         = errors.New("invalid_term")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrNotSubmittable      = errors.New("not_submittable")
)
