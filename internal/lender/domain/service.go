package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/omnifin/platform/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

var (
	ErrLenderNotFound       = errors.New("lender_not_found")
	ErrOfferNotFound        = errors.New("offer_not_found")
	ErrInvalidGroup         = errors.New("invalid_group")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidLoanBounds    = errors.New("invalid_loan_bounds")
	ErrLenderInactive       = errors.New("lender_inactive")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidTerm          = errors.New("invalid_term")
	ErrOfferNotPending      = errors.New("offer_not_pending")
	ErrOfferAlreadyAccepted = errors.New("offer_already_accepted")
	ErrDuplicateCode        = errors.New("duplicate_code")
)

type AddLenderRequest struct {
	GroupID        snowflake.ID    `json:"group_id"`
	Name           string          `json:"name"`
	Code           string          `json:"code"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	MinLoanAmount  decimal.Decimal `json:"min_loan_amount"`
	MaxLoanAmount  decimal.Decimal `json:"max_loan_amount"`
	SupportedTypes []string        `json:"supported_types"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

type ListLendersRequest struct {
	GroupID snowflake.ID
	Page    pagination.Pagination
}

type ListLendersResponse struct {
	Lenders  []Lender             `json:"lenders"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type CreateOfferRequest struct {
	ApplicationID snowflake.ID    `json:"application_id"`
	LenderID      snowflake.ID    `json:"lender_id"`
	Amount        decimal.Decimal `json:"amount"`
	InterestRate  decimal.Decimal `json:"interest_rate"`
	TermMonths    int             `json:"term_months"`
	ActorID       snowflake.ID    `json:"actor_id"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

type Service interface {
	AddLender(ctx context.Context, req AddLenderRequest) (*Lender, error)
	GetLender(ctx context.Context, lenderID snowflake.ID) (*Lender, error)
	ListLenders(ctx context.Context, req ListLendersRequest) (ListLendersResponse, error)
	SetLenderActive(ctx context.Context, lenderID snowflake.ID, active bool) (*Lender, error)

	// MatchLenders returns the group's active lenders whose loan bounds
	// cover the application's amount and whose supported types include
	// its loan type.
	MatchLenders(ctx context.Context, applicationID snowflake.ID) ([]Lender, error)

	CreateOffer(ctx context.Context, req CreateOfferRequest) (*LoanOffer, error)
	ListOffers(ctx context.Context, applicationID snowflake.ID) ([]LoanOffer, error)

	// AcceptOffer marks one offer accepted, rejects its pending
	// siblings, and drives the application to "approved".
	AcceptOffer(ctx context.Context, offerID snowflake.ID, actorID snowflake.ID) (*LoanOffer, error)
}
