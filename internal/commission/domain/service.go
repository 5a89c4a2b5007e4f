package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	applicationdomain "github.com/omnifin/platform/internal/application/domain"
	"github.com/shopspring/decimal"
)

type Service interface {
	// CalculateForEvent creates a pending commission for the
	// application's broker. Returns (nil, nil) when the application has
	// no broker or no active rule matches the trigger event.
	CalculateForEvent(ctx context.Context, app *applicationdomain.Application, triggerEvent string) (*Commission, error)
	Approve(ctx context.Context, commissionID snowflake.ID, actorID *snowflake.ID) (*Commission, error)
	Cancel(ctx context.Context, commissionID snowflake.ID, reason string) (*Commission, error)
	Dispute(ctx context.Context, commissionID snowflake.ID, reason string) (*Commission, error)
	// CreatePayoutBatch collects the broker's approved commissions into
	// a PAYOUT-<ulid> batch and marks them paid.
	CreatePayoutBatch(ctx context.Context, groupID snowflake.ID, brokerID snowflake.ID) (*PayoutBatch, error)
	ProcessPayout(ctx context.Context, batchID snowflake.ID) (*PayoutBatch, error)
	ListByApplication(ctx context.Context, applicationID snowflake.ID) ([]Commission, error)
	ListByBroker(ctx context.Context, groupID snowflake.ID, brokerID snowflake.ID) ([]Commission, error)
	EarningsSummary(ctx context.Context, groupID snowflake.ID, brokerID snowflake.ID) (*EarningsSummary, error)
	// RenderStatement renders the broker's earnings statement as a PDF.
	RenderStatement(ctx context.Context, groupID snowflake.ID, brokerID snowflake.ID) ([]byte, error)
	UpsertRule(ctx context.Context, rule CommissionRule) (*CommissionRule, error)
	ListRules(ctx context.Context, groupID snowflake.ID) ([]CommissionRule, error)
}

// EarningsSummary aggregates a broker's commissions by status.
type EarningsSummary struct {
	BrokerID    string          `json:"broker_id"`
	TotalEarned decimal.Decimal `json:"total_earned"`
	Pending     decimal.Decimal `json:"pending"`
	Approved    decimal.Decimal `json:"approved"`
	Paid        decimal.Decimal `json:"paid"`
	Count       int             `json:"count"`
	GeneratedAt time.Time       `json:"generated_at"`
}

var (
	ErrCommissionNotFound = errors.New("commission_not_found")
	ErrBatchNotFound      = errors.New("batch_not_found")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrInvalidTrigger     = errors.New("invalid_trigger")
	ErrInvalidGroup       = errors.New("invalid_group")
	ErrInvalidBroker      = errors.New("invalid_broker")
	ErrInvalidRule        = errors.New("invalid_rule")
	ErrNothingToPayout    = errors.New("nothing_to_payout")
)
