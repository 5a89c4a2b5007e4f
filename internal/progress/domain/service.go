package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// GetProgress returns the application's workflow state, creating it
	// with step 0 pre-completed when it does not exist yet.
	GetProgress(ctx context.Context, applicationID snowflake.ID) (*ProgressState, error)
	// CompleteStep marks completion evidence on steps 1..5 and
	// auto-advances the pointer only on in-order completion.
	CompleteStep(ctx context.Context, req CompleteStepRequest) (*ProgressState, error)
	// SetCurrentStep is the admin override: it force-sets the pointer
	// regardless of completion flags and drives application status
	// through the fixed step mapping.
	SetCurrentStep(ctx context.Context, req SetCurrentStepRequest) (*ProgressState, error)
}

type CompleteStepRequest struct {
	ApplicationID     snowflake.ID
	Step              int
	ActorID           snowflake.ID
	Notes             string
	DocumentsVerified map[string]bool
	CreditCheckResult map[string]any
	Decision          Decision
}

type SetCurrentStepRequest struct {
	ApplicationID snowflake.ID
	Step          int
	ActorID       snowflake.ID
	Decision      Decision
	Notes         string
}

// ProgressState is the read model returned by all operations.
type ProgressState struct {
	ApplicationID string              `json:"application_id"`
	CurrentStep   int                 `json:"current_step"`
	Steps         [StepCount]StepView `json:"steps"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type StepView struct {
	Name              string          `json:"name"`
	Completed         bool            `json:"completed"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CompletedBy       string          `json:"completed_by,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	DocumentsVerified map[string]bool `json:"documents_verified,omitempty"`
	CreditCheckResult map[string]any  `json:"credit_check_result,omitempty"`
	Decision          Decision        `json:"decision,omitempty"`
}

var (
	ErrInvalidStep     = errors.New("invalid_step")
	ErrNotAuthorized   = errors.New("not_authorized")
	ErrInvalidDecision = errors.New("invalid_decision")
	ErrLocked          = errors.New("workflow_locked")
)
