// Package domain contains persistence models for the workflow progress
// service.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// StepCount is the fixed number of workflow steps.
const StepCount = 6

// Step names, in order.
var StepNames = [StepCount]string{
	"submitted",
	"initial_review",
	"document_verification",
	"credit_check",
	"final_approval",
	"funding",
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// StepState is one slot of the six-step completion array. The payload
// fields are step-specific: DocumentsVerified for step 2,
// CreditCheckResult for step 3, Decision for step 4.
type StepState struct {
	Completed         bool            `json:"completed"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CompletedBy       *snowflake.ID   `json:"completed_by,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	DocumentsVerified map[string]bool `json:"documents_verified,omitempty"`
	CreditCheckResult map[string]any  `json:"credit_check_result,omitempty"`
	Decision          Decision        `json:"decision,omitempty"`
}

// ApplicationProgress tracks the six-step review workflow for one
// application. CurrentStep is a pointer independent of the completion
// flags: the admin override can move it anywhere in 0..5.
type ApplicationProgress struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	ApplicationID snowflake.ID   `gorm:"not null;uniqueIndex:ux_application_progresses_app" json:"application_id"`
	CurrentStep   int            `gorm:"not null;default:0" json:"current_step"`
	Steps         datatypes.JSON `gorm:"type:jsonb;not null" json:"steps"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ApplicationProgress) TableName() string { return "application_progresses" }

// DecodeSteps unpacks the serialized step array.
func (p *ApplicationProgress) DecodeSteps() ([StepCount]StepState, error) {
	var steps [StepCount]StepState
	if len(p.Steps) == 0 {
		return steps, nil
	}
	if err := json.Unmarshal(p.Steps, &steps); err != nil {
		return steps, err
	}
	return steps, nil
}

// EncodeSteps serializes the step array back onto the row.
func (p *ApplicationProgress) EncodeSteps(steps [StepCount]StepState) error {
	raw, err := json.Marshal(steps)
	if err != nil {
		return err
	}
	p.Steps = datatypes.JSON(raw)
	return nil
}

// InitialSteps returns a fresh step array with step 0 pre-completed at
// the given time and no actor.
func InitialSteps(at time.Time) [StepCount]StepState {
	var steps [StepCount]StepState
	completedAt := at
	steps[0] = StepState{
		Completed:   true,
		CompletedAt: &completedAt,
	}
	return steps
}
