package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	applicationdomain "github.com/omnifin/platform/internal/application/domain"
	"github.com/omnifin/platform/internal/clock"
	groupdomain "github.com/omnifin/platform/internal/group/domain"
	"github.com/omnifin/platform/internal/metrics"
	progressdomain "github.com/omnifin/platform/internal/progress/domain"
	"github.com/omnifin/platform/internal/ratelimit"
	"github.com/omnifin/platform/pkg/db"
	"github.com/omnifin/platform/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AppSvc   applicationdomain.Service
	GroupSvc groupdomain.Service
	Limiter  *ratelimit.UsageRecordLimiter `optional:"true"`
	Metrics  *metrics.Metrics              `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	appSvc   applicationdomain.Service
	groupSvc groupdomain.Service
	limiter  *ratelimit.UsageRecordLimiter
	metrics  *metrics.Metrics

	progressRepo repository.Repository[progressdomain.ApplicationProgress]
}

func NewService(p ServiceParam) progressdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("progress.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		appSvc:   p.AppSvc,
		groupSvc: p.GroupSvc,
		limiter:  p.Limiter,
		metrics:  p.Metrics,

		progressRepo: repository.ProvideStore[progressdomain.ApplicationProgress](p.DB),
	}
}

func (s *Service) GetProgress(ctx context.Context, applicationID snowflake.ID) (*progressdomain.ProgressState, error) {
	app, err := s.appSvc.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	var progress *progressdomain.ApplicationProgress
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var innerErr error
		progress, innerErr = s.getOrCreate(ctx, tx, app.ID)
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	return s.buildState(progress)
}

func (s *Service) CompleteStep(ctx context.Context, req progressdomain.CompleteStepRequest) (*progressdomain.ProgressState, error) {
	// Step 0 is pre-completed at creation and carries no actor; it is
	// never completed through this path.
	if req.Step < 1 || req.Step >= progressdomain.StepCount {
		return nil, progressdomain.ErrInvalidStep
	}
	if req.Decision != "" && !validDecision(req.Decision) {
		return nil, progressdomain.ErrInvalidDecision
	}

	app, err := s.appSvc.Get(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOperator(ctx, app.GroupID, req.ActorID); err != nil {
		return nil, err
	}

	release, err := s.acquireWorkflowLock(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clock.Now()
	var progress *progressdomain.ApplicationProgress
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		progress, err = s.lockProgress(ctx, tx, app.ID)
		if err != nil {
			return err
		}

		steps, err := progress.DecodeSteps()
		if err != nil {
			return err
		}

		slot := &steps[req.Step]
		slot.Completed = true
		completedAt := now
		slot.CompletedAt = &completedAt
		actorID := req.ActorID
		slot.CompletedBy = &actorID
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			slot.Notes = notes
		}
		switch req.Step {
		case 2:
			slot.DocumentsVerified = mergeBoolMap(slot.DocumentsVerified, req.DocumentsVerified)
		case 3:
			slot.CreditCheckResult = mergeAnyMap(slot.CreditCheckResult, req.CreditCheckResult)
		case 4:
			if req.Decision != "" {
				slot.Decision = req.Decision
			}
		}

		// Out-of-order completions never move the pointer.
		if progress.CurrentStep == req.Step && req.Step < progressdomain.StepCount-1 {
			progress.CurrentStep = req.Step + 1
		}

		if err := progress.EncodeSteps(steps); err != nil {
			return err
		}
		progress.UpdatedAt = now
		return s.progressRepo.WithTrx(tx).Update(ctx, progress)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncStepCompleted(progressdomain.StepNames[req.Step])

	// A step-4 decision drives the application status through the
	// canonical writer so history is always appended.
	if req.Step == 4 && req.Decision != "" {
		status := applicationdomain.StatusApproved
		if req.Decision == progressdomain.DecisionRejected {
			status = applicationdomain.StatusRejected
		}
		if _, err := s.appSvc.UpdateStatus(ctx, app.ID, status, req.Notes, &req.ActorID); err != nil {
			return nil, err
		}
	}

	return s.buildState(progress)
}

func (s *Service) SetCurrentStep(ctx context.Context, req progressdomain.SetCurrentStepRequest) (*progressdomain.ProgressState, error) {
	if req.Step < 0 || req.Step >= progressdomain.StepCount {
		return nil, progressdomain.ErrInvalidStep
	}
	if req.Decision != "" && !validDecision(req.Decision) {
		return nil, progressdomain.ErrInvalidDecision
	}

	app, err := s.appSvc.Get(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOperator(ctx, app.GroupID, req.ActorID); err != nil {
		return nil, err
	}

	release, err := s.acquireWorkflowLock(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clock.Now()
	var progress *progressdomain.ApplicationProgress
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		progress, err = s.lockProgress(ctx, tx, app.ID)
		if err != nil {
			return err
		}

		// The pointer is forced regardless of the completion flags.
		// Divergence between the two is an accepted admin capability,
		// surfaced to operators via the warning below.
		progress.CurrentStep = req.Step
		progress.UpdatedAt = now
		return s.progressRepo.WithTrx(tx).Update(ctx, progress)
	})
	if err != nil {
		return nil, err
	}

	if steps, decodeErr := progress.DecodeSteps(); decodeErr == nil {
		if req.Step > 0 && !steps[req.Step-1].Completed {
			s.log.Warn("current step set beyond completed steps",
				zap.String("application_id", app.ID.String()),
				zap.Int("current_step", req.Step),
			)
		}
	}

	if status := statusForStep(req.Step, req.Decision); status != "" {
		if _, err := s.appSvc.UpdateStatus(ctx, app.ID, status, req.Notes, &req.ActorID); err != nil {
			return nil, err
		}
	}

	return s.buildState(progress)
}

// statusForStep maps a forced step to the application status it drives.
// Step 0 leaves the status untouched.
func statusForStep(step int, decision progressdomain.Decision) applicationdomain.ApplicationStatus {
	switch step {
	case 1:
		return applicationdomain.StatusUnderReview
	case 2:
		return applicationdomain.StatusDocumentsVerified
	case 3:
		return applicationdomain.StatusCreditCheck
	case 4:
		switch decision {
		case progressdomain.DecisionApproved:
			return applicationdomain.StatusApproved
		case progressdomain.DecisionRejected:
			return applicationdomain.StatusRejected
		default:
			return applicationdomain.StatusUnderReview
		}
	case 5:
		return applicationdomain.StatusFunded
	}
	return ""
}

func (s *Service) requireOperator(ctx context.Context, groupID snowflake.ID, actorID snowflake.ID) error {
	if actorID == 0 {
		return progressdomain.ErrNotAuthorized
	}
	role, err := s.groupSvc.MemberRole(ctx, groupID, actorID)
	if err != nil {
		if err == groupdomain.ErrNotMember {
			return progressdomain.ErrNotAuthorized
		}
		return err
	}
	switch role {
	case groupdomain.RoleAdmin, groupdomain.RoleStaff:
		return nil
	}
	return progressdomain.ErrNotAuthorized
}

// acquireWorkflowLock serializes step mutations per application across
// replicas when redis is configured. Without redis the DB row lock is
// the only serialization.
func (s *Service) acquireWorkflowLock(ctx context.Context, applicationID snowflake.ID) (func(), error) {
	if !s.limiter.Enabled() {
		return func() {}, nil
	}
	token, ok, err := s.limiter.TryLockApplication(ctx, applicationID.String())
	if err != nil {
		s.log.Warn("workflow lock unavailable, relying on row locks", zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, progressdomain.ErrLocked
	}
	return func() {
		if err := s.limiter.ReleaseApplication(ctx, applicationID.String(), token); err != nil {
			s.log.Warn("workflow lock release failed", zap.Error(err))
		}
	}, nil
}

func (s *Service) lockProgress(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID) (*progressdomain.ApplicationProgress, error) {
	var progress progressdomain.ApplicationProgress
	var err error
	if db.SupportsRowLocks(tx) {
		err = tx.WithContext(ctx).Raw(
			`SELECT * FROM application_progresses WHERE application_id = ? FOR UPDATE`,
			applicationID,
		).Scan(&progress).Error
	} else {
		err = tx.WithContext(ctx).
			Where("application_id = ?", applicationID).
			Limit(1).
			Find(&progress).Error
	}
	if err != nil {
		return nil, err
	}
	if progress.ID != 0 {
		return &progress, nil
	}
	return s.create(ctx, tx, applicationID)
}

func (s *Service) getOrCreate(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID) (*progressdomain.ApplicationProgress, error) {
	existing, err := s.progressRepo.WithTrx(tx).FindOne(ctx, progressdomain.ApplicationProgress{
		ApplicationID: applicationID,
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.create(ctx, tx, applicationID)
}

func (s *Service) create(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID) (*progressdomain.ApplicationProgress, error) {
	now := s.clock.Now()
	progress := progressdomain.ApplicationProgress{
		ID:            s.genID.Generate(),
		ApplicationID: applicationID,
		CurrentStep:   0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := progress.EncodeSteps(progressdomain.InitialSteps(now)); err != nil {
		return nil, err
	}
	if err := s.progressRepo.WithTrx(tx).Create(ctx, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

func (s *Service) buildState(progress *progressdomain.ApplicationProgress) (*progressdomain.ProgressState, error) {
	steps, err := progress.DecodeSteps()
	if err != nil {
		return nil, err
	}

	state := &progressdomain.ProgressState{
		ApplicationID: progress.ApplicationID.String(),
		CurrentStep:   progress.CurrentStep,
		UpdatedAt:     progress.UpdatedAt,
	}
	for i := range steps {
		view := progressdomain.StepView{
			Name:              progressdomain.StepNames[i],
			Completed:         steps[i].Completed,
			CompletedAt:       steps[i].CompletedAt,
			Notes:             steps[i].Notes,
			DocumentsVerified: steps[i].DocumentsVerified,
			CreditCheckResult: steps[i].CreditCheckResult,
			Decision:          steps[i].Decision,
		}
		if steps[i].CompletedBy != nil {
			view.CompletedBy = steps[i].CompletedBy.String()
		}
		state.Steps[i] = view
	}
	return state, nil
}

func validDecision(decision progressdomain.Decision) bool {
	switch decision {
	case progressdomain.DecisionApproved, progressdomain.DecisionRejected:
		return true
	}
	return false
}

func mergeBoolMap(dst, src map[string]bool) map[string]bool {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]bool, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func mergeAnyMap(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
