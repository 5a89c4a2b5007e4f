package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	applicationdomain "github.com/omnifin/platform/internal/application/domain"
	"github.com/omnifin/platform/internal/clock"
	commissiondomain "github.com/omnifin/platform/internal/commission/domain"
	"github.com/omnifin/platform/internal/metrics"
	progressdomain "github.com/omnifin/platform/internal/progress/domain"
	"github.com/omnifin/platform/pkg/db"
	"github.com/omnifin/platform/pkg/db/option"
	"github.com/omnifin/platform/pkg/db/pagination"
	"github.com/omnifin/platform/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxListRows caps unpaginated list queries.
const maxListRows = 250

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	CommissionSvc commissiondomain.Service
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID         *snowflake.Node
	clock         clock.Clock
	commissionSvc commissiondomain.Service
	metrics       *metrics.Metrics

	appRepo      repository.Repository[applicationdomain.Application]
	historyRepo  repository.Repository[applicationdomain.ApplicationStatusHistory]
	progressRepo repository.Repository[progressdomain.ApplicationProgress]
}

func NewService(p ServiceParam) applicationdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("application.service"),

		genID:         p.GenID,
		clock:         p.Clock,
		commissionSvc: p.CommissionSvc,
		metrics:       p.Metrics,

		appRepo:      repository.ProvideStore[applicationdomain.Application](p.DB),
		historyRepo:  repository.ProvideStore[applicationdomain.ApplicationStatusHistory](p.DB),
		progressRepo: repository.ProvideStore[progressdomain.ApplicationProgress](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req applicationdomain.CreateApplicationRequest) (*applicationdomain.Application, error) {
	if req.GroupID == 0 {
		return nil, applicationdomain.ErrInvalidGroup
	}
	if req.ApplicantID == 0 {
		return nil, applicationdomain.ErrInvalidApplicant
	}
	loanType := strings.TrimSpace(req.LoanType)
	if loanType == "" {
		return nil, applicationdomain.ErrInvalidLoanType
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, applicationdomain.ErrInvalidAmount
	}
	if req.TermMonths <= 0 {
		return nil, applicationdomain.ErrInvalidTerm
	}

	now := s.clock.Now()
	app := applicationdomain.Application{
		ID:                s.genID.Generate(),
		GroupID:           req.GroupID,
		ApplicationNumber: newApplicationNumber(),
		ApplicantID:       req.ApplicantID,
		BrokerID:          req.BrokerID,
		LoanType:          loanType,
		LoanPurpose:       strings.TrimSpace(req.LoanPurpose),
		Amount:            req.Amount,
		TermMonths:        req.TermMonths,
		InterestRate:      req.InterestRate,
		Status:            applicationdomain.StatusPending,
		Metadata:          datatypes.JSONMap(req.Metadata),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if app.Metadata == nil {
		app.Metadata = datatypes.JSONMap{}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.appRepo.WithTrx(tx).Create(ctx, &app); err != nil {
			return err
		}

		history := applicationdomain.ApplicationStatusHistory{
			ID:            s.genID.Generate(),
			ApplicationID: app.ID,
			Status:        applicationdomain.StatusPending,
			Notes:         "application created",
			CreatedAt:     now,
		}
		if err := s.historyRepo.WithTrx(tx).Create(ctx, &history); err != nil {
			return err
		}

		progress := progressdomain.ApplicationProgress{
			ID:            s.genID.Generate(),
			ApplicationID: app.ID,
			CurrentStep:   0,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := progress.EncodeSteps(progressdomain.InitialSteps(now)); err != nil {
			return err
		}
		return s.progressRepo.WithTrx(tx).Create(ctx, &progress)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncApplicationCreated(loanType)
	s.log.Info("application created",
		zap.String("application_id", app.ID.String()),
		zap.String("application_number", app.ApplicationNumber),
	)
	return &app, nil
}

func (s *Service) Get(ctx context.Context, applicationID snowflake.ID) (*applicationdomain.Application, error) {
	if applicationID == 0 {
		return nil, applicationdomain.ErrApplicationNotFound
	}
	app, err := s.appRepo.FindOne(ctx, applicationdomain.Application{ID: applicationID})
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, applicationdomain.ErrApplicationNotFound
	}
	return app, nil
}

func (s *Service) List(ctx context.Context, req applicationdomain.ListApplicationsRequest) (applicationdomain.ListApplicationsResponse, error) {
	var resp applicationdomain.ListApplicationsResponse
	if req.GroupID == 0 {
		return resp, applicationdomain.ErrInvalidGroup
	}

	query := s.db.WithContext(ctx).
		Model(&applicationdomain.Application{}).
		Where("group_id = ?", req.GroupID)
	if req.ApplicantID != nil {
		query = query.Where("applicant_id = ?", *req.ApplicantID)
	}
	if req.BrokerID != nil {
		query = query.Where("broker_id = ?", *req.BrokerID)
	}
	if req.Status != "" {
		if !applicationdomain.ValidStatus(req.Status) {
			return resp, applicationdomain.ErrInvalidStatus
		}
		query = query.Where("status = ?", req.Status)
	}

	query = option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}).Apply(query)
	query = option.ApplyPagination(req.Page).Apply(query)

	var apps []applicationdomain.Application
	if err := query.Find(&apps).Error; err != nil {
		return resp, err
	}

	resp.Applications, resp.PageInfo = pagination.BuildPage(apps, req.Page.PageSize,
		func(a applicationdomain.Application) pagination.Cursor {
			return pagination.Cursor{ID: a.ID.String(), CreatedAt: a.CreatedAt}
		})
	return resp, nil
}

func (s *Service) Submit(ctx context.Context, applicationID snowflake.ID, actorID *snowflake.ID) (*applicationdomain.Application, error) {
	app, err := s.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != applicationdomain.StatusPending {
		return nil, applicationdomain.ErrNotSubmittable
	}
	return s.UpdateStatus(ctx, applicationID, applicationdomain.StatusSubmitted, "application submitted", actorID)
}

// UpdateStatus is the only code path that writes Application.Status.
// Every call appends exactly one status history row.
func (s *Service) UpdateStatus(ctx context.Context, applicationID snowflake.ID, status applicationdomain.ApplicationStatus, notes string, actorID *snowflake.ID) (*applicationdomain.Application, error) {
	if !applicationdomain.ValidStatus(status) {
		return nil, applicationdomain.ErrInvalidStatus
	}

	var updated applicationdomain.Application
	var previous applicationdomain.ApplicationStatus
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		app, err := s.lockApplication(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		previous = app.Status

		app.Status = status
		app.UpdatedAt = now
		switch status {
		case applicationdomain.StatusSubmitted:
			app.SubmittedAt = &now
		case applicationdomain.StatusApproved, applicationdomain.StatusRejected:
			app.DecisionAt = &now
		case applicationdomain.StatusFunded:
			app.FundedAt = &now
		}
		if err := s.appRepo.WithTrx(tx).Update(ctx, app); err != nil {
			return err
		}

		history := applicationdomain.ApplicationStatusHistory{
			ID:            s.genID.Generate(),
			ApplicationID: app.ID,
			Status:        status,
			Notes:         strings.TrimSpace(notes),
			ChangedBy:     actorID,
			CreatedAt:     now,
		}
		if err := s.historyRepo.WithTrx(tx).Create(ctx, &history); err != nil {
			return err
		}

		updated = *app
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncStatusTransition(string(previous), string(status))

	if trigger := commissionTrigger(status); trigger != "" {
		if _, err := s.commissionSvc.CalculateForEvent(ctx, &updated, trigger); err != nil {
			// Commission failures never roll back a recorded decision.
			s.log.Error("commission calculation failed",
				zap.String("application_id", updated.ID.String()),
				zap.String("trigger_event", trigger),
				zap.Error(err),
			)
		}
	}

	return &updated, nil
}

func (s *Service) StatusHistory(ctx context.Context, applicationID snowflake.ID) ([]applicationdomain.ApplicationStatusHistory, error) {
	if _, err := s.Get(ctx, applicationID); err != nil {
		return nil, err
	}

	// History rows per application are few; the cap guards against a
	// runaway writer rather than serving as pagination.
	query := option.WithLimit(maxListRows).Apply(s.db.WithContext(ctx))

	var history []applicationdomain.ApplicationStatusHistory
	if err := query.
		Where("application_id = ?", applicationID).
		Order("created_at ASC, id ASC").
		Find(&history).Error; err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Service) lockApplication(ctx context.Context, tx *gorm.DB, applicationID snowflake.ID) (*applicationdomain.Application, error) {
	if applicationID == 0 {
		return nil, applicationdomain.ErrApplicationNotFound
	}

	var app applicationdomain.Application
	var err error
	if db.SupportsRowLocks(tx) {
		err = tx.WithContext(ctx).Raw(
			`SELECT * FROM applications WHERE id = ? FOR UPDATE`,
			applicationID,
		).Scan(&app).Error
	} else {
		err = tx.WithContext(ctx).
			Where("id = ?", applicationID).
			Limit(1).
			Find(&app).Error
	}
	if err != nil {
		return nil, err
	}
	if app.ID == 0 {
		return nil, applicationdomain.ErrApplicationNotFound
	}
	return &app, nil
}

func commissionTrigger(status applicationdomain.ApplicationStatus) string {
	switch status {
	case applicationdomain.StatusSubmitted:
		return commissiondomain.TriggerApplicationSubmitted
	case applicationdomain.StatusApproved:
		return commissiondomain.TriggerApplicationApproved
	case applicationdomain.StatusFunded:
		return commissiondomain.TriggerLoanFunded
	}
	return ""
}

// newApplicationNumber returns a short human-readable reference like
// APP3F2A91BC.
func newApplicationNumber() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "APP" + raw[:8]
}
