package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/omnifin/platform/internal/clock"
	"github.com/omnifin/platform/internal/subscription/domain"
	"github.com/omnifin/platform/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	planRepo    repository.Repository[domain.Plan]
	subRepo     repository.Repository[domain.Subscription]
	paymentRepo repository.Repository[domain.PaymentHistory]
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		genID: p.GenID,
		clock: p.Clock,

		planRepo:    repository.ProvideStore[domain.Plan](p.DB),
		subRepo:     repository.ProvideStore[domain.Subscription](p.DB),
		paymentRepo: repository.ProvideStore[domain.PaymentHistory](p.DB),
	}
}

func (s *Service) ListPlans(ctx context.Context, includeInactive bool) ([]domain.Plan, error) {
	var plans []domain.Plan
	query := s.db.WithContext(ctx).Model(&domain.Plan{})
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Order("price ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (s *Service) GetPlan(ctx context.Context, planID snowflake.ID) (*domain.Plan, error) {
	if planID == 0 {
		return nil, domain.ErrInvalidPlan
	}
	plan, err := s.planRepo.FindOne(ctx, domain.Plan{ID: planID})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrInvalidPlan
	}
	return plan, nil
}

func (s *Service) GetActiveSubscription(ctx context.Context, groupID snowflake.ID) (*domain.Subscription, error) {
	if groupID == 0 {
		return nil, domain.ErrInvalidGroup
	}
	sub, err := s.subRepo.FindOne(ctx, domain.Subscription{
		GroupID: groupID,
		Status:  domain.SubscriptionStatusActive,
	})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrNoActiveSubscription
	}
	return sub, nil
}

func (s *Service) Subscribe(ctx context.Context, groupID snowflake.ID, planCode string) (*domain.Subscription, error) {
	if groupID == 0 {
		return nil, domain.ErrInvalidGroup
	}

	plan, err := s.planByCode(ctx, planCode)
	if err != nil {
		return nil, err
	}

	existing, err := s.subRepo.FindOne(ctx, domain.Subscription{
		GroupID: groupID,
		Status:  domain.SubscriptionStatusActive,
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrAlreadySubscribed
	}

	now := s.clock.Now()
	periodEnd := now.AddDate(0, 0, domain.BillingPeriodDays)
	sub := domain.Subscription{
		ID:                 s.genID.Generate(),
		GroupID:            groupID,
		PlanID:             plan.ID,
		Status:             domain.SubscriptionStatusActive,
		StartedAt:          now,
		CurrentPeriodStart: &now,
		CurrentPeriodEnd:   &periodEnd,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.subRepo.Create(ctx, &sub); err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("group_id", groupID.String()),
		zap.String("plan_code", plan.Code),
	)
	return &sub, nil
}

// ChangePlan ends the current subscription and opens a new one on the
// target plan. Usage summaries for periods already opened keep the
// limits snapshotted at period start.
func (s *Service) ChangePlan(ctx context.Context, groupID snowflake.ID, planCode string) (*domain.Subscription, error) {
	if groupID == 0 {
		return nil, domain.ErrInvalidGroup
	}

	plan, err := s.planByCode(ctx, planCode)
	if err != nil {
		return nil, err
	}

	current, err := s.GetActiveSubscription(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if current.PlanID == plan.ID {
		return current, nil
	}

	now := s.clock.Now()
	periodEnd := now.AddDate(0, 0, domain.BillingPeriodDays)
	next := domain.Subscription{
		ID:                 s.genID.Generate(),
		GroupID:            groupID,
		PlanID:             plan.ID,
		Status:             domain.SubscriptionStatusActive,
		StartedAt:          now,
		CurrentPeriodStart: &now,
		CurrentPeriodEnd:   &periodEnd,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		endedAt := now
		current.Status = domain.SubscriptionStatusCancelled
		current.EndedAt = &endedAt
		current.UpdatedAt = now
		if err := s.subRepo.WithTrx(tx).Update(ctx, current); err != nil {
			return err
		}
		return s.subRepo.WithTrx(tx).Create(ctx, &next)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plan changed",
		zap.String("group_id", groupID.String()),
		zap.String("plan_code", plan.Code),
	)
	return &next, nil
}

func (s *Service) Cancel(ctx context.Context, groupID snowflake.ID) error {
	current, err := s.GetActiveSubscription(ctx, groupID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	current.Status = domain.SubscriptionStatusCancelled
	current.EndedAt = &now
	current.UpdatedAt = now
	return s.subRepo.Update(ctx, current)
}

func (s *Service) NextUpgradePlan(ctx context.Context, groupID snowflake.ID) (*domain.Plan, error) {
	current, err := s.GetActiveSubscription(ctx, groupID)
	if err != nil {
		return nil, err
	}
	currentPlan, err := s.GetPlan(ctx, current.PlanID)
	if err != nil {
		return nil, err
	}

	plans, err := s.ListPlans(ctx, false)
	if err != nil {
		return nil, err
	}

	var best *domain.Plan
	for i := range plans {
		candidate := &plans[i]
		if candidate.Price.LessThanOrEqual(currentPlan.Price) {
			continue
		}
		if best == nil || candidate.Price.LessThan(best.Price) {
			best = candidate
		}
	}
	return best, nil
}

func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (*domain.PaymentHistory, error) {
	if req.GroupID == 0 {
		return nil, domain.ErrInvalidGroup
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}

	sub, err := s.GetActiveSubscription(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	now := s.clock.Now()
	payment := domain.PaymentHistory{
		ID:             s.genID.Generate(),
		GroupID:        req.GroupID,
		SubscriptionID: sub.ID,
		Amount:         req.Amount,
		Currency:       currency,
		Status:         "completed",
		Reference:      strings.TrimSpace(req.Reference),
		Metadata:       datatypes.JSONMap{},
		PaidAt:         &now,
		CreatedAt:      now,
	}
	if err := s.paymentRepo.Create(ctx, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *Service) ListPayments(ctx context.Context, groupID snowflake.ID) ([]domain.PaymentHistory, error) {
	if groupID == 0 {
		return nil, domain.ErrInvalidGroup
	}
	var payments []domain.PaymentHistory
	if err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at DESC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Service) planByCode(ctx context.Context, planCode string) (*domain.Plan, error) {
	code := strings.TrimSpace(planCode)
	if code == "" {
		return nil, domain.ErrInvalidPlan
	}
	plan, err := s.planRepo.FindOne(ctx, domain.Plan{Code: code})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrInvalidPlan
	}
	if !plan.IsActive {
		return nil, domain.ErrPlanInactive
	}
	return plan, nil
}
