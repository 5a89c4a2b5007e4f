package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	applicationdomain "github.com/omnifin/platform/internal/application/domain"
	"github.com/omnifin/platform/internal/clock"
	commissiondomain "github.com/omnifin/platform/internal/commission/domain"
	"github.com/omnifin/platform/internal/config"
	"github.com/omnifin/platform/internal/metrics"
	"github.com/omnifin/platform/internal/providers/pdf"
	"github.com/omnifin/platform/pkg/repository"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Defaults  *config.CommissionConfigHolder
	Statement *pdf.StatementRenderer
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	defaults  *config.CommissionConfigHolder
	statement *pdf.StatementRenderer
	metrics   *metrics.Metrics

	ruleRepo       repository.Repository[commissiondomain.CommissionRule]
	commissionRepo repository.Repository[commissiondomain.Commission]
	batchRepo      repository.Repository[commissiondomain.PayoutBatch]
}

func NewService(p ServiceParam) commissiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("commission.service"),

		genID:     p.GenID,
		clock:     p.Clock,
		defaults:  p.Defaults,
		statement: p.Statement,
		metrics:   p.Metrics,

		ruleRepo:       repository.ProvideStore[commissiondomain.CommissionRule](p.DB),
		commissionRepo: repository.ProvideStore[commissiondomain.Commission](p.DB),
		batchRepo:      repository.ProvideStore[commissiondomain.PayoutBatch](p.DB),
	}
}

func (s *Service) CalculateForEvent(ctx context.Context, app *applicationdomain.Application, triggerEvent string) (*commissiondomain.Commission, error) {
	trigger := strings.TrimSpace(triggerEvent)
	if trigger == "" {
		return nil, commissiondomain.ErrInvalidTrigger
	}
	if app == nil {
		return nil, applicationdomain.ErrApplicationNotFound
	}
	if app.BrokerID == nil || *app.BrokerID == 0 {
		// Direct applications earn nobody a commission.
		return nil, nil
	}

	rule, err := s.ruleForTrigger(ctx, app.GroupID, trigger)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		s.log.Debug("no commission rule for trigger",
			zap.String("group_id", app.GroupID.String()),
			zap.String("trigger_event", trigger),
		)
		return nil, nil
	}

	amount := computeAmount(*rule, app.Amount)
	now := s.clock.Now()
	commission := commissiondomain.Commission{
		ID:            s.genID.Generate(),
		GroupID:       app.GroupID,
		ApplicationID: app.ID,
		BrokerID:      *app.BrokerID,
		TriggerEvent:  trigger,
		RuleID:        rule.ID,
		BaseAmount:    app.Amount,
		Rate:          rule.Rate,
		Amount:        amount,
		Status:        commissiondomain.CommissionStatusPending,
		Metadata:      datatypes.JSONMap{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.commissionRepo.Create(ctx, &commission); err != nil {
		return nil, err
	}

	s.metrics.IncCommissionCreated(trigger)
	s.log.Info("commission created",
		zap.String("commission_id", commission.ID.String()),
		zap.String("application_id", app.ID.String()),
		zap.String("trigger_event", trigger),
		zap.String("amount", amount.String()),
	)
	return &commission, nil
}

func (s *Service) Approve(ctx context.Context, commissionID snowflake.ID, actorID *snowflake.ID) (*commissiondomain.Commission, error) {
	commission, err := s.byID(ctx, commissionID)
	if err != nil {
		return nil, err
	}
	if commission.Status != commissiondomain.CommissionStatusPending {
		return nil, commissiondomain.ErrInvalidTransition
	}

	now := s.clock.Now()
	commission.Status = commissiondomain.CommissionStatusApproved
	commission.ApprovedAt = &now
	commission.UpdatedAt = now
	if err := s.commissionRepo.Update(ctx, commission); err != nil {
		return nil, err
	}
	return commission, nil
}

func (s *Service) Cancel(ctx context.Context, commissionID snowflake.ID, reason string) (*commissiondomain.Commission, error) {
	return s.transition(ctx, commissionID, commissiondomain.CommissionStatusCancelled, reason)
}

func (s *Service) Dispute(ctx context.Context, commissionID snowflake.ID, reason string) (*commissiondomain.Commission, error) {
	return s.transition(ctx, commissionID, commissiondomain.CommissionStatusDisputed, reason)
}

func (s *Service) transition(ctx context.Context, commissionID snowflake.ID, target commissiondomain.CommissionStatus, reason string) (*commissiondomain.Commission, error) {
	commission, err := s.byID(ctx, commissionID)
	if err != nil {
		return nil, err
	}
	// Paid commissions are settled money; they can only be disputed.
	if commission.Status == commissiondomain.CommissionStatusPaid &&
		target != commissiondomain.CommissionStatusDisputed {
		return nil, commissiondomain.ErrInvalidTransition
	}
	if commission.Status == commissiondomain.CommissionStatusCancelled {
		return nil, commissiondomain.ErrInvalidTransition
	}

	now := s.clock.Now()
	commission.Status = target
	commission.UpdatedAt = now
	if reason = strings.TrimSpace(reason); reason != "" {
		if commission.Metadata == nil {
			commission.Metadata = map[string]any{}
		}
		commission.Metadata["status_reason"] = reason
	}
	if err := s.commissionRepo.Update(ctx, commission); err != nil {
		return nil, err
	}
	return commission, nil
}

func (s *Service) CreatePayoutBatch(ctx context.Context, groupID snowflake.ID, brokerID snowflake.ID) (*commissiondomain.PayoutBatch, error) {
	if groupID == 0 {
		return nil, commissiondomain.ErrInvalidGroup
	}
	if brokerID == 0 {
		return nil, commissiondomain.ErrInvalidBroker
	}

	now := s.clock.Now()
	batch := commissiondomain.PayoutBatch{
		ID:        s.genID.Generate(),
		GroupID:   groupID,
		Reference: "PAYOUT-" + ulid.Make().String(),
		BrokerID:  brokerID,
		Status:    commissiondomain.PayoutStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var approved []commissiondomain.Commission
		if err := tx.WithContext(ctx).
			Where("group_id = ? AND broker_id = ? AND status = ?",
				groupID, brokerID, commissiondomain.CommissionStatusApproved).
			Find(&approved).Error; err != nil {
			return err
		}
		if len(approved) == 0 {
			return commissiondomain.ErrNothingToPayout
		}

		total := decimal.Zero
		for i := range approved {
			total = total.Add(approved[i].Amount)
		}
		batch.TotalAmount = total
		batch.Count = len(approved)

		if err := s.batchRepo.WithTrx(tx).Create(ctx, &batch); err != nil {
			return err
		}

		for i := range approved {
			commission := &approved[i]
			commission.Status = commissiondomain.CommissionStatusPaid
			commission.PayoutBatchID = &batch.ID
			commission.PaidAt = &now
			commission.UpdatedAt = now
			if err := s.commissionRepo.WithTrx(tx).Update(ctx, commission); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payout batch created",
		zap.String("reference", batch.Reference),
		zap.String("broker_id", brokerID.String()),
		zap.Int("count", batch.Count),
		zap.String("total", batch.TotalAmount.String()),
	)
	return &batch, nil
}

func (s *Service) ProcessPayout(ctx context.Context, batchID snowflake.ID) (*commissiondomain.PayoutBatch, error) {
	batch, err := s.batchRepo.FindOne(ctx, commissiondomain.PayoutBatch{ID: batchID})
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, commissiondomain.ErrBatchNotFound
	}
	if batch.Status != commissiondomain.PayoutStatusPending {
		return nil, commissiondomain.ErrInvalidTransition
	}

	now := s.clock.Now()
	batch.Status = commissiondomain.PayoutStatusCompleted
	batch.ProcessedAt = &now
	batch.UpdatedAt = now
	if err := s.batchRepo.Update(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *Service) ListByApplication(ctx context.Context, applicationID snowflake.ID) ([]commissiondomain.Commission, error) {
	return s.commissionRepo.Find(ctx, commissiondomain.Commission{ApplicationID: applicationID})
}

func (s *Service) ListByBroker(ctx context.Context, groupID snowflake.ID, brokerID snowflake.ID) ([]commissiondomain.Commission, error) {
	return s.commissionRepo.Find(ctx, commissiondomain.Commission{GroupID: groupID, BrokerID: brokerID})
}

func (s *Service) EarningsSummary(ctx context.Context, groupID snowflake.ID, brokerID snowflake.ID) (*commissiondomain.EarningsSummary, error) {
	if brokerID == 0 {
		return nil, commissiondomain.ErrInvalidBroker
	}

	commissions, err := s.ListByBroker(ctx, groupID, brokerID)
	if err != nil {
		return nil, err
	}

	summary := &commissiondomain.EarningsSummary{
		BrokerID:    brokerID.String(),
		TotalEarned: decimal.Zero,
		Pending:     decimal.Zero,
		Approved:    decimal.Zero,
		Paid:        decimal.Zero,
		GeneratedAt: s.clock.Now(),
	}
	for i := range commissions {
		c := &commissions[i]
		switch c.Status {
		case commissiondomain.CommissionStatusPending:
			summary.Pending = summary.Pending.Add(c.Amount)
		case commissiondomain.CommissionStatusApproved:
			summary.Approved = summary.Approved.Add(c.Amount)
		case commissiondomain.CommissionStatusPaid:
			summary.Paid = summary.Paid.Add(c.Amount)
		default:
			continue
		}
		summary.TotalEarned = summary.TotalEarned.Add(c.Amount)
		summary.Count++
	}
	return summary, nil
}

func (s *Service) RenderStatement(ctx context.Context, groupID snowflake.ID, brokerID snowflake.ID) ([]byte, error) {
	summary, err := s.EarningsSummary(ctx, groupID, brokerID)
	if err != nil {
		return nil, err
	}
	commissions, err := s.ListByBroker(ctx, groupID, brokerID)
	if err != nil {
		return nil, err
	}

	lines := make([]pdf.StatementLine, 0, len(commissions))
	for i := range commissions {
		c := &commissions[i]
		lines = append(lines, pdf.StatementLine{
			Reference:    c.ID.String(),
			TriggerEvent: c.TriggerEvent,
			Amount:       c.Amount,
			Status:       string(c.Status),
			CreatedAt:    c.CreatedAt,
		})
	}

	return s.statement.RenderCommissionStatement(pdf.StatementData{
		BrokerID:    summary.BrokerID,
		TotalEarned: summary.TotalEarned,
		Pending:     summary.Pending,
		Approved:    summary.Approved,
		Paid:        summary.Paid,
		GeneratedAt: summary.GeneratedAt,
		Lines:       lines,
	})
}

func (s *Service) UpsertRule(ctx context.Context, rule commissiondomain.CommissionRule) (*commissiondomain.CommissionRule, error) {
	if rule.GroupID == 0 {
		return nil, commissiondomain.ErrInvalidGroup
	}
	if strings.TrimSpace(rule.TriggerEvent) == "" {
		return nil, commissiondomain.ErrInvalidTrigger
	}
	if rule.Rate.IsNegative() {
		return nil, commissiondomain.ErrInvalidRule
	}
	if rule.MaxAmount.IsPositive() && rule.MinAmount.GreaterThan(rule.MaxAmount) {
		return nil, commissiondomain.ErrInvalidRule
	}

	now := s.clock.Now()
	existing, err := s.ruleRepo.FindOne(ctx, commissiondomain.CommissionRule{
		GroupID:      rule.GroupID,
		TriggerEvent: rule.TriggerEvent,
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.CommissionType = rule.CommissionType
		existing.Rate = rule.Rate
		existing.MinAmount = rule.MinAmount
		existing.MaxAmount = rule.MaxAmount
		existing.IsActive = rule.IsActive
		existing.UpdatedAt = now
		if err := s.ruleRepo.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	rule.ID = s.genID.Generate()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.ruleRepo.Create(ctx, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Service) ListRules(ctx context.Context, groupID snowflake.ID) ([]commissiondomain.CommissionRule, error) {
	if groupID == 0 {
		return nil, commissiondomain.ErrInvalidGroup
	}
	return s.ruleRepo.Find(ctx, commissiondomain.CommissionRule{GroupID: groupID})
}

// ruleForTrigger returns the group's active rule for the trigger,
// materializing one from the configured defaults when the group has no
// rule row yet.
func (s *Service) ruleForTrigger(ctx context.Context, groupID snowflake.ID, trigger string) (*commissiondomain.CommissionRule, error) {
	rule, err := s.ruleRepo.FindOne(ctx, commissiondomain.CommissionRule{
		GroupID:      groupID,
		TriggerEvent: trigger,
	})
	if err != nil {
		return nil, err
	}
	if rule != nil {
		if !rule.IsActive {
			return nil, nil
		}
		return rule, nil
	}

	if s.defaults == nil {
		return nil, nil
	}
	for _, def := range s.defaults.Get().Rules {
		if def.TriggerEvent != trigger {
			continue
		}
		created := commissiondomain.CommissionRule{
			GroupID:        groupID,
			TriggerEvent:   trigger,
			CommissionType: commissiondomain.CommissionType(def.CommissionType),
			Rate:           decimal.NewFromFloat(def.Rate),
			MinAmount:      decimal.NewFromFloat(def.MinAmount),
			MaxAmount:      decimal.NewFromFloat(def.MaxAmount),
			IsActive:       true,
		}
		return s.UpsertRule(ctx, created)
	}
	return nil, nil
}

func (s *Service) byID(ctx context.Context, commissionID snowflake.ID) (*commissiondomain.Commission, error) {
	if commissionID == 0 {
		return nil, commissiondomain.ErrCommissionNotFound
	}
	commission, err := s.commissionRepo.FindOne(ctx, commissiondomain.Commission{ID: commissionID})
	if err != nil {
		return nil, err
	}
	if commission == nil {
		return nil, commissiondomain.ErrCommissionNotFound
	}
	return commission, nil
}

// computeAmount applies the rule's formula to the loan amount and
// clamps the result into [MinAmount, MaxAmount]. A zero MaxAmount means
// no upper bound.
func computeAmount(rule commissiondomain.CommissionRule, base decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch rule.CommissionType {
	case commissiondomain.CommissionTypeFixed:
		amount = rule.Rate
	default:
		amount = base.Mul(rule.Rate).Div(decimal.NewFromInt(100))
	}

	if rule.MinAmount.IsPositive() && amount.LessThan(rule.MinAmount) {
		amount = rule.MinAmount
	}
	if rule.MaxAmount.IsPositive() && amount.GreaterThan(rule.MaxAmount) {
		amount = rule.MaxAmount
	}
	return amount.Round(2)
}
