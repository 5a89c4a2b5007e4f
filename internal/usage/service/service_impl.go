package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/omnifin/platform/internal/clock"
	"github.com/omnifin/platform/internal/metrics"
	"github.com/omnifin/platform/internal/ratelimit"
	subscriptiondomain "github.com/omnifin/platform/internal/subscription/domain"
	usagedomain "github.com/omnifin/platform/internal/usage/domain"
	"github.com/omnifin/platform/pkg/db"
	"github.com/omnifin/platform/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	decimalHundred = decimal.NewFromInt(100)
	decimalEighty  = decimal.NewFromInt(80)
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	SubSvc  subscriptiondomain.Service
	Metrics *metrics.Metrics             `optional:"true"`
	Limiter *ratelimit.UsageRecordLimiter `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	subSvc  subscriptiondomain.Service
	metrics *metrics.Metrics
	limiter *ratelimit.UsageRecordLimiter

	usageRepo   repository.Repository[usagedomain.TokenUsage]
	summaryRepo repository.Repository[usagedomain.UsageSummary]
	subRepo     repository.Repository[subscriptiondomain.Subscription]
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		subSvc:  p.SubSvc,
		metrics: p.Metrics,
		limiter: p.Limiter,

		usageRepo:   repository.ProvideStore[usagedomain.TokenUsage](p.DB),
		summaryRepo: repository.ProvideStore[usagedomain.UsageSummary](p.DB),
		subRepo:     repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
	}
}

func (s *Service) RecordUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.TokenUsage, error) {
	if !usagedomain.ValidUsageType(req.UsageType) {
		return nil, usagedomain.ErrInvalidUsageType
	}
	if req.Tokens <= 0 {
		return nil, usagedomain.ErrInvalidTokens
	}

	sub, err := s.subscriptionByID(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != subscriptiondomain.SubscriptionStatusActive {
		return nil, usagedomain.ErrSubscriptionNotActive
	}

	if s.limiter.Enabled() {
		allowed, err := s.limiter.AllowGroup(ctx, sub.GroupID.String())
		if err != nil {
			s.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		} else if !allowed {
			s.metrics.IncRateLimitDenied("usage.record")
			return nil, usagedomain.ErrRateLimited
		}
	}

	usage := usagedomain.TokenUsage{
		ID:             s.genID.Generate(),
		GroupID:        sub.GroupID,
		SubscriptionID: sub.ID,
		UsageType:      req.UsageType,
		Tokens:         req.Tokens,
		Feature:        strings.TrimSpace(req.Feature),
		ActorID:        req.ActorID,
		Metadata:       datatypes.JSONMap(req.Metadata),
		CreatedAt:      s.clock.Now(),
	}
	if usage.Metadata == nil {
		usage.Metadata = datatypes.JSONMap{}
	}

	if err := s.usageRepo.Create(ctx, &usage); err != nil {
		return nil, err
	}

	// The summary is recomputed before returning so read paths never
	// see a ledger row that is not yet reflected in the aggregate.
	if _, err := s.RecomputeSummary(ctx, sub.ID); err != nil {
		return nil, err
	}

	s.metrics.AddUsageRecorded(string(req.UsageType), req.Tokens)
	return &usage, nil
}

func (s *Service) RecomputeSummary(ctx context.Context, subscriptionID snowflake.ID) (*usagedomain.UsageSummary, error) {
	sub, err := s.subscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	periodStart, periodEnd := s.currentPeriod(sub)

	var result usagedomain.UsageSummary
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		summary, err := s.lockSummary(ctx, tx, sub, periodStart, periodEnd)
		if err != nil {
			return err
		}

		llmTokens, voiceTokens, err := s.aggregateTokens(ctx, tx, sub.ID, periodStart, periodEnd)
		if err != nil {
			return err
		}

		summary.LLMTokensUsed = llmTokens
		summary.VoiceTokensUsed = voiceTokens
		summary.UpdatedAt = s.clock.Now()

		// Flags are monotonic within a period: recomputation may push
		// them to true but never clears them.
		llmPct := percentage(summary.LLMTokensUsed, summary.LLMTokensLimit)
		llmWasReached := summary.LLMLimitReached
		if llmPct.GreaterThanOrEqual(decimalHundred) {
			summary.LLMLimitReached = true
			summary.LLMWarningSent = true
		} else if llmPct.GreaterThanOrEqual(decimalEighty) {
			summary.LLMWarningSent = true
		}

		voicePct := percentage(summary.VoiceTokensUsed, summary.VoiceTokensLimit)
		voiceWasReached := summary.VoiceLimitReached
		if voicePct.GreaterThanOrEqual(decimalHundred) {
			summary.VoiceLimitReached = true
			summary.VoiceWarningSent = true
		} else if voicePct.GreaterThanOrEqual(decimalEighty) {
			summary.VoiceWarningSent = true
		}

		if summary.LLMLimitReached && !llmWasReached {
			s.metrics.IncUsageLimitReached("llm")
			s.log.Warn("llm token limit reached",
				zap.String("subscription_id", sub.ID.String()),
				zap.Int64("tokens_used", summary.LLMTokensUsed),
				zap.Int64("token_limit", summary.LLMTokensLimit),
			)
		}
		if summary.VoiceLimitReached && !voiceWasReached {
			s.metrics.IncUsageLimitReached("voice")
			s.log.Warn("voice token limit reached",
				zap.String("subscription_id", sub.ID.String()),
				zap.Int64("tokens_used", summary.VoiceTokensUsed),
				zap.Int64("token_limit", summary.VoiceTokensLimit),
			)
		}

		if err := s.summaryRepo.WithTrx(tx).Update(ctx, summary); err != nil {
			return err
		}
		result = *summary
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) GetUsageSummary(ctx context.Context, subscriptionID snowflake.ID) (*usagedomain.SummaryView, error) {
	sub, err := s.subscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	periodStart, _ := s.currentPeriod(sub)
	summary, err := s.summaryRepo.FindOne(ctx, usagedomain.UsageSummary{
		SubscriptionID: sub.ID,
		PeriodStart:    periodStart,
	})
	if err != nil {
		return nil, err
	}
	if summary == nil {
		recomputed, err := s.RecomputeSummary(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		summary = recomputed
	}

	view := buildSummaryView(*summary)
	return &view, nil
}

func (s *Service) CheckUsageLimits(ctx context.Context, subscriptionID snowflake.ID) (*usagedomain.LimitCheck, error) {
	sub, err := s.subscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	periodStart, periodEnd := s.currentPeriod(sub)
	summary, err := s.summaryRepo.FindOne(ctx, usagedomain.UsageSummary{
		SubscriptionID: sub.ID,
		PeriodStart:    periodStart,
	})
	if err != nil {
		return nil, err
	}
	if summary == nil {
		// No ledger activity this period. Evaluate against a zero-usage
		// summary without persisting anything.
		plan, err := s.subSvc.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return nil, err
		}
		summary = &usagedomain.UsageSummary{
			GroupID:          sub.GroupID,
			SubscriptionID:   sub.ID,
			PeriodStart:      periodStart,
			PeriodEnd:        periodEnd,
			LLMTokensLimit:   plan.LLMTokenLimit,
			VoiceTokensLimit: plan.VoiceTokenLimit,
		}
	}

	check := &usagedomain.LimitCheck{Warnings: []usagedomain.LimitWarning{}}

	llmPct := percentage(summary.LLMTokensUsed, summary.LLMTokensLimit)
	if warning := thresholdWarning("llm", "monthly LLM token", llmPct); warning != nil {
		check.Warnings = append(check.Warnings, *warning)
	}

	voicePct := percentage(summary.VoiceTokensUsed, summary.VoiceTokensLimit)
	if warning := thresholdWarning("voice", "monthly voice token", voicePct); warning != nil {
		check.Warnings = append(check.Warnings, *warning)
	}

	// An upgrade is only suggested when something is actually worth
	// warning about.
	if len(check.Warnings) > 0 {
		upgrade, err := s.subSvc.NextUpgradePlan(ctx, sub.GroupID)
		if err != nil {
			return nil, err
		}
		check.SuggestedUpgrade = upgrade
	}

	return check, nil
}

func (s *Service) GetGroupUsage(ctx context.Context, groupID snowflake.ID) (*usagedomain.SummaryView, error) {
	if groupID == 0 {
		return nil, usagedomain.ErrInvalidGroup
	}
	sub, err := s.subSvc.GetActiveSubscription(ctx, groupID)
	if err != nil {
		if err == subscriptiondomain.ErrNoActiveSubscription {
			return nil, usagedomain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return s.GetUsageSummary(ctx, sub.ID)
}

// lockSummary loads the period summary under a row lock, creating it
// with limits snapshotted from the current plan when missing.
func (s *Service) lockSummary(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, periodStart, periodEnd time.Time) (*usagedomain.UsageSummary, error) {
	var summary usagedomain.UsageSummary
	var err error
	if db.SupportsRowLocks(tx) {
		err = tx.WithContext(ctx).Raw(
			`SELECT * FROM usage_summaries
			 WHERE subscription_id = ? AND period_start = ?
			 FOR UPDATE`,
			sub.ID, periodStart,
		).Scan(&summary).Error
	} else {
		err = tx.WithContext(ctx).
			Where("subscription_id = ? AND period_start = ?", sub.ID, periodStart).
			Limit(1).
			Find(&summary).Error
	}
	if err != nil {
		return nil, err
	}
	if summary.ID != 0 {
		return &summary, nil
	}

	plan, err := s.subSvc.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	summary = usagedomain.UsageSummary{
		ID:               s.genID.Generate(),
		GroupID:          sub.GroupID,
		SubscriptionID:   sub.ID,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		LLMTokensLimit:   plan.LLMTokenLimit,
		VoiceTokensLimit: plan.VoiceTokenLimit,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.summaryRepo.WithTrx(tx).Create(ctx, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *Service) aggregateTokens(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, periodStart, periodEnd time.Time) (int64, int64, error) {
	var rows []struct {
		UsageType string `gorm:"column:usage_type"`
		Total     int64  `gorm:"column:total"`
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT usage_type, COALESCE(SUM(tokens), 0) AS total
		 FROM token_usages
		 WHERE subscription_id = ?
		   AND created_at >= ?
		   AND created_at <= ?
		 GROUP BY usage_type`,
		subscriptionID, periodStart, periodEnd,
	).Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}

	var llm, voice int64
	for _, row := range rows {
		switch usagedomain.UsageType(row.UsageType) {
		case usagedomain.UsageTypeLLM:
			llm = row.Total
		case usagedomain.UsageTypeVoice:
			voice = row.Total
		}
	}
	return llm, voice, nil
}

func (s *Service) subscriptionByID(ctx context.Context, subscriptionID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if subscriptionID == 0 {
		return nil, usagedomain.ErrSubscriptionNotFound
	}
	sub, err := s.subRepo.FindOne(ctx, subscriptiondomain.Subscription{ID: subscriptionID})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, usagedomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// currentPeriod returns the subscription's current billing period.
// Subscriptions without period stamps fall back to a 30-day window
// opening on the first of the current month, UTC. Both bounds are
// inclusive.
func (s *Service) currentPeriod(sub *subscriptiondomain.Subscription) (time.Time, time.Time) {
	if sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil {
		return sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC()
	}
	now := s.clock.Now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, subscriptiondomain.BillingPeriodDays)
}

func percentage(used, limit int64) decimal.Decimal {
	if limit <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(used).
		Div(decimal.NewFromInt(limit)).
		Mul(decimalHundred)
}

func thresholdWarning(resource, label string, pct decimal.Decimal) *usagedomain.LimitWarning {
	if pct.GreaterThanOrEqual(decimalHundred) {
		return &usagedomain.LimitWarning{
			Resource:   resource,
			Level:      usagedomain.WarningLevelError,
			Message:    fmt.Sprintf("You have reached your %s limit. Please upgrade your plan to continue.", label),
			Percentage: pct.Round(2),
		}
	}
	if pct.GreaterThanOrEqual(decimalEighty) {
		return &usagedomain.LimitWarning{
			Resource:   resource,
			Level:      usagedomain.WarningLevelWarning,
			Message:    fmt.Sprintf("You have used %s%% of your %s limit.", pct.Round(0), label),
			Percentage: pct.Round(2),
		}
	}
	return nil
}

func buildSummaryView(summary usagedomain.UsageSummary) usagedomain.SummaryView {
	return usagedomain.SummaryView{
		SubscriptionID: summary.SubscriptionID.String(),
		GroupID:        summary.GroupID.String(),
		PeriodStart:    summary.PeriodStart,
		PeriodEnd:      summary.PeriodEnd,
		LLM: usagedomain.ResourceUsage{
			Used:         summary.LLMTokensUsed,
			Limit:        summary.LLMTokensLimit,
			Percentage:   percentage(summary.LLMTokensUsed, summary.LLMTokensLimit).Round(2),
			WarningSent:  summary.LLMWarningSent,
			LimitReached: summary.LLMLimitReached,
		},
		Voice: usagedomain.ResourceUsage{
			Used:         summary.VoiceTokensUsed,
			Limit:        summary.VoiceTokensLimit,
			Percentage:   percentage(summary.VoiceTokensUsed, summary.VoiceTokensLimit).Round(2),
			WarningSent:  summary.VoiceWarningSent,
			LimitReached: summary.VoiceLimitReached,
		},
	}
}
