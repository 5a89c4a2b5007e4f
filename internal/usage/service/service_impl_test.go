package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/omnifin/platform/internal/clock"
	subscriptiondomain "github.com/omnifin/platform/internal/subscription/domain"
	usagedomain "github.com/omnifin/platform/internal/usage/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type subscriptionStub struct {
	plan    *subscriptiondomain.Plan
	upgrade *subscriptiondomain.Plan
	active  *subscriptiondomain.Subscription
}

func (s *subscriptionStub) ListPlans(ctx context.Context, includeInactive bool) ([]subscriptiondomain.Plan, error) {
	return nil, nil
}

func (s *subscriptionStub) GetPlan(ctx context.Context, planID snowflake.ID) (*subscriptiondomain.Plan, error) {
	return s.plan, nil
}

func (s *subscriptionStub) GetActiveSubscription(ctx context.Context, groupID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if s.active == nil {
		return nil, subscriptiondomain.ErrNoActiveSubscription
	}
	return s.active, nil
}

func (s *subscriptionStub) Subscribe(ctx context.Context, groupID snowflake.ID, planCode string) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}

func (s *subscriptionStub) ChangePlan(ctx context.Context, groupID snowflake.ID, planCode string) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}

func (s *subscriptionStub) Cancel(ctx context.Context, groupID snowflake.ID) error {
	return nil
}

func (s *subscriptionStub) NextUpgradePlan(ctx context.Context, groupID snowflake.ID) (*subscriptiondomain.Plan, error) {
	return s.upgrade, nil
}

func (s *subscriptionStub) RecordPayment(ctx context.Context, req subscriptiondomain.RecordPaymentRequest) (*subscriptiondomain.PaymentHistory, error) {
	return nil, nil
}

func (s *subscriptionStub) ListPayments(ctx context.Context, groupID snowflake.ID) ([]subscriptiondomain.PaymentHistory, error) {
	return nil, nil
}

type usageFixture struct {
	svc   usagedomain.Service
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node
	stub  *subscriptionStub
	sub   subscriptiondomain.Subscription
}

func setupUsageService(t *testing.T, llmLimit, voiceLimit int64) *usageFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&usagedomain.TokenUsage{},
		&usagedomain.UsageSummary{},
	))

	node := mustNode(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	groupID := node.Generate()
	planID := node.Generate()
	sub := subscriptiondomain.Subscription{
		ID:        node.Generate(),
		GroupID:   groupID,
		PlanID:    planID,
		Status:    subscriptiondomain.SubscriptionStatusActive,
		StartedAt: fake.Now().AddDate(0, -1, 0),
		CreatedAt: fake.Now(),
		UpdatedAt: fake.Now(),
	}
	require.NoError(t, db.Create(&sub).Error)

	stub := &subscriptionStub{
		plan: &subscriptiondomain.Plan{
			ID:              planID,
			Code:            "basic",
			Name:            "Basic",
			Price:           decimal.NewFromInt(49),
			LLMTokenLimit:   llmLimit,
			VoiceTokenLimit: voiceLimit,
			IsActive:        true,
		},
		active: &sub,
	}

	svc := NewService(ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		SubSvc: stub,
	})

	return &usageFixture{svc: svc, db: db, clock: fake, node: node, stub: stub, sub: sub}
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func (f *usageFixture) record(t *testing.T, usageType usagedomain.UsageType, tokens int64) {
	t.Helper()
	_, err := f.svc.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
		SubscriptionID: f.sub.ID,
		UsageType:      usageType,
		Tokens:         tokens,
		Feature:        "chat",
	})
	require.NoError(t, err)
}

func TestRecordUsageValidation(t *testing.T) {
	f := setupUsageService(t, 1000, 500)
	ctx := context.Background()

	_, err := f.svc.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		SubscriptionID: f.sub.ID,
		UsageType:      "video",
		Tokens:         10,
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidUsageType)

	_, err = f.svc.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		SubscriptionID: f.sub.ID,
		UsageType:      usagedomain.UsageTypeLLM,
		Tokens:         0,
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidTokens)

	_, err = f.svc.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		SubscriptionID: f.node.Generate(),
		UsageType:      usagedomain.UsageTypeLLM,
		Tokens:         10,
	})
	assert.ErrorIs(t, err, usagedomain.ErrSubscriptionNotFound)
}

func TestRecordUsageRejectsInactiveSubscription(t *testing.T) {
	f := setupUsageService(t, 1000, 500)

	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", f.sub.ID).
		Update("status", subscriptiondomain.SubscriptionStatusCancelled).Error)

	_, err := f.svc.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
		SubscriptionID: f.sub.ID,
		UsageType:      usagedomain.UsageTypeLLM,
		Tokens:         10,
	})
	assert.ErrorIs(t, err, usagedomain.ErrSubscriptionNotActive)
}

func TestSummaryThresholdProgression(t *testing.T) {
	f := setupUsageService(t, 1000, 500)
	ctx := context.Background()

	// 700 of 1000: under both thresholds.
	f.record(t, usagedomain.UsageTypeLLM, 700)
	view, err := f.svc.GetUsageSummary(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), view.LLM.Used)
	assert.Equal(t, "70", view.LLM.Percentage.String())
	assert.False(t, view.LLM.WarningSent)
	assert.False(t, view.LLM.LimitReached)

	// +150 = 850 of 1000: warning fires.
	f.record(t, usagedomain.UsageTypeLLM, 150)
	view, err = f.svc.GetUsageSummary(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "85", view.LLM.Percentage.String())
	assert.True(t, view.LLM.WarningSent)
	assert.False(t, view.LLM.LimitReached)

	// +200 = 1050 of 1000: limit reached.
	f.record(t, usagedomain.UsageTypeLLM, 200)
	view, err = f.svc.GetUsageSummary(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "105", view.LLM.Percentage.String())
	assert.True(t, view.LLM.WarningSent)
	assert.True(t, view.LLM.LimitReached)

	// Voice is evaluated independently and stayed untouched.
	assert.Equal(t, int64(0), view.Voice.Used)
	assert.False(t, view.Voice.WarningSent)
	assert.False(t, view.Voice.LimitReached)
}

func TestPerTypeFlagsAreIndependent(t *testing.T) {
	f := setupUsageService(t, 1000, 100)
	ctx := context.Background()

	f.record(t, usagedomain.UsageTypeVoice, 100)
	view, err := f.svc.GetUsageSummary(ctx, f.sub.ID)
	require.NoError(t, err)

	assert.True(t, view.Voice.LimitReached)
	assert.True(t, view.Voice.WarningSent)
	assert.False(t, view.LLM.WarningSent)
	assert.False(t, view.LLM.LimitReached)
}

func TestFlagsStickyAfterDownwardCorrection(t *testing.T) {
	f := setupUsageService(t, 1000, 500)
	ctx := context.Background()

	f.record(t, usagedomain.UsageTypeLLM, 900)
	view, err := f.svc.GetUsageSummary(ctx, f.sub.ID)
	require.NoError(t, err)
	require.True(t, view.LLM.WarningSent)

	// Operator removes ledger rows; the aggregate drops below the
	// threshold but flags never clear within a period.
	require.NoError(t, f.db.Exec(`DELETE FROM token_usages`).Error)
	summary, err := f.svc.RecomputeSummary(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.LLMTokensUsed)
	assert.True(t, summary.LLMWarningSent)
}

func TestZeroLimitNeverFlags(t *testing.T) {
	f := setupUsageService(t, 0, 0)
	ctx := context.Background()

	f.record(t, usagedomain.UsageTypeLLM, 1_000_000)
	view, err := f.svc.GetUsageSummary(ctx, f.sub.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(1_000_000), view.LLM.Used)
	assert.True(t, view.LLM.Percentage.IsZero())
	assert.False(t, view.LLM.WarningSent)
	assert.False(t, view.LLM.LimitReached)
}

func TestAggregationPeriodBoundsInclusive(t *testing.T) {
	f := setupUsageService(t, 1000, 500)
	ctx := context.Background()

	f.record(t, usagedomain.UsageTypeLLM, 100)

	// Usage on the period's closing bound still counts.
	f.clock.Set(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	f.record(t, usagedomain.UsageTypeLLM, 50)

	summary, err := f.svc.RecomputeSummary(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), summary.LLMTokensUsed)

	// April usage lands in a fresh summary with zeroed counters.
	f.clock.Set(time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC))
	f.record(t, usagedomain.UsageTypeLLM, 25)
	april, err := f.svc.RecomputeSummary(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), april.LLMTokensUsed)
	assert.True(t, april.PeriodStart.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestPeriodFallbackIsStartPlusThirtyDays(t *testing.T) {
	f := setupUsageService(t, 1000, 500)

	// The fixture subscription carries no period stamps, so the summary
	// opens on the first of the month and runs thirty days.
	f.record(t, usagedomain.UsageTypeLLM, 100)

	summary, err := f.svc.RecomputeSummary(context.Background(), f.sub.ID)
	require.NoError(t, err)
	assert.True(t, summary.PeriodStart.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, summary.PeriodEnd.Equal(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)))
}

func TestPeriodFollowsSubscriptionBillingPeriod(t *testing.T) {
	f := setupUsageService(t, 1000, 500)
	ctx := context.Background()

	periodStart := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 0, 30)
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", f.sub.ID).
		Updates(map[string]any{
			"current_period_start": periodStart,
			"current_period_end":   periodEnd,
		}).Error)

	f.record(t, usagedomain.UsageTypeLLM, 100)

	summary, err := f.svc.RecomputeSummary(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.True(t, summary.PeriodStart.Equal(periodStart))
	assert.True(t, summary.PeriodEnd.Equal(periodEnd))
	assert.Equal(t, int64(100), summary.LLMTokensUsed)
}

func TestSummaryLimitsSnapshottedAtCreation(t *testing.T) {
	f := setupUsageService(t, 1000, 500)
	ctx := context.Background()

	f.record(t, usagedomain.UsageTypeLLM, 100)

	// Plan upgrade mid-period does not widen the current summary.
	f.stub.plan.LLMTokenLimit = 10_000
	summary, err := f.svc.RecomputeSummary(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), summary.LLMTokensLimit)
}

func TestCheckUsageLimitsWarningsAndUpgrade(t *testing.T) {
	f := setupUsageService(t, 1000, 500)
	ctx := context.Background()

	f.stub.upgrade = &subscriptiondomain.Plan{Code: "premium", Price: decimal.NewFromInt(199)}

	f.record(t, usagedomain.UsageTypeLLM, 1050)
	f.record(t, usagedomain.UsageTypeVoice, 400)

	check, err := f.svc.CheckUsageLimits(ctx, f.sub.ID)
	require.NoError(t, err)
	require.Len(t, check.Warnings, 2)

	llm := check.Warnings[0]
	assert.Equal(t, "llm", llm.Resource)
	assert.Equal(t, usagedomain.WarningLevelError, llm.Level)
	assert.Equal(t, "You have reached your monthly LLM token limit. Please upgrade your plan to continue.", llm.Message)
	assert.Equal(t, "105", llm.Percentage.String())

	voice := check.Warnings[1]
	assert.Equal(t, "voice", voice.Resource)
	assert.Equal(t, usagedomain.WarningLevelWarning, voice.Level)
	assert.Equal(t, "You have used 80% of your monthly voice token limit.", voice.Message)

	require.NotNil(t, check.SuggestedUpgrade)
	assert.Equal(t, "premium", check.SuggestedUpgrade.Code)
}

func TestCheckUsageLimitsWithoutWarningsSuggestsNothing(t *testing.T) {
	f := setupUsageService(t, 1000, 500)
	ctx := context.Background()

	f.stub.upgrade = &subscriptiondomain.Plan{Code: "premium", Price: decimal.NewFromInt(199)}

	// Comfortably under both thresholds: no warnings, so no upsell.
	f.record(t, usagedomain.UsageTypeLLM, 100)

	check, err := f.svc.CheckUsageLimits(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Empty(t, check.Warnings)
	assert.Nil(t, check.SuggestedUpgrade)
}

func TestCheckUsageLimitsIsPure(t *testing.T) {
	f := setupUsageService(t, 1000, 500)
	ctx := context.Background()

	check, err := f.svc.CheckUsageLimits(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Empty(t, check.Warnings)

	var count int64
	require.NoError(t, f.db.Model(&usagedomain.UsageSummary{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestGetGroupUsageWithoutSubscription(t *testing.T) {
	f := setupUsageService(t, 1000, 500)
	f.stub.active = nil

	_, err := f.svc.GetGroupUsage(context.Background(), f.sub.GroupID)
	assert.ErrorIs(t, err, usagedomain.ErrSubscriptionNotFound)
}
