package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	applicationdomain "github.com/omnifin/platform/internal/application/domain"
	"github.com/omnifin/platform/internal/clock"
	commissiondomain "github.com/omnifin/platform/internal/commission/domain"
	progressdomain "github.com/omnifin/platform/internal/progress/domain"
	"github.com/omnifin/platform/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// commissionRecorder captures trigger events instead of computing
// commissions.
type commissionRecorder struct {
	events []string
	fail   error
}

func (r *commissionRecorder) CalculateForEvent(ctx context.Context, app *applicationdomain.Application, triggerEvent string) (*commissiondomain.Commission, error) {
	r.events = append(r.events, triggerEvent)
	return nil, r.fail
}
func (r *commissionRecorder) Approve(ctx context.Context, id snowflake.ID, actorID *snowflake.ID) (*commissiondomain.Commission, error) {
	return nil, nil
}
func (r *commissionRecorder) Cancel(ctx context.Context, id snowflake.ID, reason string) (*commissiondomain.Commission, error) {
	return nil, nil
}
func (r *commissionRecorder) Dispute(ctx context.Context, id snowflake.ID, reason string) (*commissiondomain.Commission, error) {
	return nil, nil
}
func (r *commissionRecorder) CreatePayoutBatch(ctx context.Context, groupID, brokerID snowflake.ID) (*commissiondomain.PayoutBatch, error) {
	return nil, nil
}
func (r *commissionRecorder) ProcessPayout(ctx context.Context, batchID snowflake.ID) (*commissiondomain.PayoutBatch, error) {
	return nil, nil
}
func (r *commissionRecorder) ListByApplication(ctx context.Context, applicationID snowflake.ID) ([]commissiondomain.Commission, error) {
	return nil, nil
}
func (r *commissionRecorder) ListByBroker(ctx context.Context, groupID, brokerID snowflake.ID) ([]commissiondomain.Commission, error) {
	return nil, nil
}
func (r *commissionRecorder) EarningsSummary(ctx context.Context, groupID, brokerID snowflake.ID) (*commissiondomain.EarningsSummary, error) {
	return nil, nil
}
func (r *commissionRecorder) RenderStatement(ctx context.Context, groupID, brokerID snowflake.ID) ([]byte, error) {
	return nil, nil
}
func (r *commissionRecorder) UpsertRule(ctx context.Context, rule commissiondomain.CommissionRule) (*commissiondomain.CommissionRule, error) {
	return nil, nil
}
func (r *commissionRecorder) ListRules(ctx context.Context, groupID snowflake.ID) ([]commissiondomain.CommissionRule, error) {
	return nil, nil
}

type appFixture struct {
	svc        applicationdomain.Service
	db         *gorm.DB
	clock      *clock.FakeClock
	node       *snowflake.Node
	commission *commissionRecorder
	groupID    snowflake.ID
}

func setupApplicationService(t *testing.T) *appFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&applicationdomain.Application{},
		&applicationdomain.ApplicationStatusHistory{},
		&progressdomain.ApplicationProgress{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 2, 17, 10, 30, 0, 0, time.UTC))
	recorder := &commissionRecorder{}

	svc := NewService(ServiceParam{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         fake,
		CommissionSvc: recorder,
	})

	return &appFixture{
		svc:        svc,
		db:         db,
		clock:      fake,
		node:       node,
		commission: recorder,
		groupID:    node.Generate(),
	}
}

func (f *appFixture) createApplication(t *testing.T, mutate ...func(*applicationdomain.CreateApplicationRequest)) *applicationdomain.Application {
	t.Helper()
	req := applicationdomain.CreateApplicationRequest{
		GroupID:     f.groupID,
		ApplicantID: f.node.Generate(),
		LoanType:    "mortgage",
		Amount:      decimal.NewFromInt(350_000),
		TermMonths:  240,
	}
	for _, m := range mutate {
		m(&req)
	}
	app, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	return app
}

func TestCreateValidation(t *testing.T) {
	f := setupApplicationService(t)
	ctx := context.Background()

	base := applicationdomain.CreateApplicationRequest{
		GroupID:     f.groupID,
		ApplicantID: f.node.Generate(),
		LoanType:    "auto",
		Amount:      decimal.NewFromInt(20_000),
		TermMonths:  48,
	}

	cases := []struct {
		name   string
		mutate func(*applicationdomain.CreateApplicationRequest)
		want   error
	}{
		{"missing group", func(r *applicationdomain.CreateApplicationRequest) { r.GroupID = 0 }, applicationdomain.ErrInvalidGroup},
		{"missing applicant", func(r *applicationdomain.CreateApplicationRequest) { r.ApplicantID = 0 }, applicationdomain.ErrInvalidApplicant},
		{"blank loan type", func(r *applicationdomain.CreateApplicationRequest) { r.LoanType = "   " }, applicationdomain.ErrInvalidLoanType},
		{"zero amount", func(r *applicationdomain.CreateApplicationRequest) { r.Amount = decimal.Zero }, applicationdomain.ErrInvalidAmount},
		{"negative amount", func(r *applicationdomain.CreateApplicationRequest) { r.Amount = decimal.NewFromInt(-1) }, applicationdomain.ErrInvalidAmount},
		{"zero term", func(r *applicationdomain.CreateApplicationRequest) { r.TermMonths = 0 }, applicationdomain.ErrInvalidTerm},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			_, err := f.svc.Create(ctx, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateSeedsHistoryAndProgress(t *testing.T) {
	f := setupApplicationService(t)
	ctx := context.Background()

	app := f.createApplication(t)

	assert.Equal(t, applicationdomain.StatusPending, app.Status)
	assert.True(t, strings.HasPrefix(app.ApplicationNumber, "APP"))
	assert.Len(t, app.ApplicationNumber, 11)

	history, err := f.svc.StatusHistory(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, applicationdomain.StatusPending, history[0].Status)
	assert.Equal(t, "application created", history[0].Notes)
	assert.Nil(t, history[0].ChangedBy)

	var progress progressdomain.ApplicationProgress
	require.NoError(t, f.db.Where("application_id = ?", app.ID).First(&progress).Error)
	assert.Equal(t, 0, progress.CurrentStep)

	steps, err := progress.DecodeSteps()
	require.NoError(t, err)
	assert.True(t, steps[0].Completed)
	for i := 1; i < progressdomain.StepCount; i++ {
		assert.False(t, steps[i].Completed, "step %d", i)
	}
}

func TestApplicationNumbersAreUnique(t *testing.T) {
	f := setupApplicationService(t)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		app := f.createApplication(t)
		assert.False(t, seen[app.ApplicationNumber], "duplicate %s", app.ApplicationNumber)
		seen[app.ApplicationNumber] = true
	}
}

func TestSubmitOnlyFromPending(t *testing.T) {
	f := setupApplicationService(t)
	ctx := context.Background()

	app := f.createApplication(t)
	actor := f.node.Generate()

	f.clock.Advance(time.Minute)
	submitted, err := f.svc.Submit(ctx, app.ID, &actor)
	require.NoError(t, err)
	assert.Equal(t, applicationdomain.StatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)
	assert.Equal(t, []string{commissiondomain.TriggerApplicationSubmitted}, f.commission.events)

	_, err = f.svc.Submit(ctx, app.ID, &actor)
	assert.ErrorIs(t, err, applicationdomain.ErrNotSubmittable)
}

func TestUpdateStatusStampsDatesAndHistory(t *testing.T) {
	f := setupApplicationService(t)
	ctx := context.Background()

	app := f.createApplication(t)
	actor := f.node.Generate()

	f.clock.Advance(time.Hour)
	approved, err := f.svc.UpdateStatus(ctx, app.ID, applicationdomain.StatusApproved, "meets criteria", &actor)
	require.NoError(t, err)
	require.NotNil(t, approved.DecisionAt)
	assert.True(t, approved.DecisionAt.Equal(f.clock.Now()))
	assert.Nil(t, approved.FundedAt)

	f.clock.Advance(time.Hour)
	funded, err := f.svc.UpdateStatus(ctx, app.ID, applicationdomain.StatusFunded, "", &actor)
	require.NoError(t, err)
	require.NotNil(t, funded.FundedAt)
	assert.True(t, funded.FundedAt.Equal(f.clock.Now()))

	history, err := f.svc.StatusHistory(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, applicationdomain.StatusApproved, history[1].Status)
	assert.Equal(t, "meets criteria", history[1].Notes)
	require.NotNil(t, history[1].ChangedBy)
	assert.Equal(t, actor, *history[1].ChangedBy)
	assert.Equal(t, applicationdomain.StatusFunded, history[2].Status)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	f := setupApplicationService(t)

	app := f.createApplication(t)
	_, err := f.svc.UpdateStatus(context.Background(), app.ID, "shredded", "", nil)
	assert.ErrorIs(t, err, applicationdomain.ErrInvalidStatus)
}

func TestCommissionTriggersFire(t *testing.T) {
	f := setupApplicationService(t)
	ctx := context.Background()

	app := f.createApplication(t)

	_, err := f.svc.Submit(ctx, app.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, app.ID, applicationdomain.StatusUnderReview, "", nil)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, app.ID, applicationdomain.StatusApproved, "", nil)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, app.ID, applicationdomain.StatusFunded, "", nil)
	require.NoError(t, err)

	// under_review fires no trigger.
	assert.Equal(t, []string{
		commissiondomain.TriggerApplicationSubmitted,
		commissiondomain.TriggerApplicationApproved,
		commissiondomain.TriggerLoanFunded,
	}, f.commission.events)
}

func TestCommissionFailureDoesNotRollBackStatus(t *testing.T) {
	f := setupApplicationService(t)
	ctx := context.Background()

	app := f.createApplication(t)
	f.commission.fail = errors.New("rule lookup failed")

	updated, err := f.svc.UpdateStatus(ctx, app.ID, applicationdomain.StatusApproved, "", nil)
	require.NoError(t, err)
	assert.Equal(t, applicationdomain.StatusApproved, updated.Status)

	got, err := f.svc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, applicationdomain.StatusApproved, got.Status)
}

func TestGetNotFound(t *testing.T) {
	f := setupApplicationService(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, 0)
	assert.ErrorIs(t, err, applicationdomain.ErrApplicationNotFound)
	_, err = f.svc.Get(ctx, f.node.Generate())
	assert.ErrorIs(t, err, applicationdomain.ErrApplicationNotFound)
}

func TestListFilters(t *testing.T) {
	f := setupApplicationService(t)
	ctx := context.Background()

	applicant := f.node.Generate()
	broker := f.node.Generate()

	first := f.createApplication(t, func(r *applicationdomain.CreateApplicationRequest) {
		r.ApplicantID = applicant
	})
	second := f.createApplication(t, func(r *applicationdomain.CreateApplicationRequest) {
		r.BrokerID = &broker
	})
	f.createApplication(t, func(r *applicationdomain.CreateApplicationRequest) {
		r.GroupID = f.node.Generate()
	})

	_, err := f.svc.Submit(ctx, second.ID, nil)
	require.NoError(t, err)

	all, err := f.svc.List(ctx, applicationdomain.ListApplicationsRequest{GroupID: f.groupID})
	require.NoError(t, err)
	assert.Len(t, all.Applications, 2)

	byApplicant, err := f.svc.List(ctx, applicationdomain.ListApplicationsRequest{
		GroupID:     f.groupID,
		ApplicantID: &applicant,
	})
	require.NoError(t, err)
	require.Len(t, byApplicant.Applications, 1)
	assert.Equal(t, first.ID, byApplicant.Applications[0].ID)

	byBroker, err := f.svc.List(ctx, applicationdomain.ListApplicationsRequest{
		GroupID:  f.groupID,
		BrokerID: &broker,
	})
	require.NoError(t, err)
	require.Len(t, byBroker.Applications, 1)
	assert.Equal(t, second.ID, byBroker.Applications[0].ID)

	submitted, err := f.svc.List(ctx, applicationdomain.ListApplicationsRequest{
		GroupID: f.groupID,
		Status:  applicationdomain.StatusSubmitted,
	})
	require.NoError(t, err)
	require.Len(t, submitted.Applications, 1)
	assert.Equal(t, second.ID, submitted.Applications[0].ID)

	_, err = f.svc.List(ctx, applicationdomain.ListApplicationsRequest{
		GroupID: f.groupID,
		Status:  "misplaced",
	})
	assert.ErrorIs(t, err, applicationdomain.ErrInvalidStatus)

	_, err = f.svc.List(ctx, applicationdomain.ListApplicationsRequest{})
	assert.ErrorIs(t, err, applicationdomain.ErrInvalidGroup)
}

func TestListPaginatesWithCursor(t *testing.T) {
	f := setupApplicationService(t)
	ctx := context.Background()

	ids := make([]snowflake.ID, 0, 5)
	for i := 0; i < 5; i++ {
		app := f.createApplication(t)
		ids = append(ids, app.ID)
		f.clock.Advance(time.Minute)
	}

	first, err := f.svc.List(ctx, applicationdomain.ListApplicationsRequest{
		GroupID: f.groupID,
		Page:    pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.Applications, 2)
	require.NotNil(t, first.PageInfo)
	assert.True(t, first.PageInfo.HasMore)
	require.NotEmpty(t, first.PageInfo.NextPageToken)

	// Newest first.
	assert.Equal(t, ids[4], first.Applications[0].ID)
	assert.Equal(t, ids[3], first.Applications[1].ID)

	second, err := f.svc.List(ctx, applicationdomain.ListApplicationsRequest{
		GroupID: f.groupID,
		Page:    pagination.Pagination{PageSize: 2, PageToken: first.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.Applications, 2)
	assert.Equal(t, ids[2], second.Applications[0].ID)
	assert.Equal(t, ids[1], second.Applications[1].ID)
	assert.True(t, second.PageInfo.HasMore)

	last, err := f.svc.List(ctx, applicationdomain.ListApplicationsRequest{
		GroupID: f.groupID,
		Page:    pagination.Pagination{PageSize: 2, PageToken: second.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, last.Applications, 1)
	assert.Equal(t, ids[0], last.Applications[0].ID)
	assert.False(t, last.PageInfo.HasMore)
	assert.Empty(t, last.PageInfo.NextPageToken)
}
