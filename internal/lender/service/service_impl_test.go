package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	applicationdomain "github.com/omnifin/platform/internal/application/domain"
	applicationservice "github.com/omnifin/platform/internal/application/service"
	"github.com/omnifin/platform/internal/clock"
	commissiondomain "github.com/omnifin/platform/internal/commission/domain"
	lenderdomain "github.com/omnifin/platform/internal/lender/domain"
	progressdomain "github.com/omnifin/platform/internal/progress/domain"
	"github.com/omnifin/platform/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopCommissions struct{}

func (noopCommissions) CalculateForEvent(ctx context.Context, app *applicationdomain.Application, triggerEvent string) (*commissiondomain.Commission, error) {
	return nil, nil
}
func (noopCommissions) Approve(ctx context.Context, id snowflake.ID, actorID *snowflake.ID) (*commissiondomain.Commission, error) {
	return nil, nil
}
func (noopCommissions) Cancel(ctx context.Context, id snowflake.ID, reason string) (*commissiondomain.Commission, error) {
	return nil, nil
}
func (noopCommissions) Dispute(ctx context.Context, id snowflake.ID, reason string) (*commissiondomain.Commission, error) {
	return nil, nil
}
func (noopCommissions) CreatePayoutBatch(ctx context.Context, groupID, brokerID snowflake.ID) (*commissiondomain.PayoutBatch, error) {
	return nil, nil
}
func (noopCommissions) ProcessPayout(ctx context.Context, batchID snowflake.ID) (*commissiondomain.PayoutBatch, error) {
	return nil, nil
}
func (noopCommissions) ListByApplication(ctx context.Context, applicationID snowflake.ID) ([]commissiondomain.Commission, error) {
	return nil, nil
}
func (noopCommissions) ListByBroker(ctx context.Context, groupID, brokerID snowflake.ID) ([]commissiondomain.Commission, error) {
	return nil, nil
}
func (noopCommissions) EarningsSummary(ctx context.Context, groupID, brokerID snowflake.ID) (*commissiondomain.EarningsSummary, error) {
	return nil, nil
}
func (noopCommissions) RenderStatement(ctx context.Context, groupID, brokerID snowflake.ID) ([]byte, error) {
	return nil, nil
}
func (noopCommissions) UpsertRule(ctx context.Context, rule commissiondomain.CommissionRule) (*commissiondomain.CommissionRule, error) {
	return nil, nil
}
func (noopCommissions) ListRules(ctx context.Context, groupID snowflake.ID) ([]commissiondomain.CommissionRule, error) {
	return nil, nil
}

type lenderFixture struct {
	svc     lenderdomain.Service
	appSvc  applicationdomain.Service
	db      *gorm.DB
	clock   *clock.FakeClock
	node    *snowflake.Node
	groupID snowflake.ID
}

func setupLenderService(t *testing.T) *lenderFixture {
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
		&lenderdomain.Lender{},
		&lenderdomain.LoanOffer{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 7, 20, 14, 0, 0, 0, time.UTC))

	appSvc := applicationservice.NewService(applicationservice.ServiceParam{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         fake,
		CommissionSvc: noopCommissions{},
	})

	svc := NewService(ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		AppSvc: appSvc,
	})

	return &lenderFixture{
		svc:     svc,
		appSvc:  appSvc,
		db:      db,
		clock:   fake,
		node:    node,
		groupID: node.Generate(),
	}
}

func (f *lenderFixture) addLender(t *testing.T, code string, min, max int64, types ...string) *lenderdomain.Lender {
	t.Helper()
	lender, err := f.svc.AddLender(context.Background(), lenderdomain.AddLenderRequest{
		GroupID:        f.groupID,
		Name:           code + " Capital",
		Code:           code,
		CommissionRate: decimal.RequireFromString("1.25"),
		MinLoanAmount:  decimal.NewFromInt(min),
		MaxLoanAmount:  decimal.NewFromInt(max),
		SupportedTypes: types,
	})
	require.NoError(t, err)
	return lender
}

func (f *lenderFixture) createApplication(t *testing.T, loanType string, amount int64) *applicationdomain.Application {
	t.Helper()
	app, err := f.appSvc.Create(context.Background(), applicationdomain.CreateApplicationRequest{
		GroupID:     f.groupID,
		ApplicantID: f.node.Generate(),
		LoanType:    loanType,
		Amount:      decimal.NewFromInt(amount),
		TermMonths:  60,
	})
	require.NoError(t, err)
	return app
}

func (f *lenderFixture) createOffer(t *testing.T, appID, lenderID snowflake.ID) *lenderdomain.LoanOffer {
	t.Helper()
	offer, err := f.svc.CreateOffer(context.Background(), lenderdomain.CreateOfferRequest{
		ApplicationID: appID,
		LenderID:      lenderID,
		Amount:        decimal.NewFromInt(50_000),
		InterestRate:  decimal.RequireFromString("6.5"),
		TermMonths:    60,
	})
	require.NoError(t, err)
	return offer
}

func TestAddLenderValidation(t *testing.T) {
	f := setupLenderService(t)
	ctx := context.Background()

	_, err := f.svc.AddLender(ctx, lenderdomain.AddLenderRequest{Name: "x"})
	assert.ErrorIs(t, err, lenderdomain.ErrInvalidGroup)

	_, err = f.svc.AddLender(ctx, lenderdomain.AddLenderRequest{GroupID: f.groupID, Name: "  "})
	assert.ErrorIs(t, err, lenderdomain.ErrInvalidName)

	_, err = f.svc.AddLender(ctx, lenderdomain.AddLenderRequest{
		GroupID:       f.groupID,
		Name:          "Backwards Bank",
		MinLoanAmount: decimal.NewFromInt(100),
		MaxLoanAmount: decimal.NewFromInt(50),
	})
	assert.ErrorIs(t, err, lenderdomain.ErrInvalidLoanBounds)

	_, err = f.svc.AddLender(ctx, lenderdomain.AddLenderRequest{
		GroupID:       f.groupID,
		Name:          "Negative Bank",
		MinLoanAmount: decimal.NewFromInt(-1),
	})
	assert.ErrorIs(t, err, lenderdomain.ErrInvalidLoanBounds)
}

func TestAddLenderNormalizesCode(t *testing.T) {
	f := setupLenderService(t)

	lender := f.addLender(t, " acme ", 0, 1_000_000)
	assert.Equal(t, "ACME", lender.Code)
	assert.True(t, lender.IsActive)
}

func TestAddLenderDuplicateCode(t *testing.T) {
	f := setupLenderService(t)

	f.addLender(t, "ACME", 0, 1_000_000)
	_, err := f.svc.AddLender(context.Background(), lenderdomain.AddLenderRequest{
		GroupID:       f.groupID,
		Name:          "Acme Again",
		Code:          "acme",
		MaxLoanAmount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, lenderdomain.ErrDuplicateCode)
}

func TestMatchLenders(t *testing.T) {
	f := setupLenderService(t)
	ctx := context.Background()

	// Bounds 10k-100k, any loan type.
	inRange := f.addLender(t, "RANGE", 10_000, 100_000)
	// Mortgage only.
	mortgageOnly := f.addLender(t, "HOMES", 10_000, 100_000, "mortgage")
	// Bounds exclude the application amount.
	f.addLender(t, "SMALL", 1_000, 5_000)
	// Inactive lenders never match.
	inactive := f.addLender(t, "GONE", 0, 1_000_000)
	_, err := f.svc.SetLenderActive(ctx, inactive.ID, false)
	require.NoError(t, err)

	app := f.createApplication(t, "mortgage", 50_000)
	matched, err := f.svc.MatchLenders(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, matched, 2)
	ids := []snowflake.ID{matched[0].ID, matched[1].ID}
	assert.Contains(t, ids, inRange.ID)
	assert.Contains(t, ids, mortgageOnly.ID)

	auto := f.createApplication(t, "auto", 50_000)
	matched, err = f.svc.MatchLenders(ctx, auto.ID)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, inRange.ID, matched[0].ID)
}

func TestMatchLendersLoanTypeIsCaseInsensitive(t *testing.T) {
	f := setupLenderService(t)

	lender := f.addLender(t, "CASED", 0, 1_000_000, "Mortgage")
	app := f.createApplication(t, "mortgage", 50_000)

	matched, err := f.svc.MatchLenders(context.Background(), app.ID)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, lender.ID, matched[0].ID)
}

func TestCreateOfferValidation(t *testing.T) {
	f := setupLenderService(t)
	ctx := context.Background()

	lender := f.addLender(t, "ACME", 0, 1_000_000)
	app := f.createApplication(t, "auto", 30_000)

	_, err := f.svc.CreateOffer(ctx, lenderdomain.CreateOfferRequest{
		ApplicationID: app.ID,
		LenderID:      lender.ID,
		TermMonths:    12,
	})
	assert.ErrorIs(t, err, lenderdomain.ErrInvalidAmount)

	_, err = f.svc.CreateOffer(ctx, lenderdomain.CreateOfferRequest{
		ApplicationID: app.ID,
		LenderID:      lender.ID,
		Amount:        decimal.NewFromInt(30_000),
	})
	assert.ErrorIs(t, err, lenderdomain.ErrInvalidTerm)

	_, err = f.svc.CreateOffer(ctx, lenderdomain.CreateOfferRequest{
		ApplicationID: f.node.Generate(),
		LenderID:      lender.ID,
		Amount:        decimal.NewFromInt(30_000),
		TermMonths:    12,
	})
	assert.ErrorIs(t, err, applicationdomain.ErrApplicationNotFound)

	_, err = f.svc.SetLenderActive(ctx, lender.ID, false)
	require.NoError(t, err)
	_, err = f.svc.CreateOffer(ctx, lenderdomain.CreateOfferRequest{
		ApplicationID: app.ID,
		LenderID:      lender.ID,
		Amount:        decimal.NewFromInt(30_000),
		TermMonths:    12,
	})
	assert.ErrorIs(t, err, lenderdomain.ErrLenderInactive)
}

func TestAcceptOfferRejectsSiblings(t *testing.T) {
	f := setupLenderService(t)
	ctx := context.Background()

	first := f.addLender(t, "ONE", 0, 1_000_000)
	second := f.addLender(t, "TWO", 0, 1_000_000)
	app := f.createApplication(t, "auto", 30_000)

	winner := f.createOffer(t, app.ID, first.ID)
	loser := f.createOffer(t, app.ID, second.ID)

	actor := f.node.Generate()
	accepted, err := f.svc.AcceptOffer(ctx, winner.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, lenderdomain.OfferAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)

	offers, err := f.svc.ListOffers(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	for _, o := range offers {
		if o.ID == loser.ID {
			assert.Equal(t, lenderdomain.OfferRejected, o.Status)
		}
	}

	updated, err := f.appSvc.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, applicationdomain.StatusApproved, updated.Status)
}

func TestAcceptOfferOnlyOnce(t *testing.T) {
	f := setupLenderService(t)
	ctx := context.Background()

	lender := f.addLender(t, "ONE", 0, 1_000_000)
	app := f.createApplication(t, "auto", 30_000)
	offer := f.createOffer(t, app.ID, lender.ID)

	actor := f.node.Generate()
	_, err := f.svc.AcceptOffer(ctx, offer.ID, actor)
	require.NoError(t, err)

	_, err = f.svc.AcceptOffer(ctx, offer.ID, actor)
	assert.ErrorIs(t, err, lenderdomain.ErrOfferAlreadyAccepted)

	// A second offer on the same application can no longer win.
	late := f.createOffer(t, app.ID, lender.ID)
	_, err = f.svc.AcceptOffer(ctx, late.ID, actor)
	assert.ErrorIs(t, err, lenderdomain.ErrOfferAlreadyAccepted)
}

func TestAcceptOfferNotFound(t *testing.T) {
	f := setupLenderService(t)

	_, err := f.svc.AcceptOffer(context.Background(), f.node.Generate(), f.node.Generate())
	assert.ErrorIs(t, err, lenderdomain.ErrOfferNotFound)
}

func TestAcceptRejectedOffer(t *testing.T) {
	f := setupLenderService(t)
	ctx := context.Background()

	first := f.addLender(t, "ONE", 0, 1_000_000)
	second := f.addLender(t, "TWO", 0, 1_000_000)
	app := f.createApplication(t, "auto", 30_000)

	winner := f.createOffer(t, app.ID, first.ID)
	loser := f.createOffer(t, app.ID, second.ID)

	actor := f.node.Generate()
	_, err := f.svc.AcceptOffer(ctx, winner.ID, actor)
	require.NoError(t, err)

	// The sibling was auto-rejected when the winner was accepted.
	_, err = f.svc.AcceptOffer(ctx, loser.ID, actor)
	assert.ErrorIs(t, err, lenderdomain.ErrOfferNotPending)
}

func TestGetLenderNotFound(t *testing.T) {
	f := setupLenderService(t)

	_, err := f.svc.GetLender(context.Background(), f.node.Generate())
	assert.ErrorIs(t, err, lenderdomain.ErrLenderNotFound)
}

func TestListLendersPaginatesWithCursor(t *testing.T) {
	f := setupLenderService(t)
	ctx := context.Background()

	codes := []string{"ALPHA", "BRAVO", "CHARLIE"}
	for _, code := range codes {
		f.addLender(t, code, 1_000, 1_000_000)
		f.clock.Advance(time.Minute)
	}

	first, err := f.svc.ListLenders(ctx, lenderdomain.ListLendersRequest{
		GroupID: f.groupID,
		Page:    pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.Lenders, 2)
	require.NotNil(t, first.PageInfo)
	assert.True(t, first.PageInfo.HasMore)

	// Newest first.
	assert.Equal(t, "CHARLIE", first.Lenders[0].Code)
	assert.Equal(t, "BRAVO", first.Lenders[1].Code)

	rest, err := f.svc.ListLenders(ctx, lenderdomain.ListLendersRequest{
		GroupID: f.groupID,
		Page:    pagination.Pagination{PageSize: 2, PageToken: first.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, rest.Lenders, 1)
	assert.Equal(t, "ALPHA", rest.Lenders[0].Code)
	assert.False(t, rest.PageInfo.HasMore)

	_, err = f.svc.ListLenders(ctx, lenderdomain.ListLendersRequest{})
	assert.ErrorIs(t, err, lenderdomain.ErrInvalidGroup)
}
