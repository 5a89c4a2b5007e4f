package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	applicationdomain "github.com/omnifin/platform/internal/application/domain"
	"github.com/omnifin/platform/internal/clock"
	lenderdomain "github.com/omnifin/platform/internal/lender/domain"
	"github.com/omnifin/platform/pkg/db"
	"github.com/omnifin/platform/pkg/db/option"
	"github.com/omnifin/platform/pkg/db/pagination"
	"github.com/omnifin/platform/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxListRows caps unpaginated list queries.
const maxListRows = 250

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	AppSvc applicationdomain.Service
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID  *snowflake.Node
	clock  clock.Clock
	appSvc applicationdomain.Service

	lenderRepo repository.Repository[lenderdomain.Lender]
	offerRepo  repository.Repository[lenderdomain.LoanOffer]
}

func NewService(p ServiceParam) lenderdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("lender.service"),

		genID:  p.GenID,
		clock:  p.Clock,
		appSvc: p.AppSvc,

		lenderRepo: repository.ProvideStore[lenderdomain.Lender](p.DB),
		offerRepo:  repository.ProvideStore[lenderdomain.LoanOffer](p.DB),
	}
}

func (s *Service) AddLender(ctx context.Context, req lenderdomain.AddLenderRequest) (*lenderdomain.Lender, error) {
	if req.GroupID == 0 {
		return nil, lenderdomain.ErrInvalidGroup
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, lenderdomain.ErrInvalidName
	}
	if req.MinLoanAmount.IsNegative() || req.MaxLoanAmount.IsNegative() ||
		req.MaxLoanAmount.LessThan(req.MinLoanAmount) {
		return nil, lenderdomain.ErrInvalidLoanBounds
	}

	supported, err := json.Marshal(req.SupportedTypes)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	lender := lenderdomain.Lender{
		ID:             s.genID.Generate(),
		GroupID:        req.GroupID,
		Name:           name,
		Code:           strings.ToUpper(strings.TrimSpace(req.Code)),
		CommissionRate: req.CommissionRate,
		MinLoanAmount:  req.MinLoanAmount,
		MaxLoanAmount:  req.MaxLoanAmount,
		SupportedTypes: supported,
		IsActive:       true,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if lender.Metadata == nil {
		lender.Metadata = map[string]any{}
	}
	if err := s.lenderRepo.Create(ctx, &lender); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, lenderdomain.ErrDuplicateCode
		}
		return nil, err
	}
	return &lender, nil
}

func (s *Service) GetLender(ctx context.Context, lenderID snowflake.ID) (*lenderdomain.Lender, error) {
	lender, err := s.lenderRepo.FindOne(ctx, lenderdomain.Lender{ID: lenderID})
	if err != nil {
		return nil, err
	}
	if lender == nil {
		return nil, lenderdomain.ErrLenderNotFound
	}
	return lender, nil
}

func (s *Service) ListLenders(ctx context.Context, req lenderdomain.ListLendersRequest) (lenderdomain.ListLendersResponse, error) {
	var resp lenderdomain.ListLendersResponse
	if req.GroupID == 0 {
		return resp, lenderdomain.ErrInvalidGroup
	}

	query := s.db.WithContext(ctx).
		Model(&lenderdomain.Lender{}).
		Where("group_id = ?", req.GroupID)
	query = option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}).Apply(query)
	query = option.ApplyPagination(req.Page).Apply(query)

	var lenders []lenderdomain.Lender
	if err := query.Find(&lenders).Error; err != nil {
		return resp, err
	}

	resp.Lenders, resp.PageInfo = pagination.BuildPage(lenders, req.Page.PageSize,
		func(l lenderdomain.Lender) pagination.Cursor {
			return pagination.Cursor{ID: l.ID.String(), CreatedAt: l.CreatedAt}
		})
	return resp, nil
}

func (s *Service) SetLenderActive(ctx context.Context, lenderID snowflake.ID, active bool) (*lenderdomain.Lender, error) {
	lender, err := s.GetLender(ctx, lenderID)
	if err != nil {
		return nil, err
	}
	lender.IsActive = active
	lender.UpdatedAt = s.clock.Now()
	if err := s.lenderRepo.Update(ctx, lender); err != nil {
		return nil, err
	}
	return lender, nil
}

func (s *Service) MatchLenders(ctx context.Context, applicationID snowflake.ID) ([]lenderdomain.Lender, error) {
	app, err := s.appSvc.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	var candidates []lenderdomain.Lender
	err = s.db.WithContext(ctx).
		Where("group_id = ? AND is_active = ?", app.GroupID, true).
		Order("commission_rate ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	matched := make([]lenderdomain.Lender, 0, len(candidates))
	for _, lender := range candidates {
		if app.Amount.LessThan(lender.MinLoanAmount) || app.Amount.GreaterThan(lender.MaxLoanAmount) {
			continue
		}
		if !supportsLoanType(lender.SupportedTypes, app.LoanType) {
			continue
		}
		matched = append(matched, lender)
	}
	return matched, nil
}

// supportsLoanType treats an empty list as "all loan types".
func supportsLoanType(raw []byte, loanType string) bool {
	if len(raw) == 0 {
		return true
	}
	var types []string
	if err := json.Unmarshal(raw, &types); err != nil {
		return false
	}
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if strings.EqualFold(t, loanType) {
			return true
		}
	}
	return false
}

func (s *Service) CreateOffer(ctx context.Context, req lenderdomain.CreateOfferRequest) (*lenderdomain.LoanOffer, error) {
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return nil, lenderdomain.ErrInvalidAmount
	}
	if req.TermMonths <= 0 {
		return nil, lenderdomain.ErrInvalidTerm
	}

	app, err := s.appSvc.Get(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	lender, err := s.GetLender(ctx, req.LenderID)
	if err != nil {
		return nil, err
	}
	if !lender.IsActive {
		return nil, lenderdomain.ErrLenderInactive
	}

	now := s.clock.Now()
	offer := lenderdomain.LoanOffer{
		ID:            s.genID.Generate(),
		GroupID:       app.GroupID,
		ApplicationID: app.ID,
		LenderID:      lender.ID,
		Amount:        req.Amount,
		InterestRate:  req.InterestRate,
		TermMonths:    req.TermMonths,
		Status:        lenderdomain.OfferPending,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if offer.Metadata == nil {
		offer.Metadata = map[string]any{}
	}
	if err := s.offerRepo.Create(ctx, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (s *Service) ListOffers(ctx context.Context, applicationID snowflake.ID) ([]lenderdomain.LoanOffer, error) {
	// Offers per application number in the handfuls; the cap bounds the
	// query without paginating it.
	query := option.WithLimit(maxListRows).Apply(s.db.WithContext(ctx))

	var offers []lenderdomain.LoanOffer
	err := query.
		Where("application_id = ?", applicationID).
		Order("created_at ASC").
		Find(&offers).Error
	return offers, err
}

func (s *Service) AcceptOffer(ctx context.Context, offerID snowflake.ID, actorID snowflake.ID) (*lenderdomain.LoanOffer, error) {
	now := s.clock.Now()
	var offer *lenderdomain.LoanOffer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		offer, err = s.lockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		switch offer.Status {
		case lenderdomain.OfferPending:
		case lenderdomain.OfferAccepted:
			return lenderdomain.ErrOfferAlreadyAccepted
		default:
			return lenderdomain.ErrOfferNotPending
		}

		var accepted int64
		if err := tx.WithContext(ctx).
			Model(&lenderdomain.LoanOffer{}).
			Where("application_id = ? AND status = ?", offer.ApplicationID, lenderdomain.OfferAccepted).
			Count(&accepted).Error; err != nil {
			return err
		}
		if accepted > 0 {
			return lenderdomain.ErrOfferAlreadyAccepted
		}

		offer.Status = lenderdomain.OfferAccepted
		acceptedAt := now
		offer.AcceptedAt = &acceptedAt
		offer.UpdatedAt = now
		if err := s.offerRepo.WithTrx(tx).Update(ctx, offer); err != nil {
			return err
		}

		return tx.WithContext(ctx).
			Model(&lenderdomain.LoanOffer{}).
			Where("application_id = ? AND id <> ? AND status = ?",
				offer.ApplicationID, offer.ID, lenderdomain.OfferPending).
			Updates(map[string]any{
				"status":     lenderdomain.OfferRejected,
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	actor := actorID
	if _, err := s.appSvc.UpdateStatus(ctx, offer.ApplicationID,
		applicationdomain.StatusApproved, "loan offer accepted", &actor); err != nil {
		return nil, err
	}
	return offer, nil
}

func (s *Service) lockOffer(ctx context.Context, tx *gorm.DB, offerID snowflake.ID) (*lenderdomain.LoanOffer, error) {
	var offer lenderdomain.LoanOffer
	var err error
	if db.SupportsRowLocks(tx) {
		err = tx.WithContext(ctx).Raw(
			`SELECT * FROM loan_offers WHERE id = ? FOR UPDATE`, offerID,
		).Scan(&offer).Error
	} else {
		err = tx.WithContext(ctx).
			Where("id = ?", offerID).
			Limit(1).
			Find(&offer).Error
	}
	if err != nil {
		return nil, err
	}
	if offer.ID == 0 {
		return nil, lenderdomain.ErrOfferNotFound
	}
	return &offer, nil
}
