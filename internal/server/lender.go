package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	lenderdomain "github.com/omnifin/platform/internal/lender/domain"
	"github.com/omnifin/platform/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

type addLenderRequest struct {
	Name           string          `json:"name"`
	Code           string          `json:"code"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	MinLoanAmount  decimal.Decimal `json:"min_loan_amount"`
	MaxLoanAmount  decimal.Decimal `json:"max_loan_amount"`
	SupportedTypes []string        `json:"supported_types,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

func (s *Server) AddLender(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	var req addLenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	lender, err := s.lenderSvc.AddLender(c.Request.Context(), lenderdomain.AddLenderRequest{
		GroupID:        groupID,
		Name:           req.Name,
		Code:           req.Code,
		CommissionRate: req.CommissionRate,
		MinLoanAmount:  req.MinLoanAmount,
		MaxLoanAmount:  req.MaxLoanAmount,
		SupportedTypes: req.SupportedTypes,
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lender)
}

func (s *Server) ListLenders(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.lenderSvc.ListLenders(c.Request.Context(), lenderdomain.ListLendersRequest{
		GroupID: groupID,
		Page:    page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) SetLenderActive(c *gin.Context) {
	lenderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	active := !strings.EqualFold(c.Query("active"), "false")
	lender, err := s.lenderSvc.SetLenderActive(c.Request.Context(), lenderID, active)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lender)
}

func (s *Server) MatchLenders(c *gin.Context) {
	appID, ok := pathID(c, "id")
	if !ok {
		return
	}

	lenders, err := s.lenderSvc.MatchLenders(c.Request.Context(), appID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lenders": lenders})
}

type createOfferRequest struct {
	ApplicationID snowflake.ID    `json:"application_id"`
	LenderID      snowflake.ID    `json:"lender_id"`
	Amount        decimal.Decimal `json:"amount"`
	InterestRate  decimal.Decimal `json:"interest_rate"`
	TermMonths    int             `json:"term_months"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

func (s *Server) CreateOffer(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	offer, err := s.lenderSvc.CreateOffer(c.Request.Context(), lenderdomain.CreateOfferRequest{
		ApplicationID: req.ApplicationID,
		LenderID:      req.LenderID,
		Amount:        req.Amount,
		InterestRate:  req.InterestRate,
		TermMonths:    req.TermMonths,
		ActorID:       actor,
		Metadata:      req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

func (s *Server) ListOffers(c *gin.Context) {
	appID, ok := pathID(c, "id")
	if !ok {
		return
	}

	offers, err := s.lenderSvc.ListOffers(c.Request.Context(), appID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

func (s *Server) AcceptOffer(c *gin.Context) {
	offerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	actor, ok := actorID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	offer, err := s.lenderSvc.AcceptOffer(c.Request.Context(), offerID, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}
