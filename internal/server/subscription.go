package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/omnifin/platform/internal/subscription/domain"
	"github.com/shopspring/decimal"
)

func (s *Server) ListPlans(c *gin.Context) {
	includeInactive := strings.EqualFold(c.Query("include_inactive"), "true")
	plans, err := s.subscriptionSvc.ListPlans(c.Request.Context(), includeInactive)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (s *Server) GetSubscription(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.GetActiveSubscription(c.Request.Context(), groupID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type subscribeRequest struct {
	PlanCode string `json:"plan_code"`
}

func (s *Server) Subscribe(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.subscriptionSvc.Subscribe(c.Request.Context(), groupID, req.PlanCode)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) ChangePlan(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.subscriptionSvc.ChangePlan(c.Request.Context(), groupID, req.PlanCode)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) CancelSubscription(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	if err := s.subscriptionSvc.Cancel(c.Request.Context(), groupID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type recordPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference,omitempty"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payment, err := s.subscriptionSvc.RecordPayment(c.Request.Context(), subscriptiondomain.RecordPaymentRequest{
		GroupID:   groupID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reference: req.Reference,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (s *Server) ListPayments(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	payments, err := s.subscriptionSvc.ListPayments(c.Request.Context(), groupID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}
