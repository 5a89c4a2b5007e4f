package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	applicationdomain "github.com/omnifin/platform/internal/application/domain"
	"github.com/omnifin/platform/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

type createApplicationRequest struct {
	ApplicantID  snowflake.ID    `json:"applicant_id"`
	BrokerID     *snowflake.ID   `json:"broker_id,omitempty"`
	LoanType     string          `json:"loan_type"`
	LoanPurpose  string          `json:"loan_purpose"`
	Amount       decimal.Decimal `json:"amount"`
	TermMonths   int             `json:"term_months"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

func (s *Server) CreateApplication(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	var req createApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	applicantID := req.ApplicantID
	if applicantID == 0 {
		if id, ok := actorID(c); ok {
			applicantID = id
		}
	}

	app, err := s.applicationSvc.Create(c.Request.Context(), applicationdomain.CreateApplicationRequest{
		GroupID:      groupID,
		ApplicantID:  applicantID,
		BrokerID:     req.BrokerID,
		LoanType:     req.LoanType,
		LoanPurpose:  req.LoanPurpose,
		Amount:       req.Amount,
		TermMonths:   req.TermMonths,
		InterestRate: req.InterestRate,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, app)
}

func (s *Server) ListApplications(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req := applicationdomain.ListApplicationsRequest{
		GroupID: groupID,
		Status:  applicationdomain.ApplicationStatus(strings.TrimSpace(c.Query("status"))),
		Page:    page,
	}
	if raw := strings.TrimSpace(c.Query("applicant_id")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.ApplicantID = &id
	}
	if raw := strings.TrimSpace(c.Query("broker_id")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.BrokerID = &id
	}

	resp, err := s.applicationSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetApplication(c *gin.Context) {
	appID, ok := pathID(c, "id")
	if !ok {
		return
	}

	app, err := s.applicationSvc.Get(c.Request.Context(), appID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (s *Server) SubmitApplication(c *gin.Context) {
	appID, ok := pathID(c, "id")
	if !ok {
		return
	}

	app, err := s.applicationSvc.Submit(c.Request.Context(), appID, actorIDRef(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

func (s *Server) UpdateApplicationStatus(c *gin.Context) {
	appID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	app, err := s.applicationSvc.UpdateStatus(c.Request.Context(), appID,
		applicationdomain.ApplicationStatus(req.Status), req.Notes, actorIDRef(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (s *Server) GetStatusHistory(c *gin.Context) {
	appID, ok := pathID(c, "id")
	if !ok {
		return
	}

	history, err := s.applicationSvc.StatusHistory(c.Request.Context(), appID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}
