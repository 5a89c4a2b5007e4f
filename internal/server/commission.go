package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListApplicationCommissions(c *gin.Context) {
	appID, ok := pathID(c, "id")
	if !ok {
		return
	}

	commissions, err := s.commissionSvc.ListByApplication(c.Request.Context(), appID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commissions": commissions})
}

func (s *Server) ListBrokerCommissions(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}
	brokerID, ok := pathID(c, "id")
	if !ok {
		return
	}

	commissions, err := s.commissionSvc.ListByBroker(c.Request.Context(), groupID, brokerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commissions": commissions})
}

func (s *Server) ApproveCommission(c *gin.Context) {
	commissionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	commission, err := s.commissionSvc.Approve(c.Request.Context(), commissionID, actorIDRef(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, commission)
}

type commissionReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) CancelCommission(c *gin.Context) {
	commissionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req commissionReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	commission, err := s.commissionSvc.Cancel(c.Request.Context(), commissionID, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, commission)
}

func (s *Server) DisputeCommission(c *gin.Context) {
	commissionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req commissionReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	commission, err := s.commissionSvc.Dispute(c.Request.Context(), commissionID, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, commission)
}

type createPayoutRequest struct {
	BrokerID snowflake.ID `json:"broker_id"`
}

func (s *Server) CreatePayoutBatch(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	var req createPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	batch, err := s.commissionSvc.CreatePayoutBatch(c.Request.Context(), groupID, req.BrokerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, batch)
}

func (s *Server) ProcessPayout(c *gin.Context) {
	batchID, ok := pathID(c, "id")
	if !ok {
		return
	}

	batch, err := s.commissionSvc.ProcessPayout(c.Request.Context(), batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) GetBrokerEarnings(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}
	brokerID, ok := pathID(c, "id")
	if !ok {
		return
	}

	summary, err := s.commissionSvc.EarningsSummary(c.Request.Context(), groupID, brokerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) GetBrokerStatement(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}
	brokerID, ok := pathID(c, "id")
	if !ok {
		return
	}

	pdfBytes, err := s.commissionSvc.RenderStatement(c.Request.Context(), groupID, brokerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="commission-statement.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdfBytes)
}
