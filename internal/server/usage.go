package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	usagedomain "github.com/omnifin/platform/internal/usage/domain"
)

type recordUsageRequest struct {
	SubscriptionID snowflake.ID   `json:"subscription_id"`
	UsageType      string         `json:"usage_type"`
	Tokens         int64          `json:"tokens"`
	Feature        string         `json:"feature,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (s *Server) RecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	usage, err := s.usageSvc.RecordUsage(c.Request.Context(), usagedomain.RecordUsageRequest{
		SubscriptionID: req.SubscriptionID,
		UsageType:      usagedomain.UsageType(req.UsageType),
		Tokens:         req.Tokens,
		Feature:        req.Feature,
		ActorID:        actorIDRef(c),
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (s *Server) GetUsageSummary(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	summary, err := s.usageSvc.GetGroupUsage(c.Request.Context(), groupID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) CheckUsageLimits(c *gin.Context) {
	groupID, ok := requestGroupID(c)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.GetActiveSubscription(c.Request.Context(), groupID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	check, err := s.usageSvc.CheckUsageLimits(c.Request.Context(), sub.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}
