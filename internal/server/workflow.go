package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	progressdomain "github.com/omnifin/platform/internal/progress/domain"
)

func (s *Server) GetProgress(c *gin.Context) {
	appID, ok := pathID(c, "id")
	if !ok {
		return
	}

	state, err := s.progressSvc.GetProgress(c.Request.Context(), appID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type completeStepRequest struct {
	Notes             string          `json:"notes,omitempty"`
	DocumentsVerified map[string]bool `json:"documents_verified,omitempty"`
	CreditCheckResult map[string]any  `json:"credit_check_result,omitempty"`
	Decision          string          `json:"decision,omitempty"`
}

func (s *Server) CompleteStep(c *gin.Context) {
	appID, ok := pathID(c, "id")
	if !ok {
		return
	}
	step, err := strconv.Atoi(strings.TrimSpace(c.Param("step")))
	if err != nil {
		AbortWithError(c, progressdomain.ErrInvalidStep)
		return
	}
	actor, ok := actorID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req completeStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	state, err := s.progressSvc.CompleteStep(c.Request.Context(), progressdomain.CompleteStepRequest{
		ApplicationID:     appID,
		Step:              step,
		ActorID:           actor,
		Notes:             req.Notes,
		DocumentsVerified: req.DocumentsVerified,
		CreditCheckResult: req.CreditCheckResult,
		Decision:          progressdomain.Decision(req.Decision),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type setCurrentStepRequest struct {
	Step     int    `json:"step"`
	Decision string `json:"decision,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

func (s *Server) SetCurrentStep(c *gin.Context) {
	appID, ok := pathID(c, "id")
	if !ok {
		return
	}
	actor, ok := actorID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req setCurrentStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	state, err := s.progressSvc.SetCurrentStep(c.Request.Context(), progressdomain.SetCurrentStepRequest{
		ApplicationID: appID,
		Step:          req.Step,
		ActorID:       actor,
		Decision:      progressdomain.Decision(req.Decision),
		Notes:         req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
