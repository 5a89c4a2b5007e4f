package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	groupdomain "github.com/omnifin/platform/internal/group/domain"
)

type createGroupRequest struct {
	Name string `json:"name"`
}

func (s *Server) CreateGroup(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok || userID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	group, err := s.groupSvc.Create(c.Request.Context(), userID, groupdomain.CreateGroupRequest{
		Name: req.Name,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, group)
}

func (s *Server) GetGroup(c *gin.Context) {
	group, err := s.groupSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (s *Server) ListGroupMembers(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	members, err := s.groupSvc.ListMembers(c.Request.Context(), groupID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type addMemberRequest struct {
	UserID snowflake.ID `json:"user_id"`
	Role   string       `json:"role"`
}

func (s *Server) AddGroupMember(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.groupSvc.AddMember(c.Request.Context(), groupID, req.UserID, req.Role); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
