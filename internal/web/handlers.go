// ABOUTME: HTTP handlers for message dispatch and session management
// ABOUTME: Responses use the dashboard's status/message/response envelope

package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wagate/wagate/internal/format"
	"github.com/wagate/wagate/internal/session"
)

// sendMessageRequest is the dispatch payload: which session sends what to whom.
type sendMessageRequest struct {
	Device   string `json:"device" binding:"required"`
	Receiver string `json:"receiver" binding:"required"`
	Message  string `json:"message" binding:"required"`
}

// createSessionRequest names a new session.
type createSessionRequest struct {
	ID          string `json:"id" binding:"required"`
	Description string `json:"description"`
}

// handleSendMessage dispatches one message through a live session.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status":  false,
			"message": err.Error(),
		})
		return
	}

	receiver := format.PhoneNumber(req.Receiver)

	receipt, err := s.supervisor.Send(c.Request.Context(), req.Device, receiver, req.Message)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status":  false,
			"message": fmt.Sprintf("The sender: %s is not found!", req.Device),
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":   false,
			"response": err.Error(),
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":   true,
			"response": receipt,
		})
	}
}

// handleCreateSession registers a new session and starts its handshake.
func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status":  false,
			"message": err.Error(),
		})
		return
	}

	err := s.supervisor.Create(c.Request.Context(), req.ID, req.Description)
	switch {
	case errors.Is(err, session.ErrDuplicateSession):
		// Creating an existing session is an idempotent no-op.
		c.JSON(http.StatusOK, gin.H{
			"status":  true,
			"message": fmt.Sprintf("Session %s already exists", req.ID),
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  false,
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"status":  true,
			"message": fmt.Sprintf("Session %s is being initialized", req.ID),
		})
	}
}

// handleRemoveSession tears a session down and purges its record.
func (s *Server) handleRemoveSession(c *gin.Context) {
	id := c.Param("id")

	err := s.supervisor.Remove(c.Request.Context(), id)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"status":  false,
			"message": fmt.Sprintf("The session: %s is not found!", id),
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  false,
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":  true,
			"message": fmt.Sprintf("Session %s removed", id),
		})
	}
}

// handleListSessions returns the persisted snapshot, readiness forced false.
func (s *Server) handleListSessions(c *gin.Context) {
	snapshot, err := s.supervisor.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  false,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   true,
		"sessions": snapshot,
	})
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
