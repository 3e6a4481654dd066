package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/MacJediWizard/activator/internal/notifications"
	"github.com/MacJediWizard/activator/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Dialogue receives activation events for a requester.
type Dialogue interface {
	Handle(ctx context.Context, requesterID int64, ev session.Event) (session.State, error)
}

// ActivateRequest is the body of activate and restart calls.
type ActivateRequest struct {
	Username string `json:"username"`
}

// AnswerRequest carries a free-text answer.
type AnswerRequest struct {
	Text string `json:"text"`
}

// IngressResponse reports the dialogue state after an event.
type IngressResponse struct {
	RequesterID int64  `json:"requester_id"`
	State       string `json:"state"`
	// Delivered is false when the outbound notification for this step failed.
	// The dialogue has advanced either way.
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// IngressHandler turns transport calls into dialogue events.
type IngressHandler struct {
	dialogue Dialogue
	logger   zerolog.Logger
}

// NewIngressHandler creates a new IngressHandler.
func NewIngressHandler(dialogue Dialogue, logger zerolog.Logger) *IngressHandler {
	return &IngressHandler{
		dialogue: dialogue,
		logger:   logger.With().Str("component", "ingress_handler").Logger(),
	}
}

// RegisterRoutes registers ingress routes on the given router group.
func (h *IngressHandler) RegisterRoutes(r *gin.RouterGroup) {
	requesters := r.Group("/requesters/:id")
	{
		requesters.POST("/activate", h.Activate)
		requesters.POST("/answer", h.Answer)
		requesters.POST("/confirm", h.Confirm)
		requesters.POST("/cancel-action", h.CancelAction)
		requesters.POST("/cancel", h.Cancel)
		requesters.POST("/restart", h.Restart)
	}
}

// Activate starts a new dialogue.
// POST /api/v1/requesters/:id/activate
func (h *IngressHandler) Activate(c *gin.Context) {
	var req ActivateRequest
	if !bindOptional(c, &req) {
		return
	}
	h.dispatch(c, session.Activate{Username: req.Username})
}

// Answer submits a free-text answer.
// POST /api/v1/requesters/:id/answer
func (h *IngressHandler) Answer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.dispatch(c, session.Text{Text: req.Text})
}

// Confirm accepts the summary.
// POST /api/v1/requesters/:id/confirm
func (h *IngressHandler) Confirm(c *gin.Context) {
	h.dispatch(c, session.Confirm{})
}

// CancelAction is the cancel button shown with the summary.
// POST /api/v1/requesters/:id/cancel-action
func (h *IngressHandler) CancelAction(c *gin.Context) {
	h.dispatch(c, session.CancelAction{})
}

// Cancel aborts the dialogue.
// POST /api/v1/requesters/:id/cancel
func (h *IngressHandler) Cancel(c *gin.Context) {
	h.dispatch(c, session.CancelCommand{})
}

// Restart starts the dialogue over.
// POST /api/v1/requesters/:id/restart
func (h *IngressHandler) Restart(c *gin.Context) {
	var req ActivateRequest
	if !bindOptional(c, &req) {
		return
	}
	h.dispatch(c, session.Restart{Username: req.Username})
}

func (h *IngressHandler) dispatch(c *gin.Context, ev session.Event) {
	requesterID, ok := requesterParam(c)
	if !ok {
		return
	}

	state, err := h.dialogue.Handle(c.Request.Context(), requesterID, ev)
	resp := IngressResponse{
		RequesterID: requesterID,
		State:       state.String(),
		Delivered:   err == nil,
	}
	if err != nil {
		if !errors.Is(err, notifications.ErrDelivery) {
			h.logger.Error().Err(err).Int64("requester_id", requesterID).Msg("dialogue event failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
			return
		}
		h.logger.Warn().Err(err).Int64("requester_id", requesterID).Msg("dialogue notification not delivered")
		resp.Error = "notification delivery failed"
	}
	c.JSON(http.StatusOK, resp)
}

// requesterParam parses the :id path parameter, writing a 400 on failure.
func requesterParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid requester id"})
		return 0, false
	}
	return id, true
}

// bindOptional binds a JSON body when one is present.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}
