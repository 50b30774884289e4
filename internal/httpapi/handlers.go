package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"voip-session/internal/engine"
	"voip-session/internal/session"
	"voip-session/pkg/logger"
)

// Handlers exposes the session controller over HTTP. The HTTP layer is a
// thin translation: all state lives in the controller.
type Handlers struct {
	Session *session.Controller
}

func NewHandlers(ctrl *session.Controller) *Handlers {
	return &Handlers{Session: ctrl}
}

type loginRequest struct {
	AccessKeyID     string `json:"access_key_id" binding:"required"`
	AccessKeySecret string `json:"access_key_secret" binding:"required"`
	UserID          string `json:"user_id" binding:"required"`
}

func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Session.Login(req.AccessKeyID, req.AccessKeySecret, req.UserID); err != nil {
		writeSessionError(c, err)
		return
	}
	h.writeSnapshot(c, http.StatusOK)
}

func (h *Handlers) Logout(c *gin.Context) {
	if err := h.Session.Logout(); err != nil {
		writeSessionError(c, err)
		return
	}
	h.writeSnapshot(c, http.StatusOK)
}

func (h *Handlers) GetSnapshot(c *gin.Context) {
	h.writeSnapshot(c, http.StatusOK)
}

type startCallRequest struct {
	Kind          string `json:"kind" binding:"required"`
	Destination   string `json:"destination"`
	CallerID      string `json:"caller_id"`
	DisplayName   string `json:"display_name"`
	DisplayAvatar string `json:"display_avatar"`
	RecordEnabled bool   `json:"record_enabled"`
}

func (h *Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := h.Session.StartCall(session.StartCallRequest{
		Kind:          engine.AddressKind(req.Kind),
		Destination:   req.Destination,
		CallerID:      req.CallerID,
		DisplayName:   req.DisplayName,
		DisplayAvatar: req.DisplayAvatar,
		RecordEnabled: req.RecordEnabled,
	})
	if err != nil {
		writeSessionError(c, err)
		return
	}
	h.writeSnapshot(c, http.StatusAccepted)
}

func (h *Handlers) StopCall(c *gin.Context) {
	if err := h.Session.StopCall(); err != nil {
		writeSessionError(c, err)
		return
	}
	h.writeSnapshot(c, http.StatusOK)
}

type answerRequest struct {
	RecordEnabled bool `json:"record_enabled"`
}

func (h *Handlers) AnswerCall(c *gin.Context) {
	var req answerRequest
	// An empty body answers with defaults.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := h.Session.AnswerCall(session.AnswerOptions{RecordEnabled: req.RecordEnabled}); err != nil {
		writeSessionError(c, err)
		return
	}
	h.writeSnapshot(c, http.StatusOK)
}

func (h *Handlers) RejectCall(c *gin.Context) {
	if err := h.Session.RejectCall(); err != nil {
		writeSessionError(c, err)
		return
	}
	h.writeSnapshot(c, http.StatusOK)
}

type muteRequest struct {
	Mute *bool `json:"mute" binding:"required"`
}

func (h *Handlers) SetMute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Session.SetMute(*req.Mute); err != nil {
		writeSessionError(c, err)
		return
	}
	h.writeSnapshot(c, http.StatusOK)
}

func (h *Handlers) ListMissedCalls(c *gin.Context) {
	snap, err := h.Session.Snapshot()
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"missed_calls": snap.MissedCalls})
}

func (h *Handlers) ClearMissedCalls(c *gin.Context) {
	if err := h.Session.ClearMissedCalls(); err != nil {
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) writeSnapshot(c *gin.Context, status int) {
	snap, err := h.Session.Snapshot()
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(status, snap)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func writeSessionError(c *gin.Context, err error) {
	switch {
	case session.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case session.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.FromGin(c).Error("session operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
