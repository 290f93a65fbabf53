package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/transport/http/middleware"
	"github.com/arklim/campus-platform-attendance/internal/usecase"
)

// SessionHandler exposes endpoints for session lifecycle and token management.
type SessionHandler struct {
	sessions *usecase.SessionService
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(sessions *usecase.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// RegisterRoutes binds session management routes to the provided router group.
// The group is expected to carry authentication and the instructor role check.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.POST("", h.CreateSession)
	r.GET("/:session_id", h.GetSession)
	r.POST("/:session_id/activate", h.ActivateSession)
	r.POST("/:session_id/token", h.IssueToken)
	r.POST("/:session_id/close", h.CloseSession)
	r.POST("/:session_id/cancel", h.CancelSession)
}

// CreateSession schedules a new attendance session owned by the caller.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	ownerID, ok := middleware.GetAuthenticatedSubjectID(c)
	if !ok || ownerID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req SessionCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid session payload"))
		return
	}

	input := usecase.OpenSessionInput{
		CourseID: req.CourseID,
		OwnerID:  ownerID,
		Geofence: domain.Geofence{
			Latitude:     req.Geofence.Latitude,
			Longitude:    req.Geofence.Longitude,
			RadiusMeters: req.Geofence.RadiusMeters,
		},
		OpensAt:  req.OpensAt,
		ClosesAt: req.ClosesAt,
		Security: domain.SecurityConfig{
			LocationRequired:      req.Security.LocationRequired,
			PhotoRequired:         req.Security.PhotoRequired,
			DeviceCheckRequired:   req.Security.DeviceCheckRequired,
			FraudDetectionEnabled: req.Security.FraudDetectionEnabled,
			MaxAttempts:           req.Security.MaxAttempts,
			GracePeriodSeconds:    req.Security.GracePeriodSeconds,
		},
	}

	session, err := h.sessions.Open(c.Request.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSecurityConfig):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid security configuration"))
		case errors.Is(err, domain.ErrInvalidSessionWindow):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "close time must be after open time"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to create session"))
		}
		return
	}

	c.JSON(http.StatusCreated, newSessionPayload(*session))
}

// GetSession returns a session with its attendance counts.
func (h *SessionHandler) GetSession(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session_id is required"))
		return
	}

	status, err := h.sessions.Status(c.Request.Context(), sessionID)
	if err != nil {
		cases := []ErrorCase{{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"}}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to fetch session")
		return
	}

	c.JSON(http.StatusOK, newSessionStatusResponse(*status))
}

// ActivateSession transitions a SCHEDULED session to ACTIVE.
func (h *SessionHandler) ActivateSession(c *gin.Context) {
	h.transition(c, h.sessions.Activate)
}

// CloseSession transitions an ACTIVE session to ENDED.
func (h *SessionHandler) CloseSession(c *gin.Context) {
	h.transition(c, h.sessions.Close)
}

// CancelSession transitions a non-terminal session to CANCELLED.
func (h *SessionHandler) CancelSession(c *gin.Context) {
	h.transition(c, h.sessions.Cancel)
}

// transition runs one owner-checked lifecycle operation and renders the result.
func (h *SessionHandler) transition(c *gin.Context, op func(ctx context.Context, sessionID, actorID string) (*domain.AttendanceSession, error)) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	actorID, ok := middleware.GetAuthenticatedSubjectID(c)
	if !ok || actorID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session_id is required"))
		return
	}

	session, err := op(c.Request.Context(), sessionID, actorID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, NewErrorResponse(c, "transition not permitted from current state"))
			return
		}
		cases := []ErrorCase{
			{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"},
			{Err: usecase.ErrSessionForbidden, Status: http.StatusForbidden, Message: "session not owned by caller"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to update session")
		return
	}

	c.JSON(http.StatusOK, newSessionPayload(*session))
}

// IssueToken rotates the session token and returns the fresh value for QR encoding.
func (h *SessionHandler) IssueToken(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	actorID, ok := middleware.GetAuthenticatedSubjectID(c)
	if !ok || actorID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session_id is required"))
		return
	}

	token, version, err := h.sessions.IssueToken(c.Request.Context(), sessionID, actorID)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"},
			{Err: usecase.ErrSessionForbidden, Status: http.StatusForbidden, Message: "session not owned by caller"},
			{Err: usecase.ErrSessionNotActive, Status: http.StatusConflict, Message: "session is not active"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to rotate token")
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		SessionID:    sessionID,
		Token:        token,
		TokenVersion: version,
		IssuedAt:     time.Now().UTC(),
	})
}
