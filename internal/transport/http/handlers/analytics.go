package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/campus-platform-attendance/internal/usecase"
)

// AnalyticsHandler exposes instructor-facing security analytics.
type AnalyticsHandler struct {
	analytics *usecase.AnalyticsService
}

// NewAnalyticsHandler constructs an analytics handler.
func NewAnalyticsHandler(analytics *usecase.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// RegisterRoutes binds analytics routes to the provided router group.
// The group is expected to carry authentication and the instructor role check.
func (h *AnalyticsHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}
	r.GET("/sessions/:session_id", h.SessionMetrics)
	r.GET("/sessions/:session_id/attempts", h.SessionAttempts)
	r.GET("/courses/:course_id", h.CourseMetrics)
}

// SessionMetrics summarizes one session.
func (h *AnalyticsHandler) SessionMetrics(c *gin.Context) {
	if h.analytics == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "analytics unavailable"))
		return
	}

	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session_id is required"))
		return
	}

	metrics, err := h.analytics.SummarizeSessions(c.Request.Context(), []string{sessionID})
	if err != nil {
		cases := []ErrorCase{{Err: usecase.ErrNoSessions, Status: http.StatusNotFound, Message: "no sessions to summarize"}}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to summarize session")
		return
	}

	c.JSON(http.StatusOK, newSecurityMetricsResponse(*metrics))
}

// SessionAttempts pages the raw scan audit log for one session.
func (h *AnalyticsHandler) SessionAttempts(c *gin.Context) {
	if h.analytics == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "analytics unavailable"))
		return
	}

	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session_id is required"))
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "limit must be a positive integer"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "offset must be a non-negative integer"))
		return
	}

	attempts, err := h.analytics.ListSessionAttempts(c.Request.Context(), sessionID, limit, offset)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to list attempts")
		return
	}

	c.JSON(http.StatusOK, newAttemptListResponse(sessionID, limit, offset, attempts))
}

// CourseMetrics aggregates every session of one course.
func (h *AnalyticsHandler) CourseMetrics(c *gin.Context) {
	if h.analytics == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "analytics unavailable"))
		return
	}

	courseID := strings.TrimSpace(c.Param("course_id"))
	if courseID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "course_id is required"))
		return
	}

	metrics, err := h.analytics.SummarizeCourse(c.Request.Context(), courseID)
	if err != nil {
		cases := []ErrorCase{{Err: usecase.ErrNoSessions, Status: http.StatusNotFound, Message: "no sessions to summarize"}}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to summarize course")
		return
	}

	c.JSON(http.StatusOK, newSecurityMetricsResponse(*metrics))
}
