package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/transport/http/middleware"
	"github.com/arklim/campus-platform-attendance/internal/usecase"
)

// ScanHandler exposes the scan verification endpoint.
type ScanHandler struct {
	verifier *usecase.VerifyService
}

// NewScanHandler constructs a scan handler.
func NewScanHandler(verifier *usecase.VerifyService) *ScanHandler {
	return &ScanHandler{verifier: verifier}
}

// RegisterRoutes binds the scan submission route to the provided router group.
func (h *ScanHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}
	r.POST("", h.SubmitScan)
}

// SubmitScan runs the full verification algorithm for one scan. Business
// rejections come back as 200 with a REJECTED decision; only infrastructure
// failures produce error statuses.
func (h *ScanHandler) SubmitScan(c *gin.Context) {
	if h.verifier == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "scan verification unavailable"))
		return
	}

	studentID, ok := middleware.GetAuthenticatedSubjectID(c)
	if !ok || studentID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid scan payload"))
		return
	}

	scan := usecase.ScanRequest{
		SessionID:       req.SessionID,
		StudentID:       studentID,
		Token:           req.Token,
		Fingerprint:     req.Fingerprint,
		PhotoHash:       req.PhotoHash,
		ClientTimestamp: req.ClientTimestamp,
	}
	if req.Location != nil {
		scan.Location = &domain.Location{
			Latitude:       req.Location.Latitude,
			Longitude:      req.Location.Longitude,
			AccuracyMeters: req.Location.AccuracyMeters,
		}
	}

	decision, err := h.verifier.Verify(c.Request.Context(), scan)
	if err != nil {
		if errors.Is(err, usecase.ErrRecordInconsistency) {
			c.JSON(http.StatusConflict, NewErrorResponse(c, "attendance record conflict; contact your instructor"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to verify scan"))
		return
	}

	c.JSON(http.StatusOK, newScanResponse(decision))
}
