package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports dependency readiness per check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// GeofencePayload describes a session's circular geofence.
type GeofencePayload struct {
	Latitude     float64 `json:"latitude" binding:"required,min=-90,max=90"`
	Longitude    float64 `json:"longitude" binding:"required,min=-180,max=180"`
	RadiusMeters float64 `json:"radius_meters" binding:"required,gt=0"`
}

// SecurityConfigPayload carries the per-session security policy.
type SecurityConfigPayload struct {
	LocationRequired      bool `json:"location_required"`
	PhotoRequired         bool `json:"photo_required"`
	DeviceCheckRequired   bool `json:"device_check_required"`
	FraudDetectionEnabled bool `json:"fraud_detection_enabled"`
	MaxAttempts           int  `json:"max_attempts" binding:"required,gt=0"`
	GracePeriodSeconds    int  `json:"grace_period_seconds" binding:"min=0"`
}

// SessionCreateRequest defines the payload to schedule a session.
type SessionCreateRequest struct {
	CourseID string                `json:"course_id" binding:"required"`
	Geofence GeofencePayload       `json:"geofence" binding:"required"`
	OpensAt  time.Time             `json:"opens_at" binding:"required"`
	ClosesAt time.Time             `json:"closes_at" binding:"required"`
	Security SecurityConfigPayload `json:"security" binding:"required"`
}

// SessionPayload is the API view of an attendance session. The current token
// is deliberately absent; it is only handed out by the token endpoint.
type SessionPayload struct {
	ID           string                `json:"id"`
	CourseID     string                `json:"course_id"`
	OwnerID      string                `json:"owner_id"`
	State        string                `json:"state"`
	Geofence     GeofencePayload       `json:"geofence"`
	OpensAt      time.Time             `json:"opens_at"`
	ClosesAt     time.Time             `json:"closes_at"`
	Security     SecurityConfigPayload `json:"security"`
	TokenVersion int64                 `json:"token_version"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func newSessionPayload(session domain.AttendanceSession) SessionPayload {
	return SessionPayload{
		ID:       session.ID,
		CourseID: session.CourseID,
		OwnerID:  session.OwnerID,
		State:    string(session.State),
		Geofence: GeofencePayload{
			Latitude:     session.Geofence.Latitude,
			Longitude:    session.Geofence.Longitude,
			RadiusMeters: session.Geofence.RadiusMeters,
		},
		OpensAt:  session.OpensAt,
		ClosesAt: session.ClosesAt,
		Security: SecurityConfigPayload{
			LocationRequired:      session.Security.LocationRequired,
			PhotoRequired:         session.Security.PhotoRequired,
			DeviceCheckRequired:   session.Security.DeviceCheckRequired,
			FraudDetectionEnabled: session.Security.FraudDetectionEnabled,
			MaxAttempts:           session.Security.MaxAttempts,
			GracePeriodSeconds:    session.Security.GracePeriodSeconds,
		},
		TokenVersion: session.TokenVersion,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
	}
}

// SessionStatusResponse combines the session with attendance counts.
type SessionStatusResponse struct {
	Session       SessionPayload `json:"session"`
	PresentCount  int            `json:"present_count"`
	LateCount     int            `json:"late_count"`
	RejectedCount int            `json:"rejected_count"`
}

func newSessionStatusResponse(status usecase.SessionStatus) SessionStatusResponse {
	return SessionStatusResponse{
		Session:       newSessionPayload(status.Session),
		PresentCount:  status.PresentCount,
		LateCount:     status.LateCount,
		RejectedCount: status.RejectedCount,
	}
}

// TokenResponse carries the freshly rotated token for QR encoding.
type TokenResponse struct {
	SessionID    string    `json:"session_id"`
	Token        string    `json:"token"`
	TokenVersion int64     `json:"token_version"`
	IssuedAt     time.Time `json:"issued_at"`
}

// LocationPayload is a reported device location.
type LocationPayload struct {
	Latitude       float64 `json:"latitude" binding:"min=-90,max=90"`
	Longitude      float64 `json:"longitude" binding:"min=-180,max=180"`
	AccuracyMeters float64 `json:"accuracy_meters" binding:"min=0"`
}

// ScanRequest defines the payload for a scan submission.
type ScanRequest struct {
	SessionID       string           `json:"session_id" binding:"required"`
	Token           string           `json:"token" binding:"required"`
	Location        *LocationPayload `json:"location,omitempty"`
	Fingerprint     string           `json:"fingerprint,omitempty"`
	PhotoHash       *string          `json:"photo_hash,omitempty"`
	ClientTimestamp time.Time        `json:"client_timestamp"`
}

// ScanResponse is the terminal decision returned to the scanning student.
// Fraud factor detail never appears here.
type ScanResponse struct {
	Status       string    `json:"status"`
	Reason       string    `json:"reason"`
	RiskLevel    string    `json:"risk_level"`
	AttemptCount int       `json:"attempt_count"`
	RecordedAt   time.Time `json:"recorded_at"`
}

func newScanResponse(decision domain.Decision) ScanResponse {
	return ScanResponse{
		Status:       string(decision.Status),
		Reason:       string(decision.Reason),
		RiskLevel:    string(decision.RiskLevel),
		AttemptCount: decision.AttemptCount,
		RecordedAt:   decision.RecordedAt,
	}
}

// AttemptPayload is one entry of the instructor-facing scan audit log.
// The presented token is withheld: the log must not leak still-live tokens.
type AttemptPayload struct {
	ID              string           `json:"id"`
	StudentID       string           `json:"student_id"`
	Location        *LocationPayload `json:"location,omitempty"`
	Fingerprint     string           `json:"fingerprint,omitempty"`
	ClientTimestamp time.Time        `json:"client_timestamp"`
	ReceivedAt      time.Time        `json:"received_at"`
}

// AttemptListResponse pages the scan attempt log for one session.
type AttemptListResponse struct {
	SessionID string           `json:"session_id"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
	Attempts  []AttemptPayload `json:"attempts"`
}

func newAttemptListResponse(sessionID string, limit, offset int, attempts []domain.ScanAttempt) AttemptListResponse {
	payloads := make([]AttemptPayload, 0, len(attempts))
	for _, attempt := range attempts {
		payload := AttemptPayload{
			ID:              attempt.ID,
			StudentID:       attempt.StudentID,
			Fingerprint:     attempt.Fingerprint,
			ClientTimestamp: attempt.ClientTimestamp,
			ReceivedAt:      attempt.ReceivedAt,
		}
		if attempt.Location != nil {
			payload.Location = &LocationPayload{
				Latitude:       attempt.Location.Latitude,
				Longitude:      attempt.Location.Longitude,
				AccuracyMeters: attempt.Location.AccuracyMeters,
			}
		}
		payloads = append(payloads, payload)
	}
	return AttemptListResponse{SessionID: sessionID, Limit: limit, Offset: offset, Attempts: payloads}
}

// ViolationCountsPayload groups rejections by violation category.
type ViolationCountsPayload struct {
	Device   int `json:"device"`
	Location int `json:"location"`
	Time     int `json:"time"`
	Token    int `json:"token"`
}

// SecurityMetricsResponse is the instructor-facing analytics summary.
type SecurityMetricsResponse struct {
	SessionIDs       []string               `json:"session_ids"`
	TotalAttempts    int                    `json:"total_attempts"`
	AcceptedAttempts int                    `json:"accepted_attempts"`
	RejectedAttempts int                    `json:"rejected_attempts"`
	PresentCount     int                    `json:"present_count"`
	LateCount        int                    `json:"late_count"`
	FlaggedCount     int                    `json:"flagged_count"`
	SuccessRate      float64                `json:"success_rate"`
	FraudRate        float64                `json:"fraud_rate"`
	Violations       ViolationCountsPayload `json:"violations"`
}

func newSecurityMetricsResponse(metrics domain.SecurityMetrics) SecurityMetricsResponse {
	return SecurityMetricsResponse{
		SessionIDs:       metrics.SessionIDs,
		TotalAttempts:    metrics.TotalAttempts,
		AcceptedAttempts: metrics.AcceptedAttempts,
		RejectedAttempts: metrics.RejectedAttempts,
		PresentCount:     metrics.PresentCount,
		LateCount:        metrics.LateCount,
		FlaggedCount:     metrics.FlaggedCount,
		SuccessRate:      metrics.SuccessRate,
		FraudRate:        metrics.FraudRate,
		Violations: ViolationCountsPayload{
			Device:   metrics.Violations.Device,
			Location: metrics.Violations.Location,
			Time:     metrics.Violations.Time,
			Token:    metrics.Violations.Token,
		},
	}
}
