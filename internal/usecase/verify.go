package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/core/port"
	"github.com/arklim/campus-platform-attendance/internal/repository"
)

// ErrRecordInconsistency indicates two accepted records were found for one
// (student, session) pair. Surfaced as an alert, never silently repaired.
var ErrRecordInconsistency = errors.New("attendance record inconsistency detected")

// defaultRapidAttemptWindow bounds the interval inside which repeated scans
// from one student count as the rapid-attempt fraud signal.
const defaultRapidAttemptWindow = 2 * time.Minute

// ScanRequest is one inbound verification request.
type ScanRequest struct {
	SessionID       string
	StudentID       string
	Token           string
	Location        *domain.Location
	Fingerprint     string
	PhotoHash       *string
	ClientTimestamp time.Time
}

// VerifyService orchestrates geofence, device, time-window, and fraud checks
// for one scan attempt and owns the accept/reject decision.
type VerifyService struct {
	sessions    *SessionService
	attempts    port.AttemptRepository
	devices     port.DeviceRepository
	enrollments port.EnrollmentRepository
	window      port.AttemptWindowStore
	events      port.EventPublisher
	notifier    port.DecisionNotifier
	metrics     port.MetricsRecorder
	logger      *zap.Logger

	accuracyThreshold float64
	rapidWindow       time.Duration
	now               func() time.Time

	// keyLocks serializes the duplicate-check + record-write critical section
	// per (student, session) key. The storage unique constraint backs it; the
	// lock keeps the common path free of conflict churn.
	keyLocks sync.Map
}

// NewVerifyService constructs a VerifyService.
func NewVerifyService(sessions *SessionService, attempts port.AttemptRepository, devices port.DeviceRepository, enrollments port.EnrollmentRepository, window port.AttemptWindowStore, events port.EventPublisher, logger *zap.Logger) *VerifyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &VerifyService{
		sessions:          sessions,
		attempts:          attempts,
		devices:           devices,
		enrollments:       enrollments,
		window:            window,
		events:            events,
		logger:            logger,
		accuracyThreshold: domain.DefaultAccuracyThresholdMeters,
		rapidWindow:       defaultRapidAttemptWindow,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (v *VerifyService) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// WithAccuracyThreshold overrides the GPS accuracy ceiling in meters.
func (v *VerifyService) WithAccuracyThreshold(meters float64) *VerifyService {
	if meters > 0 {
		v.accuracyThreshold = meters
	}
	return v
}

// WithRapidAttemptWindow overrides the rapid-attempt signal window.
func (v *VerifyService) WithRapidAttemptWindow(window time.Duration) *VerifyService {
	if window > 0 {
		v.rapidWindow = window
	}
	return v
}

// WithNotifier injects the fire-and-forget decision notifier.
func (v *VerifyService) WithNotifier(notifier port.DecisionNotifier) *VerifyService {
	v.notifier = notifier
	return v
}

// WithMetrics injects the decision and alert counters.
func (v *VerifyService) WithMetrics(metrics port.MetricsRecorder) *VerifyService {
	v.metrics = metrics
	return v
}

// Verify runs the full verification algorithm for one scan attempt and
// returns a terminal Decision. Business rejections are decisions, not errors;
// an error return means infrastructure failed and nothing was accepted.
func (v *VerifyService) Verify(ctx context.Context, req ScanRequest) (domain.Decision, error) {
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.StudentID) == "" {
		return domain.Decision{}, fmt.Errorf("session id and student id are required")
	}

	receivedAt := v.now()

	session, err := v.sessions.Get(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return v.reject(ctx, nil, req, receivedAt, domain.ReasonSessionNotFound, domain.RiskScore{Level: domain.RiskLevelLow}, 0)
		}
		return domain.Decision{}, err
	}

	if session.State != domain.SessionStateActive {
		return v.reject(ctx, session, req, receivedAt, domain.ReasonSessionNotActive, domain.RiskScore{Level: domain.RiskLevelLow}, 0)
	}

	enrolled, err := v.enrollments.IsEnrolled(ctx, session.CourseID, req.StudentID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return v.reject(ctx, session, req, receivedAt, domain.ReasonNotEnrolled, domain.RiskScore{Level: domain.RiskLevelLow}, 0)
	}

	// Token equality against the latest committed token. Unknown cache state
	// falls back to the repository inside CurrentToken; any mismatch fails
	// closed, including previously valid rotated-out tokens.
	currentToken, _, err := v.sessions.CurrentToken(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotActive) {
			return v.reject(ctx, session, req, receivedAt, domain.ReasonSessionNotActive, domain.RiskScore{Level: domain.RiskLevelLow}, 0)
		}
		return domain.Decision{}, err
	}
	if currentToken == "" || req.Token != currentToken {
		return v.reject(ctx, session, req, receivedAt, domain.ReasonTokenExpired, domain.RiskScore{Level: domain.RiskLevelLow}, 0)
	}

	if receivedAt.Before(session.OpensAt) {
		return v.reject(ctx, session, req, receivedAt, domain.ReasonTooEarly, domain.RiskScore{Level: domain.RiskLevelLow}, 0)
	}
	if receivedAt.After(session.WindowDeadline()) {
		return v.reject(ctx, session, req, receivedAt, domain.ReasonOutsideTimeWindow, domain.RiskScore{Level: domain.RiskLevelLow}, 0)
	}

	unlock := v.lockKey(req.SessionID, req.StudentID)
	defer unlock()

	return v.verifyLocked(ctx, session, req, receivedAt)
}

// verifyLocked runs the per-key critical section: duplicate check, signal
// collection, scoring, and the atomic record write.
func (v *VerifyService) verifyLocked(ctx context.Context, session *domain.AttendanceSession, req ScanRequest, receivedAt time.Time) (domain.Decision, error) {
	existing, err := v.attempts.GetAcceptedRecord(ctx, req.SessionID, req.StudentID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			existing = nil
		case errors.Is(err, repository.ErrInconsistent):
			v.raiseInconsistencyAlert(ctx, session, req.StudentID)
			return domain.Decision{}, fmt.Errorf("%w: session %s student %s", ErrRecordInconsistency, req.SessionID, req.StudentID)
		default:
			return domain.Decision{}, fmt.Errorf("lookup record: %w", err)
		}
	}
	if existing != nil {
		attemptCount := existing.AttemptCount + 1
		return v.reject(ctx, session, req, receivedAt, domain.ReasonAlreadyRecorded, domain.RiskScore{Level: existing.RiskLevel}, attemptCount)
	}

	attemptCount, err := v.attempts.CountAttempts(ctx, req.SessionID, req.StudentID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("count attempts: %w", err)
	}
	attemptCount++ // include the current attempt

	signals := domain.FraudSignals{GeofenceRadiusMeters: session.Geofence.RadiusMeters}

	// Location checks, skipped entirely when the session does not require
	// location; the geo result is then "not evaluated", not "failed".
	var geo domain.GeoResult
	if session.Security.LocationRequired {
		if req.Location == nil {
			return v.reject(ctx, session, req, receivedAt, domain.ReasonPoorLocationAccuracy, domain.RiskScore{Level: domain.RiskLevelLow}, attemptCount)
		}
		geo = domain.ValidateLocation(session.Geofence, *req.Location, v.accuracyThreshold)
		signals.DistanceMeters = geo.DistanceMeters
		if !geo.WithinRadius {
			return v.reject(ctx, session, req, receivedAt, domain.ReasonOutsideGeofence, domain.RiskScore{Level: domain.RiskLevelLow}, attemptCount)
		}
		if !geo.AccuracyOK {
			return v.reject(ctx, session, req, receivedAt, domain.ReasonPoorLocationAccuracy, domain.RiskScore{Level: domain.RiskLevelLow}, attemptCount)
		}
		signals.AccuracyDegrading, err = v.accuracyDegrading(ctx, req, *req.Location)
		if err != nil {
			v.logger.Warn("accuracy trend lookup failed", zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}

	// Device registration. Sharing is a fraud signal for the scorer, never a
	// hard rejection on its own.
	if session.Security.DeviceCheckRequired && req.Fingerprint != "" {
		registration, err := v.registerDevice(ctx, session, req)
		if err != nil {
			return domain.Decision{}, err
		}
		signals.DeviceSharedWithOther = registration.SharedWithOther
	}

	if v.window != nil {
		key := attemptWindowKey(req.SessionID, req.StudentID)
		if err := v.window.RecordAttempt(ctx, key, receivedAt); err != nil {
			v.logger.Warn("attempt window record failed", zap.String("session_id", req.SessionID), zap.Error(err))
		}
		recent, err := v.window.CountAttempts(ctx, key, v.rapidWindow, receivedAt)
		if err != nil {
			v.logger.Warn("attempt window count failed", zap.String("session_id", req.SessionID), zap.Error(err))
		} else {
			signals.RecentAttempts = recent
		}
	}

	if attemptCount > session.Security.MaxAttempts {
		return v.reject(ctx, session, req, receivedAt, domain.ReasonMaxAttemptsExceeded, domain.RiskScore{Level: domain.RiskLevelLow}, attemptCount)
	}

	var risk domain.RiskScore
	if session.Security.FraudDetectionEnabled {
		signals.PriorFraudFlags, err = v.attempts.CountPriorFraudFlags(ctx, req.StudentID, session.OpensAt)
		if err != nil {
			v.logger.Warn("fraud history lookup failed", zap.String("student_id", req.StudentID), zap.Error(err))
		}
		risk = domain.ScoreSignals(signals)
	} else {
		risk = domain.RiskScore{Level: domain.RiskLevelLow}
	}

	if risk.Level == domain.RiskLevelCritical {
		v.raiseFraudAlert(ctx, session, req.StudentID, risk, domain.FraudAlertKindRejected)
		return v.reject(ctx, session, req, receivedAt, domain.ReasonFraudRejected, risk, attemptCount)
	}

	status := domain.AttendanceStatusPresent
	if receivedAt.After(session.GraceDeadline()) {
		status = domain.AttendanceStatusLate
	}

	flagged := risk.Level == domain.RiskLevelHigh
	record := domain.AttendanceRecord{
		ID:               uuid.NewString(),
		SessionID:        req.SessionID,
		StudentID:        req.StudentID,
		Status:           status,
		RiskScore:        risk.Value,
		RiskLevel:        risk.Level,
		Reason:           domain.ReasonAccepted,
		AttemptCount:     attemptCount,
		FlaggedForReview: flagged,
		RecordedAt:       receivedAt,
	}

	// Session state may have flipped while signals were collected; a scan that
	// started before closure must not commit after it.
	fresh, err := v.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return domain.Decision{}, err
	}
	if fresh.State != domain.SessionStateActive {
		return v.reject(ctx, session, req, receivedAt, domain.ReasonSessionNotActive, risk, attemptCount)
	}

	if err := v.appendAttempt(ctx, req, receivedAt); err != nil {
		return domain.Decision{}, err
	}
	if err := v.attempts.InsertRecord(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// A concurrent scan for the same pair won the insert race.
			decision := domain.Decision{
				Status:       domain.AttendanceStatusRejected,
				Reason:       domain.ReasonAlreadyRecorded,
				RiskLevel:    risk.Level,
				AttemptCount: attemptCount,
				RecordedAt:   receivedAt,
			}
			v.finish(ctx, session, req.StudentID, decision, risk)
			return decision, nil
		}
		return domain.Decision{}, fmt.Errorf("insert record: %w", err)
	}

	if flagged {
		v.raiseFraudAlert(ctx, session, req.StudentID, risk, domain.FraudAlertKindHighRisk)
	}

	decision := domain.Decision{
		Status:       status,
		Reason:       domain.ReasonAccepted,
		RiskLevel:    risk.Level,
		AttemptCount: attemptCount,
		RecordedAt:   receivedAt,
	}
	v.finish(ctx, session, req.StudentID, decision, risk)
	return decision, nil
}

// reject logs the attempt, persists a REJECTED record, emits events, and
// returns the rejection decision. REJECTED records are not subject to the
// one-per-pair uniqueness that accepted records carry.
func (v *VerifyService) reject(ctx context.Context, session *domain.AttendanceSession, req ScanRequest, receivedAt time.Time, reason domain.ReasonCode, risk domain.RiskScore, attemptCount int) (domain.Decision, error) {
	if err := v.appendAttempt(ctx, req, receivedAt); err != nil {
		return domain.Decision{}, err
	}

	if session != nil {
		record := domain.AttendanceRecord{
			ID:           uuid.NewString(),
			SessionID:    req.SessionID,
			StudentID:    req.StudentID,
			Status:       domain.AttendanceStatusRejected,
			RiskScore:    risk.Value,
			RiskLevel:    risk.Level,
			Reason:       reason,
			AttemptCount: attemptCount,
			RecordedAt:   receivedAt,
		}
		if err := v.attempts.InsertRecord(ctx, record); err != nil {
			return domain.Decision{}, fmt.Errorf("insert rejection record: %w", err)
		}
	}

	decision := domain.Decision{
		Status:       domain.AttendanceStatusRejected,
		Reason:       reason,
		RiskLevel:    risk.Level,
		AttemptCount: attemptCount,
		RecordedAt:   receivedAt,
	}
	v.finish(ctx, session, req.StudentID, decision, risk)
	return decision, nil
}

func (v *VerifyService) appendAttempt(ctx context.Context, req ScanRequest, receivedAt time.Time) error {
	attempt := domain.ScanAttempt{
		ID:              uuid.NewString(),
		SessionID:       req.SessionID,
		StudentID:       req.StudentID,
		PresentedToken:  req.Token,
		Location:        req.Location,
		Fingerprint:     req.Fingerprint,
		PhotoHash:       req.PhotoHash,
		ClientTimestamp: req.ClientTimestamp,
		ReceivedAt:      receivedAt,
	}
	if err := v.attempts.AppendAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

// registerDevice performs the fingerprint registry update for the attempt.
func (v *VerifyService) registerDevice(ctx context.Context, session *domain.AttendanceSession, req ScanRequest) (domain.DeviceRegistration, error) {
	existing, err := v.devices.Get(ctx, req.StudentID, req.Fingerprint)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return domain.DeviceRegistration{}, fmt.Errorf("lookup device: %w", err)
	}

	registration := domain.DeviceRegistration{IsNewDevice: existing == nil}

	// Same fingerprint active for a different student inside this session's
	// window: report sharing, do not overwrite the other association.
	holder, err := v.devices.FindOtherHolder(ctx, req.Fingerprint, req.StudentID, session.OpensAt)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return domain.DeviceRegistration{}, fmt.Errorf("check shared device: %w", err)
	}
	if holder != nil {
		registration.SharedWithOther = true
		registration.SharedStudentID = holder.StudentID
	}

	deviceChanged := false
	if registration.IsNewDevice {
		// Device change since the student's last-seen device is a counter, not an error.
		latest, err := v.devices.LatestForStudent(ctx, req.StudentID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return domain.DeviceRegistration{}, fmt.Errorf("lookup latest device: %w", err)
		}
		deviceChanged = latest != nil && latest.Fingerprint != req.Fingerprint
	}

	stored, err := v.devices.Upsert(ctx, req.StudentID, req.Fingerprint, v.now())
	if err != nil {
		return domain.DeviceRegistration{}, fmt.Errorf("register device: %w", err)
	}
	registration.ChangeCount = stored.ChangeCount

	if deviceChanged {
		if err := v.devices.BumpChangeCount(ctx, req.StudentID, req.Fingerprint); err != nil {
			v.logger.Warn("device change counter update failed", zap.String("student_id", req.StudentID), zap.Error(err))
		} else {
			registration.ChangeCount++
		}
	}

	return registration, nil
}

// accuracyDegrading reports whether reported GPS accuracy has worsened across
// the student's recent attempts in this session.
func (v *VerifyService) accuracyDegrading(ctx context.Context, req ScanRequest, current domain.Location) (bool, error) {
	previous, err := v.attempts.ListAttemptLocations(ctx, req.SessionID, req.StudentID, 3)
	if err != nil {
		return false, err
	}
	if len(previous) == 0 {
		return false, nil
	}
	worse := 0
	for _, loc := range previous {
		if current.AccuracyMeters > loc.AccuracyMeters {
			worse++
		}
	}
	return worse == len(previous), nil
}

func (v *VerifyService) finish(ctx context.Context, session *domain.AttendanceSession, studentID string, decision domain.Decision, risk domain.RiskScore) {
	if v.metrics != nil {
		v.metrics.ObserveScanDecision(string(decision.Status), string(decision.Reason))
	}
	v.publishDecision(ctx, session, studentID, decision, risk)
	v.notifyDecision(ctx, studentID, decision)
}

func (v *VerifyService) publishDecision(ctx context.Context, session *domain.AttendanceSession, studentID string, decision domain.Decision, risk domain.RiskScore) {
	if v.events == nil || session == nil {
		return
	}
	event := domain.ScanVerifiedEvent{
		EventID:      uuid.NewString(),
		SessionID:    session.ID,
		CourseID:     session.CourseID,
		StudentID:    studentID,
		Status:       decision.Status,
		Reason:       decision.Reason,
		RiskScore:    risk.Value,
		RiskLevel:    decision.RiskLevel,
		AttemptCount: decision.AttemptCount,
		VerifiedAt:   decision.RecordedAt,
	}
	if err := v.events.PublishScanVerified(ctx, event); err != nil {
		v.logger.Warn("publish scan verified failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (v *VerifyService) notifyDecision(ctx context.Context, studentID string, decision domain.Decision) {
	if v.notifier == nil {
		return
	}
	if err := v.notifier.NotifyDecision(ctx, studentID, decision); err != nil {
		v.logger.Warn("decision notification failed", zap.String("student_id", studentID), zap.Error(err))
	}
}

func (v *VerifyService) raiseFraudAlert(ctx context.Context, session *domain.AttendanceSession, studentID string, risk domain.RiskScore, kind string) {
	if v.metrics != nil {
		v.metrics.ObserveFraudAlert(kind)
	}
	if v.events == nil || session == nil {
		return
	}
	event := domain.FraudAlertEvent{
		EventID:   uuid.NewString(),
		SessionID: session.ID,
		CourseID:  session.CourseID,
		StudentID: studentID,
		RiskScore: risk.Value,
		RiskLevel: risk.Level,
		Factors:   risk.Factors,
		Kind:      kind,
		RaisedAt:  v.now(),
	}
	if err := v.events.PublishFraudAlert(ctx, event); err != nil {
		v.logger.Warn("publish fraud alert failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (v *VerifyService) raiseInconsistencyAlert(ctx context.Context, session *domain.AttendanceSession, studentID string) {
	v.logger.Error("attendance record inconsistency",
		zap.String("session_id", session.ID),
		zap.String("student_id", studentID),
	)
	v.raiseFraudAlert(ctx, session, studentID, domain.RiskScore{Level: domain.RiskLevelCritical}, domain.FraudAlertKindInconsistency)
}

// lockKey acquires the striped mutex for a (session, student) pair.
func (v *VerifyService) lockKey(sessionID, studentID string) func() {
	key := sessionID + "|" + studentID
	value, _ := v.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func attemptWindowKey(sessionID, studentID string) string {
	return sessionID + ":" + studentID
}
