package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
)

const (
	testSessionID = "sess-1"
	testCourseID  = "course-1"
	testStudentID = "student-1"
	testToken     = "att_current"
)

type verifyHarness struct {
	sessions *fakeSessionRepo
	attempts *fakeAttemptRepo
	devices  *fakeDeviceRepo
	enroll   *fakeEnrollmentRepo
	window   *fakeWindowStore
	cache    *fakeTokenCache
	events   *fakePublisher
	notifier *fakeNotifier
	metrics  *fakeMetrics

	sessionSvc *SessionService
	svc        *VerifyService

	opensAt time.Time
}

// newVerifyHarness wires a VerifyService around an ACTIVE session with a
// current token, a Cairo campus geofence, and one enrolled student.
func newVerifyHarness(t *testing.T, clock time.Time) *verifyHarness {
	t.Helper()

	opensAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	h := &verifyHarness{
		sessions: newFakeSessionRepo(),
		attempts: newFakeAttemptRepo(),
		devices:  &fakeDeviceRepo{},
		enroll:   newFakeEnrollmentRepo(),
		window:   newFakeWindowStore(),
		cache:    newFakeTokenCache(),
		events:   &fakePublisher{},
		notifier: &fakeNotifier{},
		metrics:  newFakeMetrics(),
		opensAt:  opensAt,
	}

	session := domain.AttendanceSession{
		ID:       testSessionID,
		CourseID: testCourseID,
		OwnerID:  "instructor-1",
		Geofence: domain.Geofence{Latitude: 30.0444, Longitude: 31.2357, RadiusMeters: 500},
		OpensAt:  opensAt,
		ClosesAt: opensAt.Add(time.Hour),
		Security: domain.SecurityConfig{
			LocationRequired:      true,
			DeviceCheckRequired:   true,
			FraudDetectionEnabled: true,
			MaxAttempts:           3,
			GracePeriodSeconds:    300,
		},
		State:        domain.SessionStateActive,
		CurrentToken: testToken,
		TokenVersion: 1,
	}
	h.sessions.sessions[session.ID] = session
	h.cache.entries[session.ID] = cachedToken{token: testToken, version: 1}
	h.enroll.enroll(testCourseID, testStudentID)

	logger := zaptest.NewLogger(t)
	h.sessionSvc = NewSessionService(h.sessions, h.attempts, &seqMinter{}, h.events, logger).
		WithTokenCache(h.cache, time.Minute)
	h.sessionSvc.WithClock(func() time.Time { return clock })

	h.svc = NewVerifyService(h.sessionSvc, h.attempts, h.devices, h.enroll, h.window, h.events, logger).
		WithNotifier(h.notifier).
		WithMetrics(h.metrics)
	h.svc.WithClock(func() time.Time { return clock })

	return h
}

func (h *verifyHarness) validRequest() ScanRequest {
	return ScanRequest{
		SessionID:   testSessionID,
		StudentID:   testStudentID,
		Token:       testToken,
		Fingerprint: "fp-1",
		Location:    &domain.Location{Latitude: 30.0444, Longitude: 31.2357, AccuracyMeters: 10},
	}
}

func TestVerifyAcceptsPresent(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	decision, err := h.svc.Verify(context.Background(), h.validRequest())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Status != domain.AttendanceStatusPresent {
		t.Fatalf("expected PRESENT, got %s (%s)", decision.Status, decision.Reason)
	}
	if decision.Reason != domain.ReasonAccepted {
		t.Fatalf("expected Accepted, got %s", decision.Reason)
	}
	if decision.AttemptCount != 1 {
		t.Fatalf("expected attempt count 1, got %d", decision.AttemptCount)
	}
	if !decision.Accepted() {
		t.Fatal("expected an accepted decision")
	}

	accepted := h.attempts.acceptedRecords(testSessionID)
	if len(accepted) != 1 {
		t.Fatalf("expected one accepted record, got %d", len(accepted))
	}
	if accepted[0].FlaggedForReview {
		t.Fatal("clean scan must not be flagged")
	}
	if len(h.events.scans) != 1 {
		t.Fatalf("expected one scan event, got %d", len(h.events.scans))
	}
	if len(h.notifier.decisions) != 1 {
		t.Fatalf("expected one notification, got %d", len(h.notifier.decisions))
	}
	if h.metrics.decisions["PRESENT/Accepted"] != 1 {
		t.Fatalf("expected decision counter increment, got %v", h.metrics.decisions)
	}
}

func TestVerifyGraceBoundary(t *testing.T) {
	// Exactly at the grace deadline still counts as PRESENT.
	atDeadline := time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)
	h := newVerifyHarness(t, atDeadline)
	decision, err := h.svc.Verify(context.Background(), h.validRequest())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Status != domain.AttendanceStatusPresent {
		t.Fatalf("expected PRESENT at the grace deadline, got %s", decision.Status)
	}

	pastDeadline := atDeadline.Add(time.Second)
	h = newVerifyHarness(t, pastDeadline)
	decision, err = h.svc.Verify(context.Background(), h.validRequest())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Status != domain.AttendanceStatusLate {
		t.Fatalf("expected LATE past the grace deadline, got %s", decision.Status)
	}
	if decision.Reason != domain.ReasonAccepted {
		t.Fatalf("late scans are still accepted, got %s", decision.Reason)
	}
}

func TestVerifyRejectsWrongToken(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	req := h.validRequest()
	req.Token = "att_rotated_out"

	decision, err := h.svc.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Status != domain.AttendanceStatusRejected || decision.Reason != domain.ReasonTokenExpired {
		t.Fatalf("expected REJECTED/TokenExpired, got %s/%s", decision.Status, decision.Reason)
	}
	if accepted := h.attempts.acceptedRecords(testSessionID); len(accepted) != 0 {
		t.Fatalf("stale tokens must never produce accepted records, got %d", len(accepted))
	}
}

func TestVerifyRejectsRotatedOutTokenAfterCacheFailure(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	// The cache write for the rotated token fails; the stale entry must be
	// cleared rather than left serving the pre-rotation token.
	h.cache.setErr = errors.New("redis down")
	rotated, _, err := h.sessionSvc.IssueToken(context.Background(), testSessionID, "instructor-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := h.validRequest()
	req.Token = testToken // pre-rotation token
	decision, err := h.svc.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Status != domain.AttendanceStatusRejected || decision.Reason != domain.ReasonTokenExpired {
		t.Fatalf("rotated-out token must fail closed, got %s/%s", decision.Status, decision.Reason)
	}
	if accepted := h.attempts.acceptedRecords(testSessionID); len(accepted) != 0 {
		t.Fatalf("expected no accepted records, got %d", len(accepted))
	}

	// The rotated token itself still validates via the repository fallback.
	req = h.validRequest()
	req.Token = rotated
	decision, err = h.svc.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify rotated token: %v", err)
	}
	if decision.Status != domain.AttendanceStatusPresent {
		t.Fatalf("expected PRESENT with the rotated token, got %s (%s)", decision.Status, decision.Reason)
	}
}

func TestVerifyRejectsUnknownSession(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	req := h.validRequest()
	req.SessionID = "missing"

	decision, err := h.svc.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Reason != domain.ReasonSessionNotFound {
		t.Fatalf("expected SessionNotFound, got %s", decision.Reason)
	}
}

func TestVerifyRejectsUnenrolledStudent(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	req := h.validRequest()
	req.StudentID = "student-2"

	decision, err := h.svc.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Reason != domain.ReasonNotEnrolled {
		t.Fatalf("expected NotEnrolled, got %s", decision.Reason)
	}
}

func TestVerifyRejectsScheduledSession(t *testing.T) {
	clock := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	session := h.sessions.sessions[testSessionID]
	session.State = domain.SessionStateScheduled
	session.CurrentToken = ""
	session.TokenVersion = 0
	h.sessions.sessions[testSessionID] = session

	decision, err := h.svc.Verify(context.Background(), h.validRequest())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Reason != domain.ReasonSessionNotActive {
		t.Fatalf("expected SessionNotActive, got %s", decision.Reason)
	}
}

func TestVerifyRejectsEarlyScan(t *testing.T) {
	clock := time.Date(2026, 3, 2, 8, 59, 30, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	decision, err := h.svc.Verify(context.Background(), h.validRequest())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Reason != domain.ReasonTooEarly {
		t.Fatalf("expected TooEarly, got %s", decision.Reason)
	}
}

func TestVerifyRejectsScanPastWindow(t *testing.T) {
	deadline := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)
	h := newVerifyHarness(t, deadline)

	// The verifier clock sits past the deadline while the lifecycle resolver
	// still observes an in-window session.
	h.svc.WithClock(func() time.Time { return deadline.Add(time.Second) })

	decision, err := h.svc.Verify(context.Background(), h.validRequest())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Reason != domain.ReasonOutsideTimeWindow {
		t.Fatalf("expected OutsideTimeWindow, got %s", decision.Reason)
	}
}

func TestVerifyRejectsOutsideGeofence(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	req := h.validRequest()
	// Roughly one kilometer north of the fence center.
	req.Location = &domain.Location{Latitude: 30.0534, Longitude: 31.2357, AccuracyMeters: 10}

	decision, err := h.svc.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Reason != domain.ReasonOutsideGeofence {
		t.Fatalf("expected OutsideGeofence, got %s", decision.Reason)
	}
}

func TestVerifyRejectsPoorAccuracy(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	req := h.validRequest()
	req.Location.AccuracyMeters = 120

	decision, err := h.svc.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Reason != domain.ReasonPoorLocationAccuracy {
		t.Fatalf("expected PoorLocationAccuracy, got %s", decision.Reason)
	}
}

func TestVerifyRejectsMissingLocation(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	req := h.validRequest()
	req.Location = nil

	decision, err := h.svc.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Reason != domain.ReasonPoorLocationAccuracy {
		t.Fatalf("expected PoorLocationAccuracy for missing location, got %s", decision.Reason)
	}
}

func TestVerifyRejectsBeyondMaxAttempts(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	stale := h.validRequest()
	stale.Token = "att_rotated_out"
	for i := 0; i < 3; i++ {
		if _, err := h.svc.Verify(context.Background(), stale); err != nil {
			t.Fatalf("verify attempt %d: %v", i, err)
		}
	}

	decision, err := h.svc.Verify(context.Background(), h.validRequest())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Reason != domain.ReasonMaxAttemptsExceeded {
		t.Fatalf("expected MaxAttemptsExceeded, got %s", decision.Reason)
	}
	if decision.AttemptCount != 4 {
		t.Fatalf("expected attempt count 4, got %d", decision.AttemptCount)
	}
}

func TestVerifyOverCapWithInvalidSignals(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	stale := h.validRequest()
	stale.Token = "att_rotated_out"
	for i := 0; i < 3; i++ {
		if _, err := h.svc.Verify(context.Background(), stale); err != nil {
			t.Fatalf("verify attempt %d: %v", i, err)
		}
	}

	// An over-cap attempt with an out-of-fence location reports the location
	// violation: signal checks precede the attempt-cap check, so the student
	// learns what actually failed.
	outside := h.validRequest()
	outside.Location = &domain.Location{Latitude: 30.0534, Longitude: 31.2357, AccuracyMeters: 10}

	decision, err := h.svc.Verify(context.Background(), outside)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Status != domain.AttendanceStatusRejected || decision.Reason != domain.ReasonOutsideGeofence {
		t.Fatalf("expected REJECTED/OutsideGeofence, got %s/%s", decision.Status, decision.Reason)
	}
	if decision.AttemptCount != 4 {
		t.Fatalf("expected attempt count 4, got %d", decision.AttemptCount)
	}
	if accepted := h.attempts.acceptedRecords(testSessionID); len(accepted) != 0 {
		t.Fatalf("expected no accepted records, got %d", len(accepted))
	}
}

func TestVerifyRejectsDuplicateScan(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	if _, err := h.svc.Verify(context.Background(), h.validRequest()); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	decision, err := h.svc.Verify(context.Background(), h.validRequest())
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if decision.Status != domain.AttendanceStatusRejected || decision.Reason != domain.ReasonAlreadyRecorded {
		t.Fatalf("expected REJECTED/AlreadyRecorded, got %s/%s", decision.Status, decision.Reason)
	}
	if decision.AttemptCount != 2 {
		t.Fatalf("expected attempt count 2, got %d", decision.AttemptCount)
	}
	if accepted := h.attempts.acceptedRecords(testSessionID); len(accepted) != 1 {
		t.Fatalf("expected exactly one accepted record, got %d", len(accepted))
	}
}

func TestVerifyFlagsHighRiskButAccepts(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	// Same fingerprint active for another student during the session window.
	h.devices.entries = append(h.devices.entries, domain.DeviceFingerprint{
		StudentID:   "student-2",
		Fingerprint: "fp-1",
		LastSeen:    h.opensAt.Add(time.Minute),
	})

	// Four prior attempts inside the rapid-attempt window saturate the factor.
	key := testSessionID + ":" + testStudentID
	for i := 0; i < 4; i++ {
		if err := h.window.RecordAttempt(context.Background(), key, clock.Add(-30*time.Second)); err != nil {
			t.Fatalf("seed window: %v", err)
		}
	}

	decision, err := h.svc.Verify(context.Background(), h.validRequest())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !decision.Accepted() {
		t.Fatalf("HIGH risk must be accepted with a flag, got %s/%s", decision.Status, decision.Reason)
	}
	if decision.RiskLevel != domain.RiskLevelHigh {
		t.Fatalf("expected HIGH risk, got %s", decision.RiskLevel)
	}

	accepted := h.attempts.acceptedRecords(testSessionID)
	if len(accepted) != 1 || !accepted[0].FlaggedForReview {
		t.Fatalf("expected one flagged record, got %+v", accepted)
	}
	if len(h.events.alerts) != 1 || h.events.alerts[0].Kind != domain.FraudAlertKindHighRisk {
		t.Fatalf("expected one high-risk alert, got %+v", h.events.alerts)
	}
}

func TestVerifyRejectsCriticalRisk(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	// Shared device, saturated rapid attempts, degrading accuracy, and a full
	// fraud history push the score to the CRITICAL threshold.
	h.devices.entries = append(h.devices.entries, domain.DeviceFingerprint{
		StudentID:   "student-2",
		Fingerprint: "fp-1",
		LastSeen:    h.opensAt.Add(time.Minute),
	})

	key := testSessionID + ":" + testStudentID
	for i := 0; i < 4; i++ {
		if err := h.window.RecordAttempt(context.Background(), key, clock.Add(-30*time.Second)); err != nil {
			t.Fatalf("seed window: %v", err)
		}
	}

	for i := 0; i < 4; i++ {
		h.attempts.records = append(h.attempts.records, domain.AttendanceRecord{
			SessionID:  "older-session",
			StudentID:  testStudentID,
			Status:     domain.AttendanceStatusRejected,
			RiskLevel:  domain.RiskLevelHigh,
			RecordedAt: h.opensAt.Add(-24 * time.Hour),
		})
	}

	// Prior fixes were sharper than the current one, so accuracy is degrading.
	sharp := domain.Location{Latitude: 30.0444, Longitude: 31.2357, AccuracyMeters: 5}
	h.attempts.attempts = append(h.attempts.attempts, domain.ScanAttempt{
		SessionID: testSessionID,
		StudentID: testStudentID,
		Location:  &sharp,
	})

	req := h.validRequest()
	req.Location.AccuracyMeters = 30

	decision, err := h.svc.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decision.Status != domain.AttendanceStatusRejected || decision.Reason != domain.ReasonFraudRejected {
		t.Fatalf("expected REJECTED/FraudRejected, got %s/%s", decision.Status, decision.Reason)
	}
	if decision.RiskLevel != domain.RiskLevelCritical {
		t.Fatalf("expected CRITICAL risk, got %s", decision.RiskLevel)
	}
	if len(h.events.alerts) != 1 || h.events.alerts[0].Kind != domain.FraudAlertKindRejected {
		t.Fatalf("expected one fraud-rejected alert, got %+v", h.events.alerts)
	}
	if h.metrics.alerts[domain.FraudAlertKindRejected] != 1 {
		t.Fatalf("expected alert counter increment, got %v", h.metrics.alerts)
	}
}

func TestVerifyConcurrentScansSingleAcceptance(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)

	const workers = 8
	decisions := make([]domain.Decision, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i], errs[i] = h.svc.Verify(context.Background(), h.validRequest())
		}(i)
	}
	wg.Wait()

	acceptedCount := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if decisions[i].Accepted() {
			acceptedCount++
		} else if decisions[i].Reason != domain.ReasonAlreadyRecorded && decisions[i].Reason != domain.ReasonMaxAttemptsExceeded {
			t.Fatalf("worker %d: unexpected rejection %s", i, decisions[i].Reason)
		}
	}
	if acceptedCount != 1 {
		t.Fatalf("expected exactly one accepted decision, got %d", acceptedCount)
	}
	if records := h.attempts.acceptedRecords(testSessionID); len(records) != 1 {
		t.Fatalf("expected exactly one accepted record, got %d", len(records))
	}
}

func TestVerifySurfacesRecordInconsistency(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	h := newVerifyHarness(t, clock)
	h.attempts.inconsistent = true

	_, err := h.svc.Verify(context.Background(), h.validRequest())
	if !errors.Is(err, ErrRecordInconsistency) {
		t.Fatalf("expected ErrRecordInconsistency, got %v", err)
	}
	if len(h.events.alerts) != 1 || h.events.alerts[0].Kind != domain.FraudAlertKindInconsistency {
		t.Fatalf("expected one inconsistency alert, got %+v", h.events.alerts)
	}
}
