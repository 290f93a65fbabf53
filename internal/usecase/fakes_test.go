package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/repository"
)

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.AttendanceSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]domain.AttendanceSession)}
}

func (f *fakeSessionRepo) Create(_ context.Context, session domain.AttendanceSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[session.ID]; ok {
		return repository.ErrDuplicate
	}
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeSessionRepo) Get(_ context.Context, sessionID string) (*domain.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := session
	return &copied, nil
}

func (f *fakeSessionRepo) UpdateState(_ context.Context, sessionID string, from, to domain.SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if session.State != from {
		return repository.ErrVersionConflict
	}
	session.State = to
	f.sessions[sessionID] = session
	return nil
}

func (f *fakeSessionRepo) RotateToken(_ context.Context, sessionID, token string, expectedVersion int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if session.State != domain.SessionStateActive || session.TokenVersion != expectedVersion {
		return 0, repository.ErrVersionConflict
	}
	session.CurrentToken = token
	session.TokenVersion++
	f.sessions[sessionID] = session
	return session.TokenVersion, nil
}

func (f *fakeSessionRepo) ListByCourse(_ context.Context, courseID string) ([]domain.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AttendanceSession
	for _, session := range f.sessions {
		if session.CourseID == courseID {
			out = append(out, session)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) ListActive(_ context.Context) ([]domain.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AttendanceSession
	for _, session := range f.sessions {
		if session.State == domain.SessionStateActive {
			out = append(out, session)
		}
	}
	return out, nil
}

type fakeAttemptRepo struct {
	mu             sync.Mutex
	attempts       []domain.ScanAttempt
	records        []domain.AttendanceRecord
	courseSessions map[string][]string
	inconsistent   bool
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{courseSessions: make(map[string][]string)}
}

func (f *fakeAttemptRepo) AppendAttempt(_ context.Context, attempt domain.ScanAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeAttemptRepo) InsertRecord(_ context.Context, record domain.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record.Status.IsAccepted() {
		for _, existing := range f.records {
			if existing.SessionID == record.SessionID && existing.StudentID == record.StudentID && existing.Status.IsAccepted() {
				return repository.ErrDuplicate
			}
		}
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeAttemptRepo) GetAcceptedRecord(_ context.Context, sessionID, studentID string) (*domain.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inconsistent {
		return nil, repository.ErrInconsistent
	}
	for i := range f.records {
		record := f.records[i]
		if record.SessionID == sessionID && record.StudentID == studentID && record.Status.IsAccepted() {
			copied := record
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAttemptRepo) CountAttempts(_ context.Context, sessionID, studentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, attempt := range f.attempts {
		if attempt.SessionID == sessionID && attempt.StudentID == studentID {
			count++
		}
	}
	return count, nil
}

func (f *fakeAttemptRepo) CountPriorFraudFlags(_ context.Context, studentID string, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, record := range f.records {
		if record.StudentID != studentID || !record.RecordedAt.Before(before) {
			continue
		}
		if record.RiskLevel == domain.RiskLevelHigh || record.RiskLevel == domain.RiskLevelCritical {
			count++
		}
	}
	return count, nil
}

func (f *fakeAttemptRepo) ListAttemptsBySession(_ context.Context, sessionID string, limit, offset int) ([]domain.ScanAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScanAttempt
	for _, attempt := range f.attempts {
		if attempt.SessionID == sessionID {
			out = append(out, attempt)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAttemptRepo) ListRecordsBySessions(_ context.Context, sessionIDs []string) ([]domain.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		wanted[id] = true
	}
	var out []domain.AttendanceRecord
	for _, record := range f.records {
		if wanted[record.SessionID] {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) ListAttemptLocations(_ context.Context, sessionID, studentID string, limit int) ([]domain.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Location
	for i := len(f.attempts) - 1; i >= 0; i-- {
		attempt := f.attempts[i]
		if attempt.SessionID != sessionID || attempt.StudentID != studentID || attempt.Location == nil {
			continue
		}
		out = append(out, *attempt.Location)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) CountRecordsBySession(_ context.Context, sessionID string) (map[domain.AttendanceStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[domain.AttendanceStatus]int)
	for _, record := range f.records {
		if record.SessionID == sessionID {
			counts[record.Status]++
		}
	}
	return counts, nil
}

func (f *fakeAttemptRepo) SessionIDsByCourse(_ context.Context, courseID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.courseSessions[courseID], nil
}

func (f *fakeAttemptRepo) acceptedRecords(sessionID string) []domain.AttendanceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AttendanceRecord
	for _, record := range f.records {
		if record.SessionID == sessionID && record.Status.IsAccepted() {
			out = append(out, record)
		}
	}
	return out
}

type fakeDeviceRepo struct {
	mu      sync.Mutex
	entries []domain.DeviceFingerprint
}

func (f *fakeDeviceRepo) Get(_ context.Context, studentID, fingerprint string) (*domain.DeviceFingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].StudentID == studentID && f.entries[i].Fingerprint == fingerprint {
			copied := f.entries[i]
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDeviceRepo) Upsert(_ context.Context, studentID, fingerprint string, seenAt time.Time) (*domain.DeviceFingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].StudentID == studentID && f.entries[i].Fingerprint == fingerprint {
			f.entries[i].LastSeen = seenAt
			copied := f.entries[i]
			return &copied, nil
		}
	}
	entry := domain.DeviceFingerprint{
		StudentID:   studentID,
		Fingerprint: fingerprint,
		FirstSeen:   seenAt,
		LastSeen:    seenAt,
	}
	f.entries = append(f.entries, entry)
	return &entry, nil
}

func (f *fakeDeviceRepo) LatestForStudent(_ context.Context, studentID string) (*domain.DeviceFingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.DeviceFingerprint
	for i := range f.entries {
		if f.entries[i].StudentID != studentID {
			continue
		}
		if latest == nil || f.entries[i].LastSeen.After(latest.LastSeen) {
			copied := f.entries[i]
			latest = &copied
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (f *fakeDeviceRepo) FindOtherHolder(_ context.Context, fingerprint, excludeStudentID string, since time.Time) (*domain.DeviceFingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		entry := f.entries[i]
		if entry.Fingerprint == fingerprint && entry.StudentID != excludeStudentID && !entry.LastSeen.Before(since) {
			copied := entry
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDeviceRepo) BumpChangeCount(_ context.Context, studentID, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].StudentID == studentID && f.entries[i].Fingerprint == fingerprint {
			f.entries[i].ChangeCount++
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakeEnrollmentRepo struct {
	enrolled map[string]map[string]bool
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{enrolled: make(map[string]map[string]bool)}
}

func (f *fakeEnrollmentRepo) enroll(courseID, studentID string) {
	if f.enrolled[courseID] == nil {
		f.enrolled[courseID] = make(map[string]bool)
	}
	f.enrolled[courseID][studentID] = true
}

func (f *fakeEnrollmentRepo) IsEnrolled(_ context.Context, courseID, studentID string) (bool, error) {
	return f.enrolled[courseID][studentID], nil
}

type fakeWindowStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{entries: make(map[string][]time.Time)}
}

func (f *fakeWindowStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[identifier] = append(f.entries[identifier], at)
	return nil
}

func (f *fakeWindowStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	threshold := reference.Add(-window)
	count := 0
	for _, at := range f.entries[identifier] {
		if !at.Before(threshold) && !at.After(reference) {
			count++
		}
	}
	return count, nil
}

func (f *fakeWindowStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	threshold := reference.Add(-window)
	var kept []time.Time
	for _, at := range f.entries[identifier] {
		if !at.Before(threshold) {
			kept = append(kept, at)
		}
	}
	f.entries[identifier] = kept
	return nil
}

type cachedToken struct {
	token   string
	version int64
}

type fakeTokenCache struct {
	mu            sync.Mutex
	entries       map[string]cachedToken
	getErr        error
	setErr        error
	invalidateErr error
	invalidated   []string
}

func newFakeTokenCache() *fakeTokenCache {
	return &fakeTokenCache{entries: make(map[string]cachedToken)}
}

func (f *fakeTokenCache) Set(_ context.Context, sessionID, token string, version int64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[sessionID] = cachedToken{token: token, version: version}
	return nil
}

func (f *fakeTokenCache) Get(_ context.Context, sessionID string) (string, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", 0, false, f.getErr
	}
	entry, ok := f.entries[sessionID]
	if !ok {
		return "", 0, false, nil
	}
	return entry.token, entry.version, true, nil
}

func (f *fakeTokenCache) Invalidate(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invalidateErr != nil {
		return f.invalidateErr
	}
	delete(f.entries, sessionID)
	f.invalidated = append(f.invalidated, sessionID)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	scans     []domain.ScanVerifiedEvent
	alerts    []domain.FraudAlertEvent
	lifecycle []domain.SessionLifecycleEvent
}

func (f *fakePublisher) PublishScanVerified(_ context.Context, event domain.ScanVerifiedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, event)
	return nil
}

func (f *fakePublisher) PublishFraudAlert(_ context.Context, event domain.FraudAlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, event)
	return nil
}

func (f *fakePublisher) PublishSessionLifecycle(_ context.Context, event domain.SessionLifecycleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lifecycle = append(f.lifecycle, event)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	decisions []domain.Decision
}

func (f *fakeNotifier) NotifyDecision(_ context.Context, _ string, decision domain.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, decision)
	return nil
}

type fakeMetrics struct {
	mu        sync.Mutex
	decisions map[string]int
	alerts    map[string]int
	rotations int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{decisions: make(map[string]int), alerts: make(map[string]int)}
}

func (f *fakeMetrics) ObserveScanDecision(status, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions[status+"/"+reason]++
}

func (f *fakeMetrics) ObserveFraudAlert(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts[kind]++
}

func (f *fakeMetrics) ObserveTokenRotation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotations++
}

type seqMinter struct {
	mu sync.Mutex
	n  int
}

func (m *seqMinter) Mint() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return fmt.Sprintf("att_token_%d", m.n), nil
}
