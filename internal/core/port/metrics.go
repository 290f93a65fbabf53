package port

// MetricsRecorder receives verification and rotation counters. Implementations
// must tolerate being called from concurrent goroutines.
type MetricsRecorder interface {
	ObserveScanDecision(status, reason string)
	ObserveFraudAlert(kind string)
	ObserveTokenRotation()
}
