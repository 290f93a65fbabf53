package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arklim/campus-platform-attendance/internal/infra/config"
)

// Provider represents a telemetry provider handle. HTTP request metrics live
// in the transport middleware; this provider covers the domain counters.
type Provider struct {
	scanDecisions  *prometheus.CounterVec
	fraudAlerts    *prometheus.CounterVec
	tokenRotations prometheus.Counter
}

// Attach configures telemetry exporters and returns a provider handle.
func Attach(_ context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	scanDecisions := promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "scan_decisions_total",
		Help:      "Terminal scan verification decisions by status and reason",
	}, []string{"status", "reason"})

	fraudAlerts := promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "fraud_alerts_total",
		Help:      "Fraud alerts raised by kind",
	}, []string{"kind"})

	tokenRotations := promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "token_rotations_total",
		Help:      "Session token rotations committed",
	})

	return &Provider{
		scanDecisions:  scanDecisions,
		fraudAlerts:    fraudAlerts,
		tokenRotations: tokenRotations,
	}, nil
}

// ObserveScanDecision counts one terminal verification decision.
func (p *Provider) ObserveScanDecision(status, reason string) {
	if p == nil {
		return
	}
	p.scanDecisions.WithLabelValues(status, reason).Inc()
}

// ObserveFraudAlert counts one raised fraud alert.
func (p *Provider) ObserveFraudAlert(kind string) {
	if p == nil {
		return
	}
	p.fraudAlerts.WithLabelValues(kind).Inc()
}

// ObserveTokenRotation counts one committed token rotation.
func (p *Provider) ObserveTokenRotation() {
	if p == nil {
		return
	}
	p.tokenRotations.Inc()
}
