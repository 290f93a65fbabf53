package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/campus-platform-attendance/internal/core/domain"
	"github.com/arklim/campus-platform-attendance/internal/core/port"
	"github.com/arklim/campus-platform-attendance/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	SessionID string           `json:"session_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, sessionID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		SessionID: sessionID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(sessionID),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishScanVerified publishes attendance.scan.verified events.
func (p *EventPublisher) PublishScanVerified(ctx context.Context, event domain.ScanVerifiedEvent) error {
	payload := struct {
		SessionID    string    `json:"session_id"`
		CourseID     string    `json:"course_id"`
		StudentID    string    `json:"student_id"`
		Status       string    `json:"status"`
		Reason       string    `json:"reason"`
		RiskScore    int       `json:"risk_score"`
		RiskLevel    string    `json:"risk_level"`
		AttemptCount int       `json:"attempt_count"`
		VerifiedAt   time.Time `json:"verified_at"`
	}{
		SessionID:    event.SessionID,
		CourseID:     event.CourseID,
		StudentID:    event.StudentID,
		Status:       string(event.Status),
		Reason:       string(event.Reason),
		RiskScore:    event.RiskScore,
		RiskLevel:    string(event.RiskLevel),
		AttemptCount: event.AttemptCount,
		VerifiedAt:   event.VerifiedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "attendance.scan.verified", event.SessionID, event.VerifiedAt, payload)
}

// PublishFraudAlert publishes attendance.fraud.alert events.
func (p *EventPublisher) PublishFraudAlert(ctx context.Context, event domain.FraudAlertEvent) error {
	payload := struct {
		SessionID string             `json:"session_id"`
		CourseID  string             `json:"course_id"`
		StudentID string             `json:"student_id"`
		RiskScore int                `json:"risk_score"`
		RiskLevel string             `json:"risk_level"`
		Factors   map[string]float64 `json:"factors,omitempty"`
		Kind      string             `json:"kind"`
		RaisedAt  time.Time          `json:"raised_at"`
	}{
		SessionID: event.SessionID,
		CourseID:  event.CourseID,
		StudentID: event.StudentID,
		RiskScore: event.RiskScore,
		RiskLevel: string(event.RiskLevel),
		Factors:   event.Factors,
		Kind:      event.Kind,
		RaisedAt:  event.RaisedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "attendance.fraud.alert", event.SessionID, event.RaisedAt, payload)
}

// PublishSessionLifecycle publishes attendance.session.lifecycle events.
func (p *EventPublisher) PublishSessionLifecycle(ctx context.Context, event domain.SessionLifecycleEvent) error {
	payload := struct {
		SessionID    string    `json:"session_id"`
		CourseID     string    `json:"course_id"`
		State        string    `json:"state"`
		TokenVersion int64     `json:"token_version"`
		At           time.Time `json:"at"`
	}{
		SessionID:    event.SessionID,
		CourseID:     event.CourseID,
		State:        string(event.State),
		TokenVersion: event.TokenVersion,
		At:           event.At.UTC(),
	}

	return p.publish(ctx, event.EventID, "attendance.session.lifecycle", event.SessionID, event.At, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
