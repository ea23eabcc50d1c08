package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
	"github.com/iqb-berlin/testcenter/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	eventTypeSessionChanged  = "session.changed"
	eventTypeSessionsDeleted = "sessions.deleted"
)

// SessionEventSink implements port.BroadcastSink by publishing session
// events to Kafka. Delivery is fire-and-forget; dashboards in other
// processes consume the topic.
type SessionEventSink struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewSessionEventSink constructs a Kafka-backed session event sink.
func NewSessionEventSink(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *SessionEventSink {
	return &SessionEventSink{producer: producer, appCfg: appCfg, logger: logger}
}

type eventEnvelope struct {
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	WorkspaceID int               `json:"workspace_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Version     string            `json:"version"`
	Payload     any               `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SessionChange publishes one session-change message.
func (s *SessionEventSink) SessionChange(ctx context.Context, message domain.SessionChangeMessage) {
	s.publish(ctx, eventTypeSessionChanged, message.WorkspaceID, message.Timestamp, message)
}

// SessionsDeleted publishes a group purge notification.
func (s *SessionEventSink) SessionsDeleted(ctx context.Context, workspaceID int, groupName string) {
	payload := struct {
		GroupName string `json:"groupName"`
	}{GroupName: groupName}

	s.publish(ctx, eventTypeSessionsDeleted, workspaceID, time.Time{}, payload)
}

func (s *SessionEventSink) publish(ctx context.Context, eventType string, workspaceID int, ts time.Time, payload any) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	envelope := eventEnvelope{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		WorkspaceID: workspaceID,
		Timestamp:   ts.UTC(),
		Version:     schemaVersion,
		Payload:     payload,
		Metadata: map[string]string{
			"service":     s.appCfg.Name,
			"environment": s.appCfg.Env,
		},
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Error("marshal session event envelope", zap.Error(err))
		return
	}

	message := &sarama.ProducerMessage{
		Topic: s.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(fmt.Sprintf("%d", workspaceID)),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case s.producer.Input() <- message:
	case <-ctx.Done():
		s.logger.Warn("session event dropped, context done",
			zap.String("event_type", eventType),
			zap.Int("workspace", workspaceID),
		)
	}
}

var _ port.BroadcastSink = (*SessionEventSink)(nil)
