package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Priya8975/order-relay/internal/domain"
	"github.com/Priya8975/order-relay/internal/metrics"
)

// ErrCircuitOpen is returned when the mirror's circuit breaker rejects a
// publish.
var ErrCircuitOpen = errors.New("mirror circuit open")

const mirrorWriteTimeout = 5 * time.Second

// MessageWriter is the part of *kafka.Writer the mirror uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Breaker guards the mirror's broker.
type Breaker interface {
	AllowRequest(ctx context.Context, target string) (string, bool)
	RecordSuccess(ctx context.Context, target string)
	RecordFailure(ctx context.Context, target string)
}

// MirrorMessage is the JSON value written for every mirrored notification.
type MirrorMessage struct {
	Room     string    `json:"room"`
	Event    string    `json:"event"`
	OrderID  string    `json:"order_id,omitempty"`
	Payload  any       `json:"payload"`
	Mirrored time.Time `json:"mirrored_at"`
}

// NewKafkaWriter returns a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaMirror copies notifications to a Kafka topic, keyed by order id so
// every notification for one order lands on the same partition.
type KafkaMirror struct {
	writer  MessageWriter
	breaker Breaker
	target  string
	logger  *slog.Logger
	now     func() time.Time
}

func NewKafkaMirror(writer MessageWriter, topic string, breaker Breaker, logger *slog.Logger) *KafkaMirror {
	return &KafkaMirror{
		writer:  writer,
		breaker: breaker,
		target:  "kafka:" + topic,
		logger:  logger,
		now:     time.Now,
	}
}

// Publish writes n to the topic unless the circuit is open. It matches
// PublishFunc so it can run on a Pool.
func (m *KafkaMirror) Publish(ctx context.Context, n domain.Notification) error {
	state, ok := m.breaker.AllowRequest(ctx, m.target)
	if !ok {
		metrics.MirrorPublishTotal.WithLabelValues("circuit_open").Inc()
		return ErrCircuitOpen
	}

	value, err := json.Marshal(MirrorMessage{
		Room:     n.Room,
		Event:    n.Event,
		OrderID:  n.OrderID,
		Payload:  n.Payload,
		Mirrored: m.now().UTC(),
	})
	if err != nil {
		metrics.MirrorPublishTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("marshalling mirror message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, mirrorWriteTimeout)
	defer cancel()

	err = m.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(n.OrderID),
		Value: value,
	})
	if err != nil {
		m.breaker.RecordFailure(ctx, m.target)
		metrics.MirrorPublishTotal.WithLabelValues("error").Inc()
		m.logger.Warn("mirror publish failed",
			"error", err,
			"event", n.Event,
			"order_id", n.OrderID,
			"circuit_state", state,
		)
		return fmt.Errorf("writing to %s: %w", m.target, err)
	}

	m.breaker.RecordSuccess(ctx, m.target)
	metrics.MirrorPublishTotal.WithLabelValues("ok").Inc()
	return nil
}

func (m *KafkaMirror) Close() error {
	return m.writer.Close()
}
