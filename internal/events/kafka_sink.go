package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka.Writer the sink needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AuditRecord is the JSON document published for each notification.
type AuditRecord struct {
	Kind             string        `json:"kind"`
	Event            *GatewayEvent `json:"event,omitempty"`
	TransactionRef   string        `json:"transaction_ref,omitempty"`
	Status           string        `json:"status,omitempty"`
	GatewayID        int64         `json:"gateway_id,omitempty"`
	ProcessingTimeMs int64         `json:"processing_time_ms,omitempty"`
}

const (
	KindGatewayEvent     = "gateway_event"
	KindPaymentProcessed = "payment_processed"
	KindPaymentRefunded  = "payment_refunded"
)

type queued struct {
	key    string
	record AuditRecord
}

// KafkaSink publishes audit records from a background goroutine. When the queue is
// full records are dropped so that routing never waits on the broker.
type KafkaSink struct {
	writer       Writer
	queue        chan queued
	writeTimeout time.Duration
	logger       *slog.Logger
	dropped      atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewKafkaWriter builds a kafka.Writer for brokers/topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// NewKafkaSink starts the publishing goroutine. Call Close to flush and stop it.
func NewKafkaSink(w Writer, queueSize int, logger *slog.Logger) *KafkaSink {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &KafkaSink{
		writer:       w,
		queue:        make(chan queued, queueSize),
		writeTimeout: 5 * time.Second,
		logger:       logger,
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for q := range s.queue {
		b, err := json.Marshal(q.record)
		if err != nil {
			s.logger.Error("failed to marshal audit record", "kind", q.record.Kind, "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err = s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(q.key), Value: b})
		cancel()
		if err != nil {
			s.logger.Warn("kafka write error", "kind", q.record.Kind, "error", err)
		}
	}
}

func (s *KafkaSink) enqueue(key string, rec AuditRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- queued{key: key, record: rec}:
	default:
		s.dropped.Add(1)
	}
}

func (s *KafkaSink) OnGatewayEvent(ev GatewayEvent) {
	ev.Payload = Redact(ev.Payload)
	s.enqueue(ev.TraceID, AuditRecord{Kind: KindGatewayEvent, Event: &ev, GatewayID: ev.GatewayID})
}

func (s *KafkaSink) OnPaymentProcessed(ref, status string, gatewayID, ms int64) {
	s.enqueue(ref, AuditRecord{
		Kind:             KindPaymentProcessed,
		TransactionRef:   ref,
		Status:           status,
		GatewayID:        gatewayID,
		ProcessingTimeMs: ms,
	})
}

func (s *KafkaSink) OnPaymentRefunded(ref string, ms int64) {
	s.enqueue(ref, AuditRecord{Kind: KindPaymentRefunded, TransactionRef: ref, ProcessingTimeMs: ms})
}

// Dropped returns how many records were discarded because the queue was full.
func (s *KafkaSink) Dropped() int64 { return s.dropped.Load() }

// Close drains the queue and closes the writer. Later notifications are counted as dropped.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.writer.Close()
}
