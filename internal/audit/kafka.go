package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"trade-identity/internal/audit/domain"
)

// KafkaSink mirrors audit records to a Kafka topic as JSON, keyed by realm so one realm's events stay ordered.
type KafkaSink struct {
	writer messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaRecord struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	Realm      string            `json:"realm"`
	TenantID   string            `json:"tenant_id,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	ReasonCode string            `json:"reason_code,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	IP         string            `json:"ip,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewKafkaSink returns a sink writing to topic on brokers, or nil when brokers or topic is empty.
// Call Close when shutting down.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

// Publish serializes the record and writes it to the topic.
func (k *KafkaSink) Publish(ctx context.Context, rec *domain.AuditLog) error {
	if k == nil || k.writer == nil || rec == nil {
		return nil
	}
	payload, err := json.Marshal(kafkaRecord{
		ID:         rec.ID,
		Action:     string(rec.Action),
		Realm:      rec.Realm,
		TenantID:   rec.TenantID,
		ActorID:    rec.ActorID,
		ReasonCode: string(rec.ReasonCode),
		Metadata:   domain.ScrubMetadata(rec.Metadata),
		IP:         rec.IP,
		CreatedAt:  rec.CreatedAt,
	})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Realm),
		Value: payload,
		Time:  rec.CreatedAt,
	})
}

// Close closes the Kafka writer. Safe to call on a nil sink.
func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
