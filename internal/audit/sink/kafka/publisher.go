// Package kafka publishes audit batches to a Kafka topic. The topic is the
// durable, append-only trail; downstream consumers handle retention and
// compliance routing.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"carecore/internal/audit"
)

// payload is the wire structure for one audit event. Field names are part of
// the consumer contract.
type payload struct {
	ID              string   `json:"id"`
	Timestamp       string   `json:"timestamp"`
	ActorID         string   `json:"actor_id"`
	SessionID       string   `json:"session_id,omitempty"`
	SubjectHash     string   `json:"subject_hash,omitempty"`
	Action          string   `json:"action"`
	Resource        string   `json:"resource"`
	ResourceID      string   `json:"resource_id,omitempty"`
	OutcomeCode     int      `json:"outcome_code"`
	RiskLevel       string   `json:"risk_level"`
	ComplianceFlags []string `json:"compliance_flags,omitempty"`
	CorrectionOf    string   `json:"correction_of,omitempty"`
	IntegrityHash   string   `json:"integrity_hash"`
}

// Publisher is a Kafka-backed audit sink.
type Publisher struct {
	client *kgo.Client
	topic  string
}

// New connects to the given brokers. The caller owns the returned Publisher
// and must Close it.
func New(brokers []string, topic string) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka audit sink: %w", err)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// AppendBatch produces the whole batch synchronously. Any produce failure
// fails the batch so the audit logger re-buffers it.
func (p *Publisher) AppendBatch(ctx context.Context, events []audit.Event) error {
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		body := payload{
			ID:              e.ID.String(),
			Timestamp:       e.Timestamp.UTC().Format(time.RFC3339Nano),
			ActorID:         e.ActorID,
			SessionID:       e.SessionID,
			SubjectHash:     e.SubjectHash,
			Action:          string(e.Action),
			Resource:        string(e.Resource),
			ResourceID:      e.ResourceID,
			OutcomeCode:     e.OutcomeCode,
			RiskLevel:       string(e.RiskLevel),
			ComplianceFlags: e.ComplianceFlags,
			IntegrityHash:   e.IntegrityHash,
		}
		if e.CorrectionOf != uuid.Nil {
			body.CorrectionOf = e.CorrectionOf.String()
		}
		value, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal audit event %s: %w", e.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			// Keyed by session so one session's trail stays ordered.
			Key:   []byte(e.SessionID),
			Value: value,
		})
	}

	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit batch: %w", err)
	}
	return nil
}

// Close flushes and releases the Kafka client.
func (p *Publisher) Close() {
	p.client.Close()
}
