package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hearthgrid/hearthd/internal/monitoring"
	"github.com/hearthgrid/hearthd/internal/tuning"
)

// kafkaWriter is the slice of kafka.Writer the sink uses; tests substitute a
// fake.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a Kafka topic, keyed by zone so per-zone
// ordering is preserved. Publish failures are logged and dropped: event
// delivery must never block or fail a commit.
type KafkaSink struct {
	writer  kafkaWriter
	timeout time.Duration
}

// NewKafkaSink builds a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		timeout: 5 * time.Second,
	}
}

// Close flushes and closes the underlying writer.
func (k *KafkaSink) Close() error { return k.writer.Close() }

// ParameterChanged implements tuning.EventSink.
func (k *KafkaSink) ParameterChanged(zone string, ev tuning.ChangeEvent) {
	k.publish(zone, "parameter_changed", ParameterChanged{
		EventID: newEventID(),
		Zone:    zone,
		Old:     ev.Old,
		New:     ev.New,
		Reason:  string(ev.Reason),
		At:      ev.At,
	})
}

// ValidationRollback implements tuning.EventSink.
func (k *KafkaSink) ValidationRollback(zone string, ev tuning.RollbackEvent) {
	k.publish(zone, "validation_rollback", ValidationRollback{
		EventID:           newEventID(),
		Zone:              zone,
		BaselineOvershoot: ev.BaselineOvershoot,
		ObservedOvershoot: ev.ObservedOvershoot,
		At:                ev.At,
	})
}

func (k *KafkaSink) publish(zone, kind string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		monitoring.Logf("kafka sink: marshal %s failed: %v", kind, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(zone),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		monitoring.Logf("kafka sink: publish %s for zone %s failed: %v", kind, zone, err)
	}
}
