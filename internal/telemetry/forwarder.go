// Package telemetry forwards the audit stream to external log storage.
package telemetry

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// pushTimeout bounds a single push to the log store.
const pushTimeout = 10 * time.Second

// MessageReader is the subset of *kafka.Reader the forwarder uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Pusher stores one audit record.
type Pusher interface {
	PushAuditJSON(ctx context.Context, raw []byte) error
}

// Forwarder copies audit records from the audit topic to a Pusher. Delivery is at-most-once per
// record: a failed push is logged and the offset is still committed, since Postgres holds the
// authoritative copy.
type Forwarder struct {
	reader MessageReader
	pusher Pusher
	log    logrus.FieldLogger
}

// NewForwarder returns a Forwarder.
func NewForwarder(reader MessageReader, pusher Pusher, log logrus.FieldLogger) *Forwarder {
	return &Forwarder{reader: reader, pusher: pusher, log: log}
}

// NewAuditReader returns a consumer-group reader on the audit topic.
func NewAuditReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
}

// Run forwards until ctx is cancelled. Read errors are logged and retried.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		msg, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.WithField("error", err.Error()).Warn("audit forwarder: read failed")
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := f.pusher.PushAuditJSON(pushCtx, msg.Value); err != nil {
			f.log.WithFields(logrus.Fields{"offset": msg.Offset, "error": err.Error()}).Warn("audit forwarder: push failed")
		}
		cancel()

		if err := f.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			f.log.WithField("error", err.Error()).Warn("audit forwarder: commit failed")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
