// Package audit writes append-only authentication events. Writes are best-effort: a failure is
// logged server-side and never changes the outcome returned to the caller.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trade-identity/internal/audit/domain"
	auditrepo "trade-identity/internal/audit/repository"
	"trade-identity/internal/realm"
	"trade-identity/internal/tenancy"
)

// sinkTimeout bounds one asynchronous sink publish. ShutdownDrainDuration must be at least this long.
const sinkTimeout = 5 * time.Second

// ShutdownDrainDuration is how long shutdown waits for in-flight sink publishes.
const ShutdownDrainDuration = sinkTimeout

// Event is what callers report. The logger stamps ID and time.
type Event struct {
	Action   domain.Action
	Realm    realm.Realm
	TenantID string
	ActorID  string
	Reason   domain.Reason
	IP       string
	Metadata map[string]string
}

// Emitter records authentication events.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Sink receives a copy of every persisted record (e.g. Kafka, OpenTelemetry logs).
type Sink interface {
	Publish(ctx context.Context, rec *domain.AuditLog) error
}

// Logger persists each event in its own tenant-context transaction, after the caller's primary
// transaction has committed, then fans the record out to sinks asynchronously.
type Logger struct {
	runner tenancy.Executor
	repo   auditrepo.Repository
	sinks  []Sink
	log    logrus.FieldLogger
	now    func() time.Time

	inflight sync.WaitGroup
}

// NewLogger returns a Logger. sinks may be empty.
func NewLogger(runner tenancy.Executor, repo auditrepo.Repository, log logrus.FieldLogger, sinks ...Sink) *Logger {
	return &Logger{runner: runner, repo: repo, sinks: sinks, log: log, now: time.Now}
}

// Emit writes one record. The write is attempted synchronously so it lands before the response;
// it is not retried, and a failure is only logged.
func (l *Logger) Emit(ctx context.Context, ev Event) {
	if l == nil || l.repo == nil {
		return
	}
	rec := &domain.AuditLog{
		ID:         uuid.NewString(),
		Action:     ev.Action,
		Realm:      realmName(ev.Realm),
		TenantID:   ev.TenantID,
		ActorID:    ev.ActorID,
		ReasonCode: ev.Reason,
		Metadata:   domain.ScrubMetadata(ev.Metadata),
		IP:         ev.IP,
		CreatedAt:  l.now().UTC(),
	}

	// The audit write outlives a client that disconnects mid-request.
	writeCtx := context.WithoutCancel(ctx)
	err := l.runner.WithContext(writeCtx, tenancy.Auth(ev.Realm), func(ctx context.Context) error {
		return l.repo.Create(ctx, rec)
	})
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"action": rec.Action,
			"reason": rec.ReasonCode,
			"realm":  rec.Realm,
			"error":  err.Error(),
		}).Warn("audit: write failed")
	}

	for _, s := range l.sinks {
		l.publishAsync(s, rec)
	}
}

func (l *Logger) publishAsync(s Sink, rec *domain.AuditLog) {
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := s.Publish(ctx, rec); err != nil {
			l.log.WithFields(logrus.Fields{"action": rec.Action, "error": err.Error()}).Warn("audit: sink publish failed")
		}
	}()
}

// Drain waits for in-flight sink publishes or until ctx is done.
func (l *Logger) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func realmName(r realm.Realm) string {
	if r.Valid() {
		return r.String()
	}
	return "none"
}
