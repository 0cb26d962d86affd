package audit

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"trade-identity/internal/audit/domain"
)

// recordEmitter is the subset of otellog.Logger the sink uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// OTelSink emits audit records as OpenTelemetry log records.
type OTelSink struct {
	logger recordEmitter
}

// NewOTelSink returns a sink on provider, or nil when provider is nil.
func NewOTelSink(provider *sdklog.LoggerProvider) *OTelSink {
	if provider == nil {
		return nil
	}
	return &OTelSink{logger: provider.Logger("trade-identity.audit")}
}

// NewOTelSinkWithLogger returns a sink that emits to logger. Used by tests.
func NewOTelSinkWithLogger(logger recordEmitter) *OTelSink {
	return &OTelSink{logger: logger}
}

// Publish converts rec to a log record. Reason codes for failures are emitted at WARN.
func (s *OTelSink) Publish(ctx context.Context, rec *domain.AuditLog) error {
	if s == nil || s.logger == nil || rec == nil {
		return nil
	}
	var r otellog.Record
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	r.SetTimestamp(ts)
	r.SetBody(otellog.StringValue(string(rec.Action)))
	r.SetSeverity(otellog.SeverityInfo)
	if rec.ReasonCode != domain.ReasonNone {
		r.SetSeverity(otellog.SeverityWarn)
		r.AddAttributes(otellog.String("reason_code", string(rec.ReasonCode)))
	}
	r.AddAttributes(
		otellog.String("audit_id", rec.ID),
		otellog.String("realm", rec.Realm),
	)
	if rec.TenantID != "" {
		r.AddAttributes(otellog.String("tenant_id", rec.TenantID))
	}
	if rec.ActorID != "" {
		r.AddAttributes(otellog.String("actor_id", rec.ActorID))
	}
	if rec.IP != "" {
		r.AddAttributes(otellog.String("client_ip", rec.IP))
	}
	for k, v := range domain.ScrubMetadata(rec.Metadata) {
		r.AddAttributes(otellog.String("meta."+k, v))
	}
	s.logger.Emit(ctx, r)
	return nil
}
