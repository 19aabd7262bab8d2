package events

import (
	"log/slog"
)

// LogSink writes every notification as a structured log entry.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) OnGatewayEvent(ev GatewayEvent) {
	attrs := []any{
		"trace_id", ev.TraceID,
		"gateway_id", ev.GatewayID,
		"gateway_type", ev.GatewayType,
		"operation", string(ev.Operation),
	}
	if ev.Phase == PhaseRequest {
		l.logger.Info("Gateway request", append(attrs, "payload", ev.Payload)...)
		return
	}
	attrs = append(attrs, "status", string(ev.Status), "duration_ms", ev.DurationMs)
	if ev.Status == StatusError {
		l.logger.Warn("Gateway response", append(attrs, "error", ev.Error, "payload", ev.Payload)...)
		return
	}
	l.logger.Info("Gateway response", append(attrs, "payload", ev.Payload)...)
}

func (l *LogSink) OnPaymentProcessed(ref, status string, gatewayID, ms int64) {
	l.logger.Info("Transaction processed",
		"transaction_ref", ref,
		"status", status,
		"gateway_id", gatewayID,
		"processing_time_ms", ms,
	)
}

func (l *LogSink) OnPaymentRefunded(ref string, ms int64) {
	l.logger.Info("Transaction refunded",
		"transaction_ref", ref,
		"processing_time_ms", ms,
	)
}
