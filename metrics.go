package parlance

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	// MetricRPCOutCount counts outbound request/inform frames.
	MetricRPCOutCount          = []string{"parlance", "rpc", "out", "count"}
	MetricRPCInCount           = []string{"parlance", "rpc", "in", "count"}
	MetricRPCTimeoutCount      = []string{"parlance", "rpc", "timeout", "count"}
	MetricRPCErrorCount        = []string{"parlance", "rpc", "error", "count"}
	MetricRPCDroppedCount      = []string{"parlance", "rpc", "dropped", "count"}
	MetricEventDeliveredCount  = []string{"parlance", "event", "delivered", "count"}
	MetricEventOrphanCount     = []string{"parlance", "event", "orphan", "count"}
	MetricFrameMalformedCount  = []string{"parlance", "frame", "malformed", "count"}
	MetricSessionActiveCount   = []string{"parlance", "session", "active", "count"}
	MetricSessionRejectedCount = []string{"parlance", "session", "rejected", "count"}
	MetricDispatchErrorCount   = []string{"parlance", "dispatch", "error", "count"}
)

type TelemetryLabel string

var (
	LabelError       TelemetryLabel = "error"
	LabelChannelName TelemetryLabel = "channel_name"
	LabelDialectName TelemetryLabel = "dialect_name"
	LabelMessageID   TelemetryLabel = "message_id"
	LabelMessageType TelemetryLabel = "message_type"
	LabelEventName   TelemetryLabel = "event_name"
	LabelClientID    TelemetryLabel = "client_id"
	LabelDuration    TelemetryLabel = "duration"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
