package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
)

// DataQualityObserver turns sub-record events into log lines, counters and
// span events. Log lines carry the excerpt, never the stored value.
type DataQualityObserver struct {
	logger        zerolog.Logger
	parseFailures metric.Int64Counter
	corruptions   metric.Int64Counter
	anomalies     metric.Int64Counter
}

var _ subrecord.Observer = (*DataQualityObserver)(nil)

// NewDataQualityObserver logs through logger unless the event's context
// carries a request logger.
func NewDataQualityObserver(logger zerolog.Logger, meter metric.Meter) *DataQualityObserver {
	return &DataQualityObserver{
		logger:        logger,
		parseFailures: int64Counter(meter, "subrecord.parse_failures", "Clinical payloads that did not parse on write"),
		corruptions:   int64Counter(meter, "subrecord.corruptions", "Stored sub-records that failed to decode"),
		anomalies:     int64Counter(meter, "subrecord.anomalies", "Stored sub-record fields corrected while decoding"),
	}
}

func int64Counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
	}
	return c
}

func (o *DataQualityObserver) ParseFailure(ctx context.Context, ev subrecord.Event) {
	o.record(ctx, o.parseFailures, "subrecord.parse_failure", ev)
	o.log(ctx, zerolog.WarnLevel, ev).Msg("unparseable clinical payload")
}

func (o *DataQualityObserver) Corruption(ctx context.Context, ev subrecord.Event) {
	o.record(ctx, o.corruptions, "subrecord.corruption", ev)
	o.log(ctx, zerolog.ErrorLevel, ev).Msg("corrupted sub-record")
}

func (o *DataQualityObserver) Anomaly(ctx context.Context, ev subrecord.Event) {
	o.record(ctx, o.anomalies, "subrecord.anomaly", ev)
	o.log(ctx, zerolog.WarnLevel, ev).Msg("sub-record field corrected")
}

func (o *DataQualityObserver) record(ctx context.Context, c metric.Int64Counter, name string, ev subrecord.Event) {
	attrs := []attribute.KeyValue{
		attribute.String("kind", ev.Kind.String()),
		attribute.String("source", string(ev.Source)),
	}
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(append(attrs,
			attribute.Int64("patient.id", ev.PatientID),
			attribute.Int64("offset", ev.Offset),
		)...))
	}
}

func (o *DataQualityObserver) log(ctx context.Context, level zerolog.Level, ev subrecord.Event) *zerolog.Event {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &o.logger
	}
	e := l.WithLevel(level).
		Str("kind", ev.Kind.String()).
		Str("source", string(ev.Source)).
		Int64("patient_id", ev.PatientID)
	if ev.Offset >= 0 {
		e = e.Int64("offset", ev.Offset)
	}
	if ev.Excerpt != "" {
		e = e.Str("excerpt", ev.Excerpt)
	}
	if ev.Path != "" {
		e = e.Str("path", ev.Path)
	}
	if ev.Reason != "" {
		e = e.Str("reason", ev.Reason)
	}
	return e
}
