// Package integrity scans persisted sub-record columns for values the codec
// can no longer decode and optionally resets them to the kind default.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/patient"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
)

const instrumentationName = "github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/integrity"

const (
	DefaultPageSize    = 500
	DefaultConcurrency = 4
)

// Store is the persistence the auditor reads and repairs through.
// patient.Repository satisfies it.
type Store interface {
	ListEncodedFields(ctx context.Context, afterID int64, limit int) ([]patient.EncodedRow, error)
	UpdateEncodedField(ctx context.Context, id int64, kind subrecord.Kind, value *string) error
}

type Options struct {
	// PageSize is the number of patients read per listing call.
	PageSize int
	// Concurrency bounds the repair writes in flight.
	Concurrency int
	Logger      zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Auditor runs integrity passes. It holds no state between runs.
type Auditor struct {
	store   Store
	codec   *subrecord.Codec
	opts    Options
	tracer  trace.Tracer
	metrics auditMetrics
}

func NewAuditor(store Store, codec *subrecord.Codec, opts Options) *Auditor {
	if codec == nil {
		codec = subrecord.NewCodec(nil)
	}
	return &Auditor{
		store:   store,
		codec:   codec,
		opts:    opts.withDefaults(),
		tracer:  otel.Tracer(instrumentationName),
		metrics: newAuditMetrics(otel.Meter(instrumentationName)),
	}
}

// Scan decodes every stored field and reports the ones that fail. It never
// writes.
func (a *Auditor) Scan(ctx context.Context) (*Report, error) {
	return a.run(ctx, false)
}

// ScanAndRepair is Scan followed by resetting each corrupted field to the
// kind default for the patient's sex. The original value is lost; the
// report enumerates every field it replaced.
func (a *Auditor) ScanAndRepair(ctx context.Context) (*Report, error) {
	return a.run(ctx, true)
}

// run returns the report built so far together with any error, so a
// cancelled pass still tells the caller what it saw.
func (a *Auditor) run(ctx context.Context, repair bool) (*Report, error) {
	started := time.Now()
	rep := &Report{
		RunID:             uuid.NewString(),
		Timestamp:         started.UTC(),
		Action:            ActionNone,
		CorruptedPatients: []PatientFindings{},
	}
	if repair {
		rep.Action = ActionResetToDefault
	}

	ctx, span := a.tracer.Start(ctx, "integrity.scan", trace.WithAttributes(
		attribute.String("integrity.run_id", rep.RunID),
		attribute.String("integrity.action", string(rep.Action)),
	))
	defer span.End()

	log := a.opts.Logger.With().Str("run_id", rep.RunID).Str("action", string(rep.Action)).Logger()
	log.Info().Msg("integrity scan started")

	err := a.walk(ctx, rep, repair)
	rep.settle(started)

	span.SetAttributes(
		attribute.Int("integrity.total_patients", rep.TotalPatients),
		attribute.Int("integrity.corrupted_fields", rep.CorruptedFields),
		attribute.Int("integrity.fixed_fields", rep.FixedFields),
		attribute.String("integrity.status", string(rep.Status)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Int("total_patients", rep.TotalPatients).Msg("integrity scan aborted")
		return rep, err
	}

	event := log.Info()
	if rep.CorruptedFields > 0 {
		event = log.Warn()
	}
	event.
		Int("total_patients", rep.TotalPatients).
		Int("scanned_fields", rep.ScannedFields).
		Int("corrupted_fields", rep.CorruptedFields).
		Int("fixed_fields", rep.FixedFields).
		Int("failed_repairs", rep.FailedRepairs).
		Int64("duration_ms", rep.DurationMS).
		Str("status", string(rep.Status)).
		Msg("integrity scan finished")
	return rep, nil
}

func (a *Auditor) walk(ctx context.Context, rep *Report, repair bool) error {
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := a.store.ListEncodedFields(ctx, afterID, a.opts.PageSize)
		if err != nil {
			return fmt.Errorf("list patients after id %d: %w", afterID, err)
		}
		if len(rows) == 0 {
			return nil
		}

		first := len(rep.CorruptedPatients)
		a.inspect(ctx, rows, rep)
		if repair {
			if err := a.repair(ctx, rows, rep.CorruptedPatients[first:]); err != nil {
				return err
			}
		}

		afterID = rows[len(rows)-1].ID
		if len(rows) < a.opts.PageSize {
			return nil
		}
	}
}

// inspect decodes every field of a page and appends findings to rep.
func (a *Auditor) inspect(ctx context.Context, rows []patient.EncodedRow, rep *Report) {
	for _, row := range rows {
		rep.TotalPatients++
		rctx := subrecord.WithOrigin(ctx, subrecord.Origin{PatientID: row.ID, Source: subrecord.SourceAudit})

		var fields []FieldFinding
		for _, kind := range subrecord.AllKinds {
			rep.ScannedFields++
			stored := row.Fields[kind]
			if _, err := a.codec.Decode(rctx, kind, stored); err != nil {
				fields = append(fields, finding(kind, stored, err))
			}
		}
		a.metrics.scanned.Add(ctx, int64(len(subrecord.AllKinds)))

		if len(fields) == 0 {
			continue
		}
		rep.CorruptedFields += len(fields)
		for _, f := range fields {
			a.metrics.corrupted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", f.Kind.String())))
		}
		rep.CorruptedPatients = append(rep.CorruptedPatients, PatientFindings{ID: row.ID, Name: row.Name, Fields: fields})
	}
}

func finding(kind subrecord.Kind, stored *string, err error) FieldFinding {
	f := FieldFinding{Kind: kind, Reason: err.Error(), Offset: -1}
	var cerr *subrecord.CorruptionError
	if errors.As(err, &cerr) {
		f.Reason = cerr.Reason
		f.Offset = cerr.Offset
		f.Excerpt = cerr.Excerpt
	}
	if stored != nil {
		f.Hints = subrecord.Diagnose(*stored)
	}
	return f
}

// repair resets the corrupted fields of one page. Each job writes only to
// its own finding. A failed write is recorded and does not stop the others.
func (a *Auditor) repair(ctx context.Context, rows []patient.EncodedRow, found []PatientFindings) error {
	if len(found) == 0 {
		return nil
	}
	sexes := make(map[int64]subrecord.Sex, len(rows))
	for _, row := range rows {
		sexes[row.ID] = row.Sex
	}

	var g errgroup.Group
	g.SetLimit(a.opts.Concurrency)
	for i := range found {
		p := &found[i]
		for j := range p.Fields {
			f := &p.Fields[j]
			id, sex := p.ID, sexes[p.ID]
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					f.RepairError = err.Error()
					return nil
				}
				if err := a.reset(ctx, id, f.Kind, sex); err != nil {
					f.RepairError = err.Error()
					a.metrics.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", f.Kind.String())))
					a.opts.Logger.Error().Err(err).Int64("patient_id", id).Str("kind", f.Kind.String()).Msg("integrity repair failed")
					return nil
				}
				f.Repaired = true
				a.metrics.repaired.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", f.Kind.String())))
				return nil
			})
		}
	}
	_ = g.Wait()
	return ctx.Err()
}

func (a *Auditor) reset(ctx context.Context, id int64, kind subrecord.Kind, sex subrecord.Sex) error {
	value, err := a.codec.Encode(subrecord.DefaultFor(kind, sex))
	if err != nil {
		return err
	}
	return a.store.UpdateEncodedField(ctx, id, kind, value)
}

type auditMetrics struct {
	scanned   metric.Int64Counter
	corrupted metric.Int64Counter
	repaired  metric.Int64Counter
	failed    metric.Int64Counter
}

func newAuditMetrics(meter metric.Meter) auditMetrics {
	return auditMetrics{
		scanned:   counter(meter, "integrity.fields.scanned", "Stored sub-record fields decoded by the auditor"),
		corrupted: counter(meter, "integrity.fields.corrupted", "Stored sub-record fields that failed to decode"),
		repaired:  counter(meter, "integrity.fields.repaired", "Corrupted fields reset to their default"),
		failed:    counter(meter, "integrity.repairs.failed", "Repair writes that failed"),
	}
}

// counter returns a no-op instrument when the meter rejects the definition.
func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
		c, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter(name)
	}
	return c
}
