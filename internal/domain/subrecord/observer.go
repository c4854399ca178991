package subrecord

import "context"

// Source tells an observer which path produced an event.
type Source string

const (
	SourceWrite Source = "write"
	SourceRead  Source = "read"
	SourceAudit Source = "audit"
)

// Event is a single data-quality observation. It never carries the full
// payload, only a short excerpt.
type Event struct {
	Kind      Kind
	PatientID int64
	Source    Source
	Offset    int64
	Excerpt   string
	Reason    string
	Path      string
}

// Observer receives data-quality events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ParseFailure(ctx context.Context, ev Event)
	Corruption(ctx context.Context, ev Event)
	Anomaly(ctx context.Context, ev Event)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ParseFailure(context.Context, Event) {}
func (NopObserver) Corruption(context.Context, Event)   {}
func (NopObserver) Anomaly(context.Context, Event)      {}

// Origin identifies the patient and path an operation runs for, so that
// events raised deep in the codec can be attributed.
type Origin struct {
	PatientID int64
	Source    Source
}

type originKey struct{}

// WithOrigin stores o in ctx.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFromContext returns the origin stored in ctx, if any.
func OriginFromContext(ctx context.Context) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}

func eventFor(ctx context.Context, kind Kind) Event {
	ev := Event{Kind: kind, Offset: -1}
	if o, ok := OriginFromContext(ctx); ok {
		ev.PatientID = o.PatientID
		ev.Source = o.Source
	}
	return ev
}
