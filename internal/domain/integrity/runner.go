package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/cache"
)

var (
	// ErrBusy means another run holds the tenant's lock.
	ErrBusy = errors.New("an integrity run is already in progress for this tenant")
	// ErrNoReport means no completed run has been recorded for the tenant.
	ErrNoReport = errors.New("no integrity report recorded")
)

const (
	defaultLockTTL   = 30 * time.Minute
	defaultReportTTL = 7 * 24 * time.Hour
)

// StoreFactory returns the store for one tenant.
type StoreFactory func(tenantID string) (Store, error)

// Runner serializes auditor runs per tenant and keeps the latest report of
// each. The HTTP handler and the CLI both run through it.
type Runner struct {
	stores    StoreFactory
	codec     *subrecord.Codec
	opts      Options
	locks     cache.Locker
	reports   cache.Store
	LockTTL   time.Duration
	ReportTTL time.Duration
}

func NewRunner(stores StoreFactory, codec *subrecord.Codec, backend cache.Backend, opts Options) *Runner {
	return &Runner{
		stores:    stores,
		codec:     codec,
		opts:      opts,
		locks:     backend,
		reports:   backend,
		LockTTL:   defaultLockTTL,
		ReportTTL: defaultReportTTL,
	}
}

func lockKey(tenantID string) string   { return "integrity:lock:" + tenantID }
func reportKey(tenantID string) string { return "integrity:report:" + tenantID }

// Run audits one tenant, repairing when repair is set. A completed report
// replaces the tenant's latest; an aborted one is returned but not kept.
func (r *Runner) Run(ctx context.Context, tenantID string, repair bool) (*Report, error) {
	store, err := r.stores(tenantID)
	if err != nil {
		return nil, err
	}

	unlock, err := r.locks.Lock(ctx, lockKey(tenantID), r.LockTTL)
	if errors.Is(err, cache.ErrLocked) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, err
	}
	log := r.opts.Logger.With().Str("tenant_id", tenantID).Logger()
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("release integrity lock")
		}
	}()

	opts := r.opts
	opts.Logger = log
	auditor := NewAuditor(store, r.codec, opts)

	var rep *Report
	if repair {
		rep, err = auditor.ScanAndRepair(ctx)
	} else {
		rep, err = auditor.Scan(ctx)
	}
	if err != nil {
		return rep, err
	}

	if serr := r.save(context.WithoutCancel(ctx), tenantID, rep); serr != nil {
		log.Error().Err(serr).Str("run_id", rep.RunID).Msg("store integrity report")
	}
	return rep, nil
}

func (r *Runner) save(ctx context.Context, tenantID string, rep *Report) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return r.reports.Set(ctx, reportKey(tenantID), b, r.ReportTTL)
}

// Latest returns the most recent completed report for the tenant.
func (r *Runner) Latest(ctx context.Context, tenantID string) (*Report, error) {
	b, err := r.reports.Get(ctx, reportKey(tenantID))
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrNoReport
	}
	if err != nil {
		return nil, err
	}
	var rep Report
	if err := json.Unmarshal(b, &rep); err != nil {
		return nil, fmt.Errorf("decode stored report: %w", err)
	}
	return &rep, nil
}
