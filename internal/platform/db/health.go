package db

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

const healthTimeout = 5 * time.Second

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthHandler pings the database and reports pool statistics.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		stats := GetPoolStats(pool)
		if err := pool.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"pool":   stats,
		})
	}
}

// Pinger is any dependency readiness can probe: *pgxpool.Pool and the
// cache backends both qualify.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadinessReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Failed []string          `json:"failed,omitempty"`
}

// CheckReadiness pings every dependency concurrently. A dependency that
// fails or times out is listed in Failed with its error as the check value.
func CheckReadiness(ctx context.Context, deps map[string]Pinger) ReadinessReport {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		report = ReadinessReport{Status: "ready", Checks: make(map[string]string, len(deps))}
		g      errgroup.Group
	)
	for name, dep := range deps {
		g.Go(func() error {
			result := "ok"
			if err := dep.Ping(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = result
			if result != "ok" {
				report.Failed = append(report.Failed, name)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(report.Failed) > 0 {
		report.Status = "unavailable"
		sort.Strings(report.Failed)
	}
	return report
}

// ReadinessHandler answers 200 when every dependency responds and 503
// otherwise.
func ReadinessHandler(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		report := CheckReadiness(c.Request().Context(), deps)
		status := http.StatusOK
		if len(report.Failed) > 0 {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, report)
	}
}
