package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"io/fs"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidTenantID reports whether id is safe to splice into a schema name.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// TenantSchema returns the schema holding a tenant's tables. Postgres folds
// unquoted names to lower case, so the schema is always lower case.
func TenantSchema(tenantID string) string {
	return "tenant_" + strings.ToLower(tenantID)
}

func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)

			if !ValidTenantID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			err := WithTenantConn(c.Request().Context(), pool, tenantID, func(ctx context.Context) error {
				c.SetRequest(c.Request().WithContext(ctx))
				c.Set("tenant_id", tenantID)
				c.Set("db", ConnFromContext(ctx))
				return next(c)
			})
			if err != nil {
				var tce *tenantConnError
				if errors.As(err, &tce) {
					return echo.NewHTTPError(tce.status, tce.msg)
				}
				return err
			}
			return nil
		}
	}
}

type tenantConnError struct {
	status int
	msg    string
	err    error
}

func (e *tenantConnError) Error() string { return fmt.Sprintf("%s: %v", e.msg, e.err) }
func (e *tenantConnError) Unwrap() error { return e.err }

// WithTenantConn acquires a connection, points its search_path at the
// tenant schema and runs fn with the connection and tenant ID in ctx. The
// connection is released on every exit path.
func WithTenantConn(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context) error) error {
	if !ValidTenantID(tenantID) {
		return &tenantConnError{status: http.StatusBadRequest, msg: "invalid tenant identifier", err: fmt.Errorf("tenant %q", tenantID)}
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return &tenantConnError{status: http.StatusServiceUnavailable, msg: "database unavailable", err: err}
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", TenantSchema(tenantID)))
	if err != nil {
		return &tenantConnError{status: http.StatusInternalServerError, msg: "tenant resolution failed", err: err}
	}

	ctx = WithTenant(ctx, tenantID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return fn(ctx)
}

// extractTenantID prefers the token claim, then the X-Tenant-ID header,
// then the tenant_id query parameter.
func extractTenantID(c echo.Context, defaultTenant string) string {
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}

	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}

	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}

	return defaultTenant
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// WithTenant stores a tenant ID in ctx without a connection.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// CreateTenantSchema creates the schema for a tenant and, when migrations
// is non-nil, applies every migration to it.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrations fs.FS) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}

	schema := TenantSchema(tenantID)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	if err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrations != nil {
		migrator := NewMigrator(pool, migrations)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
