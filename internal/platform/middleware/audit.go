package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/auth"
)

const apiPrefix = "/api/v1/"

// AuditEntry records who touched which patient data, when, and how.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	TenantID   string
	Resource   string // patients, integrity
	PatientID  int64
	SubRecord  string
	Action     string // read, search, create, update, delete, scan, repair
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// Audit returns Echo middleware that writes a "phi_access" log line for
// every request under /api/v1/. Requests that were refused are logged too.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			entry := newAuditEntry(c, err)
			evt := logger.Info()
			if entry.StatusCode == http.StatusForbidden || entry.StatusCode == http.StatusUnauthorized {
				evt = logger.Warn()
			}
			if entry.PatientID > 0 {
				evt = evt.Int64("patient_id", entry.PatientID)
			}
			if entry.SubRecord != "" {
				evt = evt.Str("sub_record", entry.SubRecord)
			}
			evt.
				Str("type", "phi_audit").
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Time("at", entry.Timestamp).
				Msg("phi_access")

			return err
		}
	}
}

func newAuditEntry(c echo.Context, err error) AuditEntry {
	req := c.Request()
	ctx := req.Context()
	entry := AuditEntry{
		Timestamp:  time.Now().UTC(),
		Path:       req.URL.Path,
		Method:     req.Method,
		IPAddress:  c.RealIP(),
		UserAgent:  req.UserAgent(),
		StatusCode: c.Response().Status,
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
	}
	if err != nil && !c.Response().Committed {
		entry.StatusCode = http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			entry.StatusCode = he.Code
		}
	}
	entry.RequestID, _ = c.Get("request_id").(string)
	entry.TenantID, _ = c.Get("tenant_id").(string)

	segments := strings.Split(strings.Trim(strings.TrimPrefix(req.URL.Path, apiPrefix), "/"), "/")
	entry.Resource = segments[0]
	if entry.Resource == "" {
		entry.Resource = "unknown"
	}
	if entry.Resource == "patients" && len(segments) > 1 {
		if id, perr := strconv.ParseInt(segments[1], 10, 64); perr == nil && id > 0 {
			entry.PatientID = id
		}
		if len(segments) > 3 && segments[2] == "subrecords" {
			entry.SubRecord = segments[3]
		}
	}
	entry.Action = auditAction(req.Method, entry, c.QueryParam("repair"))
	return entry
}

func auditAction(method string, entry AuditEntry, repair string) string {
	if entry.Resource == "integrity" {
		if method == http.MethodPost {
			if b, _ := strconv.ParseBool(repair); b {
				return "repair"
			}
			return "scan"
		}
		return "read"
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		if entry.PatientID == 0 {
			return "search"
		}
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}
