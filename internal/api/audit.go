package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/spaceai-governor/internal/audit"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// parseFilter извлекает фильтры из Query-параметров
// ?actor=&action=&category=&level=&session_id=&from=&to=&limit=&offset=
func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		Actor:     q.Get("actor"),
		Action:    q.Get("action"),
		Category:  audit.Category(q.Get("category")),
		Level:     audit.Level(q.Get("level")),
		SessionID: q.Get("session_id"),
	}

	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = time.Parse(time.RFC3339, v); err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = time.Parse(time.RFC3339, v); err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("limit: %w", err)
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("offset: %w", err)
		}
	}
	return f, nil
}

// auditList — GET /v1/audit
func (s *Server) auditList(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(w, r, domain.PermissionViewAudit) {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.Audit.Query(r.Context(), f)
	if err != nil {
		s.Logger.Error("audit query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch audit records")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// auditStats — GET /v1/audit/stats?window=24h
func (s *Server) auditStats(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(w, r, domain.PermissionViewAudit) {
		return
	}
	var window time.Duration
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "window: "+err.Error())
			return
		}
		window = d
	}
	st, err := s.Audit.Stats(r.Context(), window)
	if err != nil {
		s.Logger.Error("audit stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute audit stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// auditExport — GET /v1/audit/export?format=json|yaml
func (s *Server) auditExport(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(w, r, domain.PermissionExportAudit) {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "yaml" {
		writeError(w, http.StatusBadRequest, "format must be json or yaml")
		return
	}

	records, err := s.Audit.Export(r.Context(), f)
	if err != nil {
		s.Logger.Error("audit export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export audit records")
		return
	}

	if format == "yaml" {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		if err := enc.Encode(records); err != nil {
			s.Logger.Error("yaml encode failed", zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// auditHealth — GET /v1/audit/health. Статус critical отдаётся как 503.
func (s *Server) auditHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.Audit.SystemHealth(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if h.Status == audit.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// auditCleanup — DELETE /v1/audit?older_than_days=N. Только super_admin.
func (s *Server) auditCleanup(w http.ResponseWriter, r *http.Request) {
	actor := domain.ActorFromContext(r.Context())
	if !s.Gate.HasRole(actor, domain.RoleSuperAdmin) {
		writeError(w, http.StatusForbidden, "super_admin role required")
		return
	}
	days := s.RetentionDays
	if v := r.URL.Query().Get("older_than_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "older_than_days: "+err.Error())
			return
		}
		days = n
	}

	deleted, err := s.Audit.Cleanup(r.Context(), time.Duration(days)*24*time.Hour, actor)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "older_than_days": days})
}
