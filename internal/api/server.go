// Package api — HTTP-периметр сервиса: превью и исполнение действий, управление правами, журнал аудита.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/spaceai-governor/internal/audit"
	"github.com/xela07ax/spaceai-governor/internal/command"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/infra/auth"
	"github.com/xela07ax/spaceai-governor/internal/orchestrator"
	"github.com/xela07ax/spaceai-governor/internal/permission"
	"github.com/xela07ax/spaceai-governor/internal/plugin"
	"go.uber.org/zap"
)

// Pipeline — то, что нужно от оркестратора
type Pipeline interface {
	CreatePreview(ctx context.Context, req orchestrator.Request) (orchestrator.PreviewResponse, error)
	Execute(ctx context.Context, req orchestrator.Request, approved []string) ([]domain.ExecutionResult, error)
	Process(ctx context.Context, req orchestrator.Request) (orchestrator.ProcessResponse, error)
}

// Gate — PermissionGate
type Gate interface {
	IsAuthorized(user, action string) bool
	HasRole(user, role string) bool
	Permissions(user string) ([]string, bool)
	Checks() []permission.Check
	GrantPermission(ctx context.Context, user, action, grantedBy string) bool
	RevokePermission(ctx context.Context, user, action, revokedBy string) bool
	AssignRole(ctx context.Context, user, role, assignedBy string) bool
}

// AuditJournal — чтение и обслуживание журнала
type AuditJournal interface {
	Query(ctx context.Context, f audit.Filter) (audit.Page, error)
	Export(ctx context.Context, f audit.Filter) ([]audit.Record, error)
	Stats(ctx context.Context, window time.Duration) (audit.Stats, error)
	SystemHealth(ctx context.Context) (audit.Health, error)
	Cleanup(ctx context.Context, olderThan time.Duration, actor string) (int64, error)
}

// Catalog — перечень зарегистрированных действий и их недавние исполнения
type Catalog interface {
	Plugins() []plugin.Info
	Commands() []command.Info
	History() History
	Breakers() []BreakerState
}

// History — последние результаты исполнения, старые первыми.
type History struct {
	Plugins  []domain.ExecutionResult `json:"plugins"`
	Commands []domain.ExecutionResult `json:"commands"`
}

// BreakerState — состояние Circuit Breaker одного плагина: closed, half-open, open.
type BreakerState struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type Deps struct {
	Validator auth.TokenValidator
	Pipeline  Pipeline
	Gate      Gate
	Audit     AuditJournal
	Catalog   Catalog
	Logger    *zap.Logger
	// RetentionDays — срок хранения по умолчанию для DELETE /v1/audit
	RetentionDays int
}

type Server struct {
	Deps
	router *chi.Mux
}

func NewServer(deps Deps) *Server {
	deps.Logger = deps.Logger.Named("api")
	if deps.RetentionDays <= 0 {
		deps.RetentionDays = 90
	}
	s := &Server{Deps: deps, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Get("/health", s.health)

	// --- 3. Защищённый периметр (RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.Validator, s.Logger))

		r.Route("/v1/actions", func(r chi.Router) {
			r.Get("/", s.catalog)
			r.Post("/preview", s.preview)
			r.Post("/execute", s.execute)
			r.Post("/process", s.process)
			r.Get("/history", s.history)
			r.Get("/breakers", s.breakers)
		})

		r.Route("/v1/permissions", func(r chi.Router) {
			r.Get("/me", s.myPermissions)
			r.Get("/checks", s.checks)
			r.Post("/grant", s.grant)
			r.Post("/revoke", s.revoke)
		})
		r.Post("/v1/roles/assign", s.assignRole)

		r.Route("/v1/audit", func(r chi.Router) {
			r.Get("/", s.auditList)
			r.Delete("/", s.auditCleanup)
			r.Get("/stats", s.auditStats)
			r.Get("/export", s.auditExport)
			r.Get("/health", s.auditHealth)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
