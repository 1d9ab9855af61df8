package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-governor/internal/api"
	"github.com/xela07ax/spaceai-governor/internal/audit"
	"github.com/xela07ax/spaceai-governor/internal/command"
	"github.com/xela07ax/spaceai-governor/internal/connectors"
	"github.com/xela07ax/spaceai-governor/internal/detector"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/infra"
	"github.com/xela07ax/spaceai-governor/internal/infra/auth"
	"github.com/xela07ax/spaceai-governor/internal/kvstore"
	"github.com/xela07ax/spaceai-governor/internal/orchestrator"
	"github.com/xela07ax/spaceai-governor/internal/permission"
	"github.com/xela07ax/spaceai-governor/internal/plugin"
	"github.com/xela07ax/spaceai-governor/internal/plugin/builtin"
	"github.com/xela07ax/spaceai-governor/internal/repository/postgres"
	"github.com/xela07ax/spaceai-governor/internal/risk"
)

func main() {
	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: SIGTERM отменяет слушателей
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hostname, _ := os.Hostname()
	instance := hostname + "-" + uuid.NewString()[:8]

	// 2. Метрики
	reg := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(reg)

	// 3. Хранилища: Postgres и Redis, либо in-memory для локального запуска
	var (
		auditStore audit.Store = audit.NewMemoryStore()
		permStore  permission.Store
		kv         kvstore.Store = kvstore.NewMemory()
		rdb        *redis.Client
	)
	if cfg.Database.URL != "" {
		pool, err := postgres.Open(appCtx, cfg.Database)
		if err != nil {
			logger.Fatal("postgres unavailable", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.Migrate(appCtx, pool); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		auditStore = postgres.NewAuditRepo(pool)
		permStore = postgres.NewPermissionRepo(pool)
	} else {
		logger.Warn("database.url is empty, audit and permissions are kept in memory")
	}
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(appCtx).Err(); err != nil {
			logger.Fatal("redis unavailable", zap.Error(err))
		}
		defer rdb.Close()
		kv = kvstore.NewRedis(rdb)
	}

	// 4. Журнал аудита: фоновый воркер, сброс пачками
	auditLog := audit.NewLogger(auditStore, audit.Config{
		BufferSize:         cfg.Audit.BufferSize,
		BatchSize:          cfg.Audit.BatchSize,
		FlushInterval:      cfg.Audit.FlushInterval,
		UrgentFlushTimeout: cfg.Audit.UrgentFlushTimeout,
		Health: audit.HealthThresholds{
			WarningErrorRate:    cfg.Audit.WarningErrorRate,
			CriticalErrorRate:   cfg.Audit.CriticalErrorRate,
			CriticalEventsLimit: cfg.Audit.CriticalEventsLimit,
		},
	}, metrics.AuditBufferFill, logger)
	auditLog.Start()

	// 5. Классификация риска и PermissionGate
	conditions := make(map[string]risk.Condition, len(cfg.Engine.ApprovalThresholds))
	for action, th := range cfg.Engine.ApprovalThresholds {
		conditions[action] = risk.Condition{RiskField: th.RiskField, Threshold: th.Threshold}
	}
	classifier := risk.NewClassifier(risk.DefaultLevels(), risk.DefaultApprovals(), conditions, logger)

	gateOpts := []permission.Option{permission.WithAuditor(auditLog)}
	if permStore != nil {
		gateOpts = append(gateOpts, permission.WithStore(permStore))
	}
	if rdb != nil {
		gateOpts = append(gateOpts, permission.WithNotifier(permission.NewRedisNotifier(rdb, instance)))
	}
	gate := permission.NewGate(domain.DefaultRoles(), classifier, logger, gateOpts...)
	if err := gate.Bootstrap(cfg.Permissions.Bootstrap); err != nil {
		logger.Fatal("permission bootstrap failed", zap.Error(err))
	}
	if err := gate.Load(appCtx); err != nil {
		logger.Fatal("failed to load permissions", zap.Error(err))
	}
	if rdb != nil {
		go gate.Listen(appCtx, rdb, instance)
	}

	// 6. Плагины. Внешние вызовы идут через Rate Limiter → Circuit Breaker → Retry
	protect := plugin.ProtectConfig{
		MaxRequests:    cfg.Engine.CBMaxRequests,
		Interval:       cfg.Engine.CBInterval,
		Timeout:        cfg.Engine.CBTimeout,
		Failures:       cfg.Engine.CBFailures,
		RateLimit:      cfg.Engine.RateLimit,
		RateBurst:      cfg.Engine.RateBurst,
		Attempts:       cfg.Engine.RetryAttempts,
		AttemptTimeout: cfg.Engine.AttemptTimeout,
		OnStateChange:  metrics.ObserveBreaker,
	}
	plugins := plugin.NewRegistry("plugins", cfg.Engine.ExecutionTimeout, logger)
	plugins.MustRegister(builtin.TextTransform{}, builtin.NewDatasetStore(kv))

	if cfg.Connectors.PersonaURL != "" {
		client := connectors.NewPersonaClient(cfg.Connectors.PersonaURL, cfg.Connectors.RequestTimeout)
		persona := builtin.NewPersona(client, kvstore.NewCache(kv, logger), cfg.Connectors.PersonaTTL)
		plugins.MustRegister(plugin.Protect(persona, protect, logger))
	}
	if cfg.Connectors.GRPCAddr != "" {
		conn, err := connectors.DialGRPCConnector(cfg.Connectors.GRPCAddr, cfg.Connectors.RequestTimeout)
		if err != nil {
			logger.Fatal("failed to connect to connector", zap.Error(err))
		}
		defer conn.Close()
		plugins.MustRegister(plugin.Protect(builtin.NewConnector(conn), protect, logger))
	}

	// 7. Системные команды
	var signaler command.Signaler = command.LogSignaler{Logger: logger}
	if rdb != nil {
		signaler = command.NewRedisSignaler(rdb)
	}
	commands := command.NewRouter(cfg.Engine.ExecutionTimeout, logger)
	commands.MustRegister(
		command.NewRestartAgent(signaler),
		command.NewClearCache(kv, cfg.Commands.CacheCategories),
		command.NewRewriteConfig(kv),
		command.NewBackupDatabase(auditLog, cfg.Commands.BackupDir),
		command.NewCleanupLogs(auditLog, cfg.Audit.DefaultRetentionDays),
		command.NewRunCommand(cfg.Commands.ShellAllowList, cfg.Commands.ShellTimeout),
	)

	// 8. Детектор и оркестратор
	rules := detector.DefaultRules()
	if len(cfg.Detector.Rules) > 0 {
		if rules, err = detector.RulesFromConfig(cfg.Detector.Rules); err != nil {
			logger.Fatal("invalid detector rules", zap.Error(err))
		}
	}
	var model connectors.ConversationModel
	if cfg.Connectors.ModelURL != "" {
		model = connectors.NewModelClient(cfg.Connectors.ModelURL, cfg.Connectors.ModelTimeout)
	}
	orch := orchestrator.New(orchestrator.Deps{
		Detector: detector.NewKeyword(rules, classifier, logger),
		Gate:     gate,
		Risk:     classifier,
		Plugins:  plugins,
		Commands: commands,
		Auditor:  auditLog,
		Model:    model,
		Metrics:  metrics,
		Logger:   logger,
	}, orchestrator.Config{
		ExecutionTimeout: cfg.Engine.ExecutionTimeout,
		StrictApprovals:  cfg.Engine.StrictApprovals,
	})

	// 9. HTTP
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key is required", zap.Error(err))
	}
	srv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewServer(api.Deps{
			Validator:     auth.NewBaseValidator(pubKey),
			Pipeline:      orch,
			Gate:          gate,
			Audit:         auditLog,
			Catalog:       api.RegistryCatalog{Registry: plugins, Router: commands},
			Logger:        logger,
			RetentionDays: cfg.Audit.DefaultRetentionDays,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("governor started", zap.String("addr", srv.Addr), zap.String("instance", instance))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// 10. Graceful Shutdown
	<-appCtx.Done()
	logger.Info("governor stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	// Журнал закрывается последним: всё, что успели исполнить, должно попасть в хранилище
	auditLog.Stop()
	logger.Info("governor exited properly", zap.Duration("uptime", time.Since(startedAt)))
}

var startedAt = time.Now()
