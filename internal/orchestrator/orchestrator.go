// Package orchestrator — конвейер управления действиями:
// ANALYZE → PREVIEW → AUTO_EXECUTE | AWAIT_APPROVAL → EXECUTE → RECORD → DONE.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-governor/internal/audit"
	"github.com/xela07ax/spaceai-governor/internal/command"
	"github.com/xela07ax/spaceai-governor/internal/connectors"
	"github.com/xela07ax/spaceai-governor/internal/detector"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/plugin"
	"github.com/xela07ax/spaceai-governor/internal/risk"
	"go.uber.org/zap"
)

type State string

const (
	StateAnalyze       State = "ANALYZE"
	StatePreview       State = "PREVIEW"
	StateAutoExecute   State = "AUTO_EXECUTE"
	StateAwaitApproval State = "AWAIT_APPROVAL"
	StateExecute       State = "EXECUTE"
	StateRecord        State = "RECORD"
	StateDone          State = "DONE"
)

// Authorizer — то, что нужно от PermissionGate.
type Authorizer interface {
	IsAuthorized(user, action string) bool
}

// Auditor — то, что нужно от AuditLogger.
type Auditor interface {
	LogAction(ctx context.Context, actor, action string, result any, opts audit.Options) string
}

// PluginExecutor — реестр плагинов (plugin.Registry).
type PluginExecutor interface {
	ExecuteAction(ctx context.Context, name string, params domain.Parameters, executionID string) domain.ExecutionResult
}

// CommandExecutor — Command Router (command.Router).
type CommandExecutor interface {
	ExecuteCommand(ctx context.Context, name string, params domain.Parameters, executionID string) domain.ExecutionResult
	AffectedServices(name string) []string
	Impact(name string) (domain.ImpactLevel, bool)
}

type Deps struct {
	Detector detector.Detector
	Gate     Authorizer
	Risk     *risk.Classifier
	Plugins  PluginExecutor
	Commands CommandExecutor
	Auditor  Auditor
	Model    connectors.ConversationModel // nil — без ответов в чат
	Metrics  *Metrics
	Logger   *zap.Logger
}

type Config struct {
	ExecutionTimeout time.Duration
	// StrictApprovals: неизвестное имя в approved даёт неуспешный результат unknown_action
	StrictApprovals bool
}

type Orchestrator struct {
	Deps
	cfg   Config
	now   func() time.Time
	newID func() string
}

func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = plugin.DefaultTimeout
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	deps.Logger = deps.Logger.Named("orchestrator")
	return &Orchestrator{Deps: deps, cfg: cfg, now: time.Now, newID: uuid.NewString}
}

// Request — один ход диалога.
type Request struct {
	Input     string         `json:"input"`
	User      string         `json:"user"`
	SessionID string         `json:"session_id"`
	History   []string       `json:"history,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	// AutoApprove — доверенный вызывающий разрешает исполнить действия без апрува сразу
	AutoApprove bool `json:"auto_approve,omitempty"`
}

type PreviewResponse struct {
	Previews         []domain.ExecutionPreview `json:"previews"`
	RequiresApproval bool                      `json:"requires_approval"`
	PendingApproval  []string                  `json:"pending_approval"`
	Reply            string                    `json:"reply,omitempty"`
	State            State                     `json:"state"`
}

// CreatePreview анализирует ввод и описывает, что будет исполнено. Побочных эффектов нет:
// одинаковый ввод даёт одинаковые превью.
func (o *Orchestrator) CreatePreview(ctx context.Context, req Request) (PreviewResponse, error) {
	o.enter(StateAnalyze, req)
	previews, err := o.analyze(ctx, req)
	if err != nil {
		return PreviewResponse{}, err
	}

	pending := domain.NewPendingApprovalSet(previews)
	resp := PreviewResponse{
		Previews:         previews,
		RequiresApproval: pending.Len() > 0,
		PendingApproval:  pending.Names(),
		State:            StatePreview,
	}
	if resp.RequiresApproval {
		resp.State = StateAwaitApproval
	}
	o.enter(resp.State, req)
	for _, p := range previews {
		o.Metrics.PreviewsTotal.WithLabelValues(p.Action.Name, strconv.FormatBool(p.RequiresApproval)).Inc()
	}

	if len(previews) == 0 {
		resp.Reply = o.chat(ctx, req)
		resp.State = StateDone
	}
	return resp, nil
}

// analyze: ANALYZE → PREVIEW
func (o *Orchestrator) analyze(ctx context.Context, req Request) ([]domain.ExecutionPreview, error) {
	descriptors, err := o.Detector.Detect(ctx, req.Input, detector.Context{
		SessionID:  req.SessionID,
		User:       req.User,
		History:    req.History,
		Attributes: req.Context,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrDetection) {
			err = fmt.Errorf("%w: %v", domain.ErrDetection, err)
		}
		return nil, err
	}

	previews := make([]domain.ExecutionPreview, 0, len(descriptors))
	for _, d := range descriptors {
		d.Parameters = d.Parameters.Clone()
		d.Impact = o.Risk.EffectiveImpact(d)

		var affected []string
		requires := o.Risk.IsRequired(d)
		if d.Kind == domain.KindSystemCommand {
			// заявленный командой уровень не может быть понижен таблицей
			if declared, ok := o.Commands.Impact(d.Name); ok {
				d.Impact = domain.Max(d.Impact, declared)
			}
			affected = o.Commands.AffectedServices(d.Name)
			// Системные команды никогда не исполняются без апрува
			requires = true
		}
		previews = append(previews, domain.ExecutionPreview{
			Action:           d,
			RequiresApproval: requires,
			EstimatedImpact:  o.Risk.Describe(d.Impact, affected),
		})
	}
	return previews, nil
}

// chat — ответ модели, когда действий не найдено. Сбой модели не ломает превью.
func (o *Orchestrator) chat(ctx context.Context, req Request) string {
	if o.Model == nil || req.Input == "" {
		return ""
	}
	messages := make([]connectors.Message, 0, len(req.History)+1)
	for i, h := range req.History {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		messages = append(messages, connectors.Message{Role: role, Content: h})
	}
	messages = append(messages, connectors.Message{Role: "user", Content: req.Input})

	out, err := o.Model.Complete(ctx, messages, req.SessionID)
	if err != nil {
		o.Logger.Warn("conversation model failed", zap.String("session_id", req.SessionID), zap.Error(err))
		return ""
	}
	return out.Text
}

// Execute исполняет одобренные действия запроса: EXECUTE → RECORD → DONE.
// Результаты идут в порядке approved, по одному на имя; каждый результат попадает в аудит.
func (o *Orchestrator) Execute(ctx context.Context, req Request, approved []string) ([]domain.ExecutionResult, error) {
	o.enter(StateAnalyze, req)
	previews, err := o.analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, req, previews, approved), nil
}

// ProcessResponse — итог полного прохода автомата.
type ProcessResponse struct {
	PreviewResponse
	Results []domain.ExecutionResult `json:"results,omitempty"`
}

// Process — полный проход: если апрув не нужен и вызывающий разрешил AutoApprove,
// превью исполняются сразу. Системные команды всегда ждут апрува.
func (o *Orchestrator) Process(ctx context.Context, req Request) (ProcessResponse, error) {
	pr, err := o.CreatePreview(ctx, req)
	if err != nil {
		return ProcessResponse{}, err
	}
	resp := ProcessResponse{PreviewResponse: pr}
	if len(pr.Previews) == 0 || pr.RequiresApproval || !req.AutoApprove {
		return resp, nil
	}

	names := make([]string, 0, len(pr.Previews))
	for _, p := range pr.Previews {
		if p.Action.Kind == domain.KindSystemCommand {
			continue
		}
		names = append(names, p.Action.Name)
	}
	o.enter(StateAutoExecute, req)
	o.Logger.Info("auto-executing previews", zap.String("user", req.User), zap.Strings("actions", names))
	resp.Results = o.execute(ctx, req, pr.Previews, names)
	resp.State = StateDone
	return resp, nil
}

func (o *Orchestrator) execute(ctx context.Context, req Request, previews []domain.ExecutionPreview, approved []string) []domain.ExecutionResult {
	byName := make(map[string]domain.ExecutionPreview, len(previews))
	for _, p := range previews {
		if _, dup := byName[p.Action.Name]; !dup {
			byName[p.Action.Name] = p
		}
	}

	ctx = domain.WithSession(domain.WithActor(ctx, req.User), req.SessionID)
	pending := domain.NewPendingApprovalSet(previews)
	results := make([]domain.ExecutionResult, 0, len(approved))
	seen := make(map[string]struct{}, len(approved))

	for _, name := range approved {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		p, ok := byName[name]
		if !ok {
			if !o.cfg.StrictApprovals {
				o.Logger.Info("approved action not in previews, skipped",
					zap.String("action", name), zap.String("user", req.User))
				continue
			}
			res := domain.FailedResult(name, o.newID(),
				domain.NewActionError(name, domain.ReasonUnknownAction, domain.ErrUnknownAction), o.now().UTC())
			o.record(ctx, req, nil, "", res, audit.CategoryExecution, audit.LevelWarning)
			results = append(results, res)
			continue
		}
		if pending.Contains(name) {
			o.decide(pending, name, true)
		}
		results = append(results, o.executeOne(ctx, req, p, pending.Status(name)))
	}

	// всё, что ждало апрува и не попало в approved, отклонено
	for _, name := range pending.Names() {
		if pending.Status(name) == domain.StatusPending && o.decide(pending, name, false) {
			o.reject(ctx, req, byName[name])
		}
	}
	o.enter(StateDone, req)
	return results
}

// decide фиксирует решение по действию из PendingApprovalSet.
func (o *Orchestrator) decide(pending *domain.PendingApprovalSet, name string, approved bool) bool {
	if err := pending.Decide(name, approved); err != nil {
		o.Logger.Warn("approval decision rejected", zap.String("action", name), zap.Error(err))
		return false
	}
	o.Metrics.ApprovalsTotal.WithLabelValues(name, string(pending.Status(name))).Inc()
	return true
}

// reject — действие ждало апрува, но не попало в approved: исполнения нет, есть запись в журнале.
func (o *Orchestrator) reject(ctx context.Context, req Request, p domain.ExecutionPreview) {
	o.Logger.Info("pending action rejected", zap.String("action", p.Action.Name), zap.String("user", req.User))
	o.Auditor.LogAction(ctx, req.User, p.Action.Name, map[string]any{"approval": domain.StatusRejected}, audit.Options{
		Input:     req.Input,
		SessionID: req.SessionID,
		Category:  audit.CategoryApproval,
		Level:     audit.LevelInfo,
		Metadata: map[string]any{
			"trace_id": domain.TraceIDFromContext(ctx),
			"kind":     p.Action.Kind,
			"impact":   p.Action.Impact,
		},
	})
}

// enter — переход автомата; пишется в debug, чтобы восстановить ход запроса по логам.
func (o *Orchestrator) enter(state State, req Request) {
	o.Logger.Debug("state transition",
		zap.String("state", string(state)),
		zap.String("user", req.User),
		zap.String("session_id", req.SessionID),
	)
}

// executeOne: approval — статус из PendingApprovalSet, "" для действий без апрува.
func (o *Orchestrator) executeOne(ctx context.Context, req Request, p domain.ExecutionPreview, approval domain.ApprovalStatus) domain.ExecutionResult {
	name := p.Action.Name
	execID := o.newID()

	// Повторная проверка прав прямо перед исполнением
	if !o.Gate.IsAuthorized(req.User, name) {
		res := domain.FailedResult(name, execID,
			domain.NewActionError(name, domain.ReasonUnauthorized, domain.ErrUnauthorized), o.now().UTC())
		o.record(ctx, req, &p, approval, res, audit.CategoryAuthorization, audit.LevelWarning)
		return res
	}

	o.enter(StateExecute, req)
	o.Metrics.ExecutionsTotal.WithLabelValues(name, string(p.Action.Kind)).Inc()

	// Уход клиента не отменяет уже отправленное исполнение
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ExecutionTimeout)
	defer cancel()

	var res domain.ExecutionResult
	if p.Action.Kind == domain.KindSystemCommand {
		res = o.Commands.ExecuteCommand(dctx, name, p.Action.Parameters, execID)
	} else {
		res = o.Plugins.ExecuteAction(dctx, name, p.Action.Parameters, execID)
	}

	status := "success"
	level := audit.LevelInfo
	if !res.Success {
		status = "failed"
		level = audit.LevelError
		if res.Reason == domain.ReasonInvalidParameters {
			level = audit.LevelWarning
		}
	}
	o.Metrics.ExecutionDuration.WithLabelValues(name, status).Observe(float64(res.DurationMs) / 1000)
	o.record(ctx, req, &p, approval, res, audit.CategoryExecution, level)
	return res
}

// record — RECORD: каждый исход попадает в журнал до возврата вызывающему.
func (o *Orchestrator) record(ctx context.Context, req Request, p *domain.ExecutionPreview, approval domain.ApprovalStatus, res domain.ExecutionResult, cat audit.Category, level audit.Level) {
	o.enter(StateRecord, req)
	if !res.Success {
		o.Metrics.ErrorTotal.WithLabelValues(string(res.Reason)).Inc()
	}
	meta := map[string]any{"trace_id": domain.TraceIDFromContext(ctx)}
	if p != nil {
		meta["kind"] = p.Action.Kind
		meta["impact"] = p.Action.Impact
		meta["requires_approval"] = p.RequiresApproval
		meta["parameters"] = p.Action.Parameters
	}
	if approval != "" {
		meta["approval"] = approval
	}
	o.Auditor.LogAction(ctx, req.User, res.Action, res, audit.Options{
		Input:       req.Input,
		SessionID:   req.SessionID,
		ExecutionID: res.ExecutionID,
		Category:    cat,
		Level:       level,
		Metadata:    meta,
	})
}

// Compile-time checks
var (
	_ PluginExecutor  = (*plugin.Registry)(nil)
	_ CommandExecutor = (*command.Router)(nil)
)
