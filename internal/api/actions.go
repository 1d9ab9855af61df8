package api

import (
	"net/http"

	"github.com/xela07ax/spaceai-governor/internal/command"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/orchestrator"
	"github.com/xela07ax/spaceai-governor/internal/plugin"
	"go.uber.org/zap"
)

// actionRequest — тело preview/execute/process. Пользователь берётся из токена, не из тела.
// AutoApprove на HTTP-периметре не принимается: он только для доверенных внутренних вызовов.
type actionRequest struct {
	Input           string         `json:"input"`
	SessionID       string         `json:"session_id"`
	History         []string       `json:"history,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	ApprovedActions []string       `json:"approved_actions,omitempty"`
}

func (a actionRequest) toRequest(r *http.Request) orchestrator.Request {
	return orchestrator.Request{
		Input:     a.Input,
		User:      domain.ActorFromContext(r.Context()),
		SessionID: a.SessionID,
		History:   a.History,
		Context:   a.Context,
	}
}

type executeResponse struct {
	Results []domain.ExecutionResult `json:"results"`
}

type catalogResponse struct {
	Plugins  []plugin.Info  `json:"plugins"`
	Commands []command.Info `json:"commands"`
}

// preview — POST /v1/actions/preview
func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !decode(w, r, &body) {
		return
	}
	resp, err := s.Pipeline.CreatePreview(r.Context(), body.toRequest(r))
	if err != nil {
		s.Logger.Warn("preview failed", zap.Error(err))
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// execute — POST /v1/actions/execute. Исполняются только approved_actions.
func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !decode(w, r, &body) {
		return
	}
	results, err := s.Pipeline.Execute(r.Context(), body.toRequest(r), body.ApprovedActions)
	if err != nil {
		s.Logger.Warn("execute failed", zap.Error(err))
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{Results: results})
}

// process — POST /v1/actions/process: полный проход автомата без автоисполнения.
func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !decode(w, r, &body) {
		return
	}
	resp, err := s.Pipeline.Process(r.Context(), body.toRequest(r))
	if err != nil {
		s.Logger.Warn("process failed", zap.Error(err))
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) catalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{
		Plugins:  s.Catalog.Plugins(),
		Commands: s.Catalog.Commands(),
	})
}

// history — GET /v1/actions/history: недавние исполнения, видны тем, кто читает аудит.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(w, r, domain.PermissionViewAudit) {
		return
	}
	writeJSON(w, http.StatusOK, s.Catalog.History())
}

// breakers — GET /v1/actions/breakers: состояние предохранителей внешних вызовов.
func (s *Server) breakers(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(w, r, domain.PermissionViewAudit) {
		return
	}
	writeJSON(w, http.StatusOK, s.Catalog.Breakers())
}
