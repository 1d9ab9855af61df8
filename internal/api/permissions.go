package api

import (
	"net/http"

	"github.com/xela07ax/spaceai-governor/internal/domain"
)

type grantRequest struct {
	User   string `json:"user"`
	Action string `json:"action"`
}

type assignRequest struct {
	User string `json:"user"`
	Role string `json:"role"`
}

type mutationResponse struct {
	Changed bool `json:"changed"`
}

// grant — POST /v1/permissions/grant. Отказ гейта (нет super_admin) — 403, гейт сам пишет аудит.
func (s *Server) grant(w http.ResponseWriter, r *http.Request) {
	var body grantRequest
	if !decode(w, r, &body) {
		return
	}
	if body.User == "" || body.Action == "" {
		writeError(w, http.StatusBadRequest, "user and action are required")
		return
	}
	actor := domain.ActorFromContext(r.Context())
	s.mutation(w, s.Gate.GrantPermission(r.Context(), body.User, body.Action, actor))
}

func (s *Server) revoke(w http.ResponseWriter, r *http.Request) {
	var body grantRequest
	if !decode(w, r, &body) {
		return
	}
	if body.User == "" || body.Action == "" {
		writeError(w, http.StatusBadRequest, "user and action are required")
		return
	}
	actor := domain.ActorFromContext(r.Context())
	s.mutation(w, s.Gate.RevokePermission(r.Context(), body.User, body.Action, actor))
}

func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	var body assignRequest
	if !decode(w, r, &body) {
		return
	}
	if body.User == "" || body.Role == "" {
		writeError(w, http.StatusBadRequest, "user and role are required")
		return
	}
	actor := domain.ActorFromContext(r.Context())
	if !s.Gate.HasRole(actor, domain.RoleSuperAdmin) {
		// Гейт всё равно проверит и запишет попытку в аудит
		s.Gate.AssignRole(r.Context(), body.User, body.Role, actor)
		writeError(w, http.StatusForbidden, "super_admin role required")
		return
	}
	if !s.Gate.AssignRole(r.Context(), body.User, body.Role, actor) {
		writeError(w, http.StatusBadRequest, "unknown role "+body.Role)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Changed: true})
}

func (s *Server) mutation(w http.ResponseWriter, ok bool) {
	if !ok {
		writeError(w, http.StatusForbidden, "super_admin role required")
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Changed: true})
}

// myPermissions — GET /v1/permissions/me
func (s *Server) myPermissions(w http.ResponseWriter, r *http.Request) {
	actor := domain.ActorFromContext(r.Context())
	perms, ok := s.Gate.Permissions(actor)
	if !ok {
		perms = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": actor, "permissions": perms})
}

// checks — GET /v1/permissions/checks: локальный буфер последних проверок
func (s *Server) checks(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(w, r, domain.PermissionViewAudit) {
		return
	}
	writeJSON(w, http.StatusOK, s.Gate.Checks())
}

func (s *Server) allowed(w http.ResponseWriter, r *http.Request, perm string) bool {
	if s.Gate.IsAuthorized(domain.ActorFromContext(r.Context()), perm) {
		return true
	}
	writeError(w, http.StatusForbidden, "permission "+perm+" required")
	return false
}
