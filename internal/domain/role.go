package domain

import "sort"

// Имена действий, известные системе из коробки.
const (
	ActionTransformText  = "transformText"
	ActionStoreDataset   = "storeDataset"
	ActionFetchPersona   = "fetchPersona"
	ActionCallConnector  = "callConnector"
	ActionRestartAgent   = "restartAgent"
	ActionClearCache     = "clearCache"
	ActionRewriteConfig  = "rewriteConfig"
	ActionBackupDatabase = "backupDatabase"
	ActionCleanupLogs    = "cleanupLogs"
	ActionRunCommand     = "runCommand"
)

// Служебные права, не являющиеся исполняемыми действиями.
const (
	PermissionViewAudit   = "viewAudit"
	PermissionExportAudit = "exportAudit"
)

// Роли
const (
	RoleGuest      = "guest"
	RoleOperator   = "operator"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Role — именованный набор прав.
type Role struct {
	Name        string   `json:"name" mapstructure:"name"`
	Permissions []string `json:"permissions" mapstructure:"permissions"`
}

// DefaultRoles — встроенная иерархия ролей. Каждая следующая роль включает права предыдущей.
func DefaultRoles() map[string]Role {
	guest := []string{ActionTransformText, ActionFetchPersona}
	operator := append(clone(guest), ActionStoreDataset, ActionCallConnector, ActionClearCache)
	admin := append(clone(operator),
		ActionRestartAgent, ActionRewriteConfig, ActionBackupDatabase,
		PermissionViewAudit, PermissionExportAudit,
	)
	superAdmin := append(clone(admin), ActionCleanupLogs, ActionRunCommand)

	return map[string]Role{
		RoleGuest:      {Name: RoleGuest, Permissions: guest},
		RoleOperator:   {Name: RoleOperator, Permissions: operator},
		RoleAdmin:      {Name: RoleAdmin, Permissions: admin},
		RoleSuperAdmin: {Name: RoleSuperAdmin, Permissions: superAdmin},
	}
}

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// SortedKeys — отсортированный список ключей множества (для детерминированного вывода и БД).
func SortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
