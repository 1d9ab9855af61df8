package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-governor/internal/permission"
)

// PermissionRepo хранит наборы прав пользователей. Гейт держит их в памяти,
// база нужна для холодного старта и синхронизации инстансов.
type PermissionRepo struct {
	pool *pgxpool.Pool
}

func NewPermissionRepo(pool *pgxpool.Pool) *PermissionRepo {
	return &PermissionRepo{pool: pool}
}

// LoadPermissions — холодная загрузка всех наборов при старте.
func (r *PermissionRepo) LoadPermissions(ctx context.Context) (map[string][]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, permissions FROM user_permissions`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load permissions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var user string
		var perms []string
		if err := rows.Scan(&user, &perms); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan permissions: %w", err)
		}
		out[user] = perms
	}
	return out, rows.Err()
}

func (r *PermissionRepo) LoadUser(ctx context.Context, user string) ([]string, bool, error) {
	var perms []string
	err := r.pool.QueryRow(ctx, `SELECT permissions FROM user_permissions WHERE user_id = $1`, user).Scan(&perms)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postgres: failed to load permissions of %s: %w", user, err)
	}
	return perms, true, nil
}

// SavePermissions перезаписывает набор целиком (upsert).
func (r *PermissionRepo) SavePermissions(ctx context.Context, user string, permissions []string) error {
	if permissions == nil {
		permissions = []string{}
	}
	query := `
		INSERT INTO user_permissions (user_id, permissions, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET permissions = EXCLUDED.permissions, updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, user, permissions); err != nil {
		return fmt.Errorf("postgres: failed to save permissions of %s: %w", user, err)
	}
	return nil
}

var _ permission.Store = (*PermissionRepo)(nil)
