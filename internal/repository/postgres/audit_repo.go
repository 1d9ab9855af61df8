package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-governor/internal/audit"
)

const (
	auditColumns = "id, actor, action, input, result, category, level, session_id, execution_id, metadata, ts"
	auditFields  = 11
	// Лимит параметров Postgres — 65535, режем вставку на пачки
	maxInsertRows = 1000
)

// AuditRepo — audit.Store поверх таблицы audit_records.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Append пишет пачку одним INSERT. Повторная запись того же id игнорируется.
func (r *AuditRepo) Append(ctx context.Context, records []audit.Record) error {
	for len(records) > 0 {
		n := min(len(records), maxInsertRows)
		query, args, err := buildInsert(records[:n])
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres: failed to insert audit batch: %w", err)
		}
		records = records[n:]
	}
	return nil
}

// buildInsert динамически строит запрос для пакетной вставки
func buildInsert(records []audit.Record) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO audit_records (" + auditColumns + ") VALUES ")
	args := make([]any, 0, len(records)*auditFields)

	for i, rec := range records {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for j := 1; j <= auditFields; j++ {
			if j > 1 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", i*auditFields+j)
		}
		sb.WriteByte(')')

		result, err := jsonOrNil(rec.Result)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: marshal result of %s: %w", rec.ID, err)
		}
		meta, err := jsonOrNil(rec.Metadata)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: marshal metadata of %s: %w", rec.ID, err)
		}
		args = append(args,
			rec.ID, rec.Actor, rec.Action, rec.Input, result,
			string(rec.Category), string(rec.Level), rec.SessionID, rec.ExecutionID, meta, rec.Timestamp,
		)
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")
	return sb.String(), args, nil
}

func jsonOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// buildWhere переводит фильтр в WHERE с позиционными параметрами
func buildWhere(f audit.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Actor != "" {
		add("actor = $%d", f.Actor)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if f.Level != "" {
		add("level = $%d", string(f.Level))
	}
	if f.SessionID != "" {
		add("session_id = $%d", f.SessionID)
	}
	if !f.From.IsZero() {
		add("ts >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("ts < $%d", f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *AuditRepo) Query(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	where, args := buildWhere(f)
	query := "SELECT " + auditColumns + " FROM audit_records" + where + " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	out := make([]audit.Record, 0)
	for rows.Next() {
		var (
			rec           audit.Record
			result, meta  []byte
			category, lvl string
		)
		if err := rows.Scan(
			&rec.ID, &rec.Actor, &rec.Action, &rec.Input, &result,
			&category, &lvl, &rec.SessionID, &rec.ExecutionID, &meta, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit record: %w", err)
		}
		rec.Category = audit.Category(category)
		rec.Level = audit.Level(lvl)
		if len(result) > 0 {
			if err := json.Unmarshal(result, &rec.Result); err != nil {
				return nil, fmt.Errorf("postgres: decode result of %s: %w", rec.ID, err)
			}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: decode metadata of %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *AuditRepo) Count(ctx context.Context, f audit.Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_records"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: failed to count audit: %w", err)
	}
	return n, nil
}

func (r *AuditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, "DELETE FROM audit_records WHERE ts < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete audit records: %w", err)
	}
	return ct.RowsAffected(), nil
}

var _ audit.Store = (*AuditRepo)(nil)
