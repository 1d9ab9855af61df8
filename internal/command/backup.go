package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xela07ax/spaceai-governor/internal/audit"
	"github.com/xela07ax/spaceai-governor/internal/domain"
	"gopkg.in/yaml.v3"
)

// Exporter — источник записей для бэкапа (audit.Logger).
type Exporter interface {
	Export(ctx context.Context, f audit.Filter) ([]audit.Record, error)
}

// BackupDatabase — backupDatabase: снимок журнала аудита в файл (json или yaml).
type BackupDatabase struct {
	exporter Exporter
	dir      string
	now      func() time.Time
}

func NewBackupDatabase(exporter Exporter, dir string) *BackupDatabase {
	return &BackupDatabase{exporter: exporter, dir: dir, now: time.Now}
}

func (*BackupDatabase) Name() string               { return domain.ActionBackupDatabase }
func (*BackupDatabase) Kind() domain.ActionKind    { return domain.KindSystemCommand }
func (*BackupDatabase) Impact() domain.ImpactLevel { return domain.ImpactHigh }
func (*BackupDatabase) Description() string        { return "Back up the audit database to a file" }
func (*BackupDatabase) AffectedServices() []string { return []string{"audit-store", "backup-volume"} }

func (*BackupDatabase) Validate(p domain.Parameters) error {
	if f, ok := p["format"]; ok {
		if s, _ := f.(string); s != "json" && s != "yaml" {
			return domain.Invalid("format must be json or yaml")
		}
	}
	if days, ok := p.Float("since_days"); ok && days <= 0 {
		return domain.Invalid("since_days must be positive")
	}
	return nil
}

type snapshot struct {
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	Count     int            `json:"count" yaml:"count"`
	Records   []audit.Record `json:"records" yaml:"records"`
}

func (c *BackupDatabase) Execute(ctx context.Context, p domain.Parameters) (any, error) {
	format, ok := p.String("format")
	if !ok {
		format = "json"
	}
	now := c.now().UTC()
	var f audit.Filter
	if days, ok := p.Float("since_days"); ok {
		f.From = now.Add(-time.Duration(days * float64(24*time.Hour)))
	}

	records, err := c.exporter.Export(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: export: %v", domain.ErrExecution, err)
	}
	snap := snapshot{CreatedAt: now, Count: len(records), Records: records}

	var data []byte
	if format == "yaml" {
		data, err = yaml.Marshal(snap)
	} else {
		data, err = json.MarshalIndent(snap, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode snapshot: %v", domain.ErrExecution, err)
	}

	path, err := c.write(data, now, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExecution, err)
	}
	return map[string]any{"path": path, "records": len(records), "bytes": len(data)}, nil
}

// write пишет во временный файл и переименовывает: частичный бэкап не появится под итоговым именем
func (c *BackupDatabase) write(data []byte, now time.Time, ext string) (string, error) {
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".backup-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close backup: %w", err)
	}

	final := filepath.Join(c.dir, fmt.Sprintf("audit-%s.%s", now.Format("20060102T150405.000Z"), ext))
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("rename backup: %w", err)
	}
	return final, nil
}
