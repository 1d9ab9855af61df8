package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-governor/internal/domain"
)

const (
	maxOutput = 64 << 10
	maxArgs   = 16
)

// Метасимволы оболочки запрещены даже несмотря на то, что оболочка не используется
const shellMeta = "|&;<>()$`\\\"'*?[]#~{}\n\r"

// RunCommand — runCommand: запуск исполняемого файла из allow-list без оболочки, с таймаутом.
type RunCommand struct {
	allow   []string
	timeout time.Duration
}

func NewRunCommand(allow []string, timeout time.Duration) *RunCommand {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RunCommand{allow: allow, timeout: timeout}
}

func (*RunCommand) Name() string               { return domain.ActionRunCommand }
func (*RunCommand) Kind() domain.ActionKind    { return domain.KindSystemCommand }
func (*RunCommand) Impact() domain.ImpactLevel { return domain.ImpactCritical }
func (*RunCommand) Description() string        { return "Run an allow-listed host command" }
func (*RunCommand) AffectedServices() []string { return []string{"host"} }

func (c *RunCommand) Validate(p domain.Parameters) error {
	name, ok := p.String("command")
	if !ok || !slices.Contains(c.allow, name) {
		return domain.Invalid("command must be one of %v", c.allow)
	}
	_, err := args(p)
	return err
}

func args(p domain.Parameters) ([]string, error) {
	raw, ok := p["args"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, domain.Invalid("args must be a list of strings")
	}
	if len(list) > maxArgs {
		return nil, domain.Invalid("at most %d args allowed", maxArgs)
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		s, ok := a.(string)
		if !ok {
			return nil, domain.Invalid("args must be a list of strings")
		}
		if strings.ContainsAny(s, shellMeta) {
			return nil, domain.Invalid("arg %q contains forbidden characters", s)
		}
		out = append(out, s)
	}
	return out, nil
}

// capped — буфер, молча отбрасывающий вывод сверх лимита
type capped struct {
	buf       bytes.Buffer
	truncated bool
}

func (c *capped) Write(p []byte) (int, error) {
	room := maxOutput - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		c.truncated = true
		c.buf.Write(p[:room])
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *RunCommand) Execute(ctx context.Context, p domain.Parameters) (any, error) {
	name, _ := p.String("command")
	argv, err := args(p)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr capped
	cmd := exec.CommandContext(ctx, name, argv...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "LANG=C"}

	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s exceeded %s", context.DeadlineExceeded, name, c.timeout)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrExecution, name, runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	out := map[string]any{
		"command":   name,
		"exit_code": exitCode,
		"stdout":    stdout.buf.String(),
		"stderr":    stderr.buf.String(),
		"truncated": stdout.truncated || stderr.truncated,
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%w: %s exited with %d: %s", domain.ErrExecution, name, exitCode,
			strings.TrimSpace(stderr.buf.String()))
	}
	return out, nil
}
