package detector

import (
	"regexp"

	"github.com/xela07ax/spaceai-governor/internal/domain"
)

func mustCapture(expr string) *regexp.Regexp {
	re, err := compileCapture(expr)
	if err != nil {
		panic(err)
	}
	return re
}

const quoted = `"([^"]+)"`

// DefaultRules — встроенные правила для встроенных плагинов и команд.
func DefaultRules() []Rule {
	return []Rule{
		{
			Action: domain.ActionTransformText, Kind: domain.KindPlugin,
			Keywords:    []string{"uppercase", "upper case", "shout"},
			Description: "Convert text to upper case",
			Parameters:  domain.Parameters{"mode": "upper"},
			Captures:    map[string]*regexp.Regexp{"text": mustCapture(quoted)},
		},
		{
			Action: domain.ActionTransformText, Kind: domain.KindPlugin,
			Keywords:    []string{"lowercase", "lower case"},
			Description: "Convert text to lower case",
			Parameters:  domain.Parameters{"mode": "lower"},
			Captures:    map[string]*regexp.Regexp{"text": mustCapture(quoted)},
		},
		{
			Action: domain.ActionTransformText, Kind: domain.KindPlugin,
			Keywords:    []string{"reverse"},
			Description: "Reverse text",
			Parameters:  domain.Parameters{"mode": "reverse"},
			Captures:    map[string]*regexp.Regexp{"text": mustCapture(quoted)},
		},
		{
			Action: domain.ActionTransformText, Kind: domain.KindPlugin,
			Keywords:    []string{"title case", "capitalize"},
			Description: "Convert text to title case",
			Parameters:  domain.Parameters{"mode": "title"},
			Captures:    map[string]*regexp.Regexp{"text": mustCapture(quoted)},
		},
		{
			Action: domain.ActionStoreDataset, Kind: domain.KindPlugin,
			Keywords:    []string{"store dataset", "save dataset", "upload dataset"},
			Description: "Store a named dataset",
			Captures: map[string]*regexp.Regexp{
				"name": mustCapture(`dataset\s+([A-Za-z0-9_.-]+)`),
				"data": mustCapture(`data\s*[:=]\s*(.+)$`),
			},
		},
		{
			Action: domain.ActionFetchPersona, Kind: domain.KindExternalAPI,
			Keywords:    []string{"persona", "my preferences", "profile"},
			Description: "Fetch user persona",
			Captures:    map[string]*regexp.Regexp{"user": mustCapture(`(?:persona|profile)\s+(?:of|for)\s+([A-Za-z0-9_.@-]+)`)},
		},
		{
			Action: domain.ActionCallConnector, Kind: domain.KindExternalAPI,
			Keywords:    []string{"connector", "call capability"},
			Description: "Call a remote connector capability",
			Captures:    map[string]*regexp.Regexp{"capability": mustCapture(`(?:connector|capability)\s+([a-z0-9_-]+(?:\.[a-z0-9_-]+)+)`)},
		},
		{
			Action: domain.ActionRestartAgent, Kind: domain.KindSystemCommand,
			Keywords:    []string{"restart", "reboot"},
			Description: "Restart an agent",
			Captures:    map[string]*regexp.Regexp{"agent": mustCapture(`(?:restart|reboot)\s+(?:the\s+)?(?:agent\s+)?([A-Za-z0-9_:-]+)`)},
		},
		{
			Action: domain.ActionClearCache, Kind: domain.KindSystemCommand,
			Keywords:    []string{"clear cache", "flush cache", "purge cache", "clear the cache"},
			Description: "Clear a cache category",
			Captures:    map[string]*regexp.Regexp{"category": mustCapture(`\b(persona|dataset|config)\b`)},
		},
		{
			Action: domain.ActionRewriteConfig, Kind: domain.KindSystemCommand,
			Keywords:    []string{"set config", "change config", "rewrite config", "update config"},
			Description: "Rewrite a runtime configuration value",
			Captures: map[string]*regexp.Regexp{
				"key":   mustCapture(`config\s+([a-z0-9_.-]+)`),
				"value": mustCapture(`\s(?:to|=)\s*(\S+)\s*$`),
			},
			Numeric: map[string]bool{"value": true},
		},
		{
			Action: domain.ActionBackupDatabase, Kind: domain.KindSystemCommand,
			Keywords:    []string{"backup", "back up"},
			Description: "Back up the audit database",
			Parameters:  domain.Parameters{"format": "json"},
		},
		{
			Action: domain.ActionCleanupLogs, Kind: domain.KindSystemCommand,
			Keywords:    []string{"cleanup logs", "clean up logs", "purge logs", "delete old logs"},
			Description: "Delete old audit records",
			Captures:    map[string]*regexp.Regexp{"days": mustCapture(`(\d+)\s*days?`)},
			Numeric:     map[string]bool{"days": true},
		},
		{
			Action: domain.ActionRunCommand, Kind: domain.KindSystemCommand,
			Keywords:    []string{"run command", "execute command"},
			Description: "Run a host command",
			Captures:    map[string]*regexp.Regexp{"command": mustCapture(`command\s+([a-z][a-z0-9_-]*)`)},
		},
	}
}
