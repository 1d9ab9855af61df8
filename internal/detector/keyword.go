package detector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/xela07ax/spaceai-governor/internal/domain"
	"github.com/xela07ax/spaceai-governor/internal/infra"
	"github.com/xela07ax/spaceai-governor/internal/risk"
	"go.uber.org/zap"
)

const maxInputLen = 8 << 10

// Rule — правило: любое ключевое слово включает действие, регулярки вытаскивают параметры.
type Rule struct {
	Action      string
	Kind        domain.ActionKind
	Keywords    []string
	Description string
	Parameters  domain.Parameters
	Captures    map[string]*regexp.Regexp
	Numeric     map[string]bool
}

// Keyword — детерминированный детектор без LLM. Правила проверяются по порядку,
// одно действие попадает в результат не более одного раза.
type Keyword struct {
	rules      []Rule
	classifier *risk.Classifier
	logger     *zap.Logger
}

func NewKeyword(rules []Rule, classifier *risk.Classifier, logger *zap.Logger) *Keyword {
	return &Keyword{rules: rules, classifier: classifier, logger: logger.Named("detector")}
}

// RulesFromConfig компилирует правила из конфигурации.
func RulesFromConfig(cfg []infra.DetectorRule) ([]Rule, error) {
	out := make([]Rule, 0, len(cfg))
	for i, rc := range cfg {
		if rc.Action == "" || len(rc.Keywords) == 0 {
			return nil, fmt.Errorf("detector rule %d: action and keywords are required", i)
		}
		r := Rule{
			Action:      rc.Action,
			Kind:        domain.ActionKind(rc.Kind),
			Keywords:    rc.Keywords,
			Description: rc.Description,
			Parameters:  domain.Parameters(rc.Parameters),
			Captures:    make(map[string]*regexp.Regexp, len(rc.Captures)),
			Numeric:     make(map[string]bool, len(rc.Numeric)),
		}
		if r.Kind == "" {
			r.Kind = domain.KindPlugin
		}
		for param, expr := range rc.Captures {
			re, err := compileCapture(expr)
			if err != nil {
				return nil, fmt.Errorf("detector rule %s: capture %s: %w", rc.Action, param, err)
			}
			r.Captures[param] = re
		}
		for _, n := range rc.Numeric {
			r.Numeric[n] = true
		}
		out = append(out, r)
	}
	return out, nil
}

// compileCapture — регистронезависимая регулярка ровно с одной группой
func compileCapture(expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("expected exactly one group, got %d", re.NumSubexp())
	}
	return re, nil
}

func (k *Keyword) Detect(_ context.Context, input string, c Context) ([]domain.ActionDescriptor, error) {
	if len(input) > maxInputLen {
		return nil, fmt.Errorf("%w: input exceeds %d bytes", domain.ErrDetection, maxInputLen)
	}
	tokens := tokenise(strings.ToLower(input))
	if len(tokens) == 0 {
		return nil, nil
	}
	joined := " " + strings.Join(tokens, " ") + " "

	seen := make(map[string]struct{})
	var out []domain.ActionDescriptor
	for _, r := range k.rules {
		if _, dup := seen[r.Action]; dup {
			continue
		}
		if !matches(joined, r.Keywords) {
			continue
		}
		seen[r.Action] = struct{}{}

		d := domain.ActionDescriptor{
			Name:        r.Action,
			Kind:        r.Kind,
			Parameters:  r.params(input),
			Description: r.Description,
			Impact:      k.classifier.RiskLevel(r.Action),
		}
		if d.Description == "" {
			d.Description = r.Action
		}
		out = append(out, d)
	}

	if len(out) > 0 {
		k.logger.Debug("actions detected",
			zap.String("session_id", c.SessionID),
			zap.String("user", c.User),
			zap.Int("count", len(out)),
		)
	}
	return out, nil
}

// matches — ключевое слово (или фраза) встречается как целые токены
func matches(joined string, keywords []string) bool {
	for _, kw := range keywords {
		norm := strings.Join(tokenise(strings.ToLower(kw)), " ")
		if norm != "" && strings.Contains(joined, " "+norm+" ") {
			return true
		}
	}
	return false
}

func (r Rule) params(input string) domain.Parameters {
	p := r.Parameters.Clone()
	if p == nil {
		p = domain.Parameters{}
	}
	for name, re := range r.Captures {
		m := re.FindStringSubmatch(input)
		if len(m) < 2 || m[1] == "" {
			continue
		}
		val := strings.TrimSpace(m[1])
		if r.Numeric[name] {
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				p[name] = f
				continue
			}
		}
		p[name] = val
	}
	return p
}

// tokenise режет текст на токены из букв, цифр и символов идентификаторов (-_.)
func tokenise(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.'
	})
	out := fields[:0]
	for _, f := range fields {
		// точка в конце предложения не часть слова
		if f = strings.Trim(f, "."); f != "" {
			out = append(out, f)
		}
	}
	return out
}
