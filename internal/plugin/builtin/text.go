// Package builtin — встроенные плагины: преобразование текста, датасеты, профиль пользователя, удалённый коннектор.
package builtin

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xela07ax/spaceai-governor/internal/domain"
)

const maxTextLen = 64 << 10

var textModes = map[string]func(string) string{
	"upper":   strings.ToUpper,
	"lower":   strings.ToLower,
	"title":   titleCase,
	"reverse": reverse,
	"trim":    strings.TrimSpace,
}

// TextTransform — transformText: чистая функция над текстом, без побочных эффектов.
type TextTransform struct{}

func (TextTransform) Name() string               { return domain.ActionTransformText }
func (TextTransform) Kind() domain.ActionKind    { return domain.KindPlugin }
func (TextTransform) Impact() domain.ImpactLevel { return domain.ImpactLow }
func (TextTransform) Description() string {
	return "Transform text: upper, lower, title, reverse or trim"
}

func (TextTransform) Validate(p domain.Parameters) error {
	text, ok := p.String("text")
	if !ok {
		return domain.Invalid("text is required")
	}
	if len(text) > maxTextLen {
		return domain.Invalid("text exceeds %d bytes", maxTextLen)
	}
	if !utf8.ValidString(text) {
		return domain.Invalid("text is not valid UTF-8")
	}
	if mode, ok := p.String("mode"); ok {
		if _, known := textModes[mode]; !known {
			return domain.Invalid("unknown mode %q", mode)
		}
	}
	return nil
}

func (TextTransform) Execute(_ context.Context, p domain.Parameters) (any, error) {
	text, _ := p.String("text")
	mode, ok := p.String("mode")
	if !ok {
		mode = "upper"
	}
	return map[string]any{"mode": mode, "text": textModes[mode](text)}, nil
}

func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	start := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			start = true
			b.WriteRune(r)
			continue
		}
		if start {
			b.WriteRune(unicode.ToUpper(r))
			start = false
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
