// Package masking scrubs secrets from tool results before they reach
// agents, checkpoints, or event streams. Patterns are regex-based:
// built-in rules selected by name or group, plus operator-supplied
// custom rules, all compiled once at startup.
package masking

import (
	"log/slog"
	"regexp"

	"github.com/strand-ai/strand/pkg/config"
)

// Service applies the resolved masking patterns to text. Created once at
// startup, safe for concurrent use. Nil-safe: a nil Service masks nothing.
type Service struct {
	patterns []*CompiledPattern
}

// NewService compiles the configured patterns into a Service.
// Returns nil when masking is disabled. Invalid patterns are logged and
// skipped rather than failing startup.
func NewService(cfg config.MaskingConfig) *Service {
	if !cfg.Enabled {
		return nil
	}

	builtin := builtinPatterns()
	groups := builtinGroups()

	seen := make(map[string]bool)
	var names []string
	for _, group := range cfg.PatternGroups {
		members, ok := groups[group]
		if !ok {
			slog.Warn("Unknown masking pattern group, skipping", "group", group)
			continue
		}
		for _, name := range members {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	for _, name := range cfg.Patterns {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	s := &Service{}
	for _, name := range names {
		p, ok := builtin[name]
		if !ok {
			slog.Warn("Unknown masking pattern, skipping", "pattern", name)
			continue
		}
		s.compile(name, p.Pattern, p.Replacement)
	}
	for _, p := range cfg.CustomPatterns {
		name := p.Name
		if name == "" {
			name = "custom"
		}
		s.compile("custom:"+name, p.Pattern, p.Replacement)
	}

	slog.Info("Masking service initialized", "patterns", len(s.patterns))
	return s
}

func (s *Service) compile(name, pattern, replacement string) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Error("Failed to compile masking pattern, skipping",
			"pattern", name, "error", err)
		return
	}
	if replacement == "" {
		replacement = "__MASKED__"
	}
	s.patterns = append(s.patterns, &CompiledPattern{
		Name:        name,
		Regex:       re,
		Replacement: replacement,
	})
}

// MaskText applies every pattern to text and returns the result.
func (s *Service) MaskText(text string) string {
	if s == nil || text == "" {
		return text
	}
	for _, p := range s.patterns {
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	return text
}

// MaskValue masks every string reachable inside a decoded JSON value,
// recursing through maps and slices. Non-string leaves pass through.
func (s *Service) MaskValue(value any) any {
	if s == nil {
		return value
	}
	switch v := value.(type) {
	case string:
		return s.MaskText(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = s.MaskValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.MaskValue(item)
		}
		return out
	default:
		return value
	}
}
