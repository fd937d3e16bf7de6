// Package guardrails implements the Guardrails Engine: regex-based
// content scanning of operation text and file paths against a
// trust-gated pattern list.
package guardrails

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agentmesh/coordinator/internal/gateway"
)

// Severity is the action taken when a pattern matches.
type Severity string

const (
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
)

// Pattern is a single compiled guardrail.
type Pattern struct {
	Name          string
	Category      string
	Regex         *regexp.Regexp
	Severity      Severity
	MinTrustLevel int
}

// Violation records a single triggered pattern.
type Violation struct {
	PatternName string
	Category    string
	Blocked     bool
	Excerpt     string
}

// Result is the outcome of CheckOperation.
type Result struct {
	Safe       bool
	Violations []Violation
}

// fallbackPatterns is the compiled-in list used when persistence
// cannot be reached or holds no patterns. It blocks file-system wipes,
// force-pushes to main/master, DROP TABLE/DATABASE and curl-pipe-shell,
// and warns (without blocking) on credential-shaped strings.
var fallbackPatterns = []struct {
	name, category, regex string
	severity               Severity
	minTrust               int
}{
	{"rm_rf_root", "filesystem", `rm\s+-rf\s+/(\s|$)`, SeverityBlock, 4},
	{"force_push_main", "vcs", `push\s+--force.*\b(main|master)\b`, SeverityBlock, 3},
	{"drop_database", "data", `(?i)drop\s+(table|database)\s`, SeverityBlock, 3},
	{"curl_pipe_shell", "filesystem", `curl[^|]*\|\s*(sh|bash)`, SeverityBlock, 4},
	{"exfiltrate_secret", "credential", `(?i)(api[_-]?key|secret|password)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}`, SeverityWarn, 2},
}

// Engine is the Guardrails Engine.
type Engine struct {
	gw     gateway.Gateway
	logger zerolog.Logger
}

// New creates a Guardrails Engine over the given Gateway.
func New(gw gateway.Gateway) *Engine {
	return &Engine{gw: gw, logger: log.With().Str("component", "guardrails").Logger()}
}

// loadPatterns reads patterns from persistence; on any failure it
// falls back to the compiled-in list.
func (e *Engine) loadPatterns(ctx context.Context) []Pattern {
	rows, err := e.gw.Query(ctx, "operation_guardrails", gateway.Filter{}, nil)
	if err != nil || len(rows) == 0 {
		if err != nil {
			e.logger.Warn().Err(err).Msg("loading guardrail patterns failed, using fallback list")
		}
		return compile(fallbackPatterns)
	}

	patterns := make([]Pattern, 0, len(rows))
	for _, r := range rows {
		name, _ := r["name"].(string)
		category, _ := r["category"].(string)
		pattern, _ := r["regex"].(string)
		severity, _ := r["severity"].(string)
		minTrust := 0
		switch v := r["min_trust_level"].(type) {
		case int64:
			minTrust = int(v)
		case int:
			minTrust = v
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			e.logger.Warn().Err(err).Str("pattern", name).Msg("skipping guardrail pattern: invalid regex")
			continue
		}
		patterns = append(patterns, Pattern{Name: name, Category: category, Regex: re, Severity: Severity(severity), MinTrustLevel: minTrust})
	}
	if len(patterns) == 0 {
		return compile(fallbackPatterns)
	}
	return patterns
}

func compile(defs []struct {
	name, category, regex string
	severity               Severity
	minTrust               int
}) []Pattern {
	patterns := make([]Pattern, 0, len(defs))
	for _, d := range defs {
		re, err := regexp.Compile(d.regex)
		if err != nil {
			continue // fallback patterns are compile-time constants; this should never trigger
		}
		patterns = append(patterns, Pattern{Name: d.name, Category: d.category, Regex: re, Severity: d.severity, MinTrustLevel: d.minTrust})
	}
	return patterns
}

// CheckOperation scans text and file paths against the pattern list,
// gated by trustLevel.
func (e *Engine) CheckOperation(ctx context.Context, text string, filePaths []string, trustLevel int, agent string) Result {
	patterns := e.loadPatterns(ctx)
	res := Result{Safe: true}

	for _, p := range patterns {
		matched := p.Regex.MatchString(text)
		if !matched {
			for _, fp := range filePaths {
				if p.Regex.MatchString(fp) {
					matched = true
					break
				}
			}
		}
		if !matched {
			continue
		}

		blocked := p.Severity == SeverityBlock && trustLevel < p.MinTrustLevel
		v := Violation{PatternName: p.Name, Category: p.Category, Blocked: blocked, Excerpt: excerpt(text)}
		res.Violations = append(res.Violations, v)
		if blocked {
			res.Safe = false
			e.logViolation(ctx, agent, v)
		}
	}
	return res
}

func excerpt(text string) string {
	const maxLen = 200
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

// logViolation is best-effort: a failure to persist the violation must
// not change the check's outcome.
func (e *Engine) logViolation(ctx context.Context, agent string, v Violation) {
	_, err := e.gw.Insert(ctx, "guardrail_violations", gateway.Row{
		"id": uuid.New().String(), "agent_id": agent, "pattern_name": v.PatternName,
		"operation_excerpt": v.Excerpt, "created_at": time.Now().UTC(),
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("pattern", v.PatternName).Msg("failed to persist guardrail violation")
	}
}
