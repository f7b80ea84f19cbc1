// Package guard implements the independent risk evaluators and the
// pipeline composing them with rate and budget admission into one ordered
// safety check.
package guard

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/doeshing/overseer/internal/domain"
)

// Guard is one independent check over a proposed change. Guards share this
// single contract and are registered as a flat ordered list.
type Guard interface {
	Name() string
	Check(ctx context.Context, change domain.ChangeSet) domain.GuardResult
}

// ComplexityGuard blocks when file count, line delta, or the complexity
// estimate exceed configured ceilings.
type ComplexityGuard struct {
	Limits domain.ComplexitySettings
}

func (g *ComplexityGuard) Name() string { return "complexity" }

// complexity estimate weights. A zero external estimate is derived from
// the change shape and capped at 10.
const (
	weightPerFile     = 0.5
	weightPerLine     = 0.001
	complexityCeiling = 10
)

func (g *ComplexityGuard) Check(_ context.Context, change domain.ChangeSet) domain.GuardResult {
	result := domain.GuardResult{Guard: g.Name(), Allowed: true}

	files := len(change.FilesChanged) + len(change.FilesDeleted)
	lines := change.LinesAdded + change.LinesDeleted

	if g.Limits.MaxFiles > 0 && files > g.Limits.MaxFiles {
		result.Allowed = false
		result.Reason = fmt.Sprintf("change touches %d files, ceiling is %d", files, g.Limits.MaxFiles)
		return result
	}
	if g.Limits.MaxLines > 0 && lines > g.Limits.MaxLines {
		result.Allowed = false
		result.Reason = fmt.Sprintf("change spans %d lines, ceiling is %d", lines, g.Limits.MaxLines)
		return result
	}

	estimate := change.Complexity
	if estimate == 0 {
		estimate = float64(files)*weightPerFile + float64(lines)*weightPerLine
		if estimate > complexityCeiling {
			estimate = complexityCeiling
		}
	}
	if g.Limits.MaxComplexity > 0 && estimate > g.Limits.MaxComplexity {
		result.Allowed = false
		result.Reason = fmt.Sprintf("complexity estimate %.1f exceeds ceiling %.1f", estimate, g.Limits.MaxComplexity)
		return result
	}

	// Large-but-legal changes contribute risk proportional to size.
	result.RiskContribution = estimate / 2
	return result
}

// FileProtectionGuard blocks any touched path matching a protected glob
// unless it also matches a whitelist glob.
type FileProtectionGuard struct {
	Protected []string
	Whitelist []string
}

func (g *FileProtectionGuard) Name() string { return "file_protection" }

// DefaultProtectedPatterns cover secret material and production config.
func DefaultProtectedPatterns() []string {
	return []string{
		".env",
		".env.*",
		"**/*.key",
		"**/*.pem",
		"**/*.p12",
		"**/*.secret",
		"secrets/**",
		"config/production/**",
		"**/credentials*",
	}
}

func (g *FileProtectionGuard) Check(_ context.Context, change domain.ChangeSet) domain.GuardResult {
	result := domain.GuardResult{Guard: g.Name(), Allowed: true}

	patterns := g.Protected
	if len(patterns) == 0 {
		patterns = DefaultProtectedPatterns()
	}

	var hits []string
	for _, file := range append(append([]string{}, change.FilesChanged...), change.FilesDeleted...) {
		if matchAny(patterns, file) && !matchAny(g.Whitelist, file) {
			hits = append(hits, file)
		}
	}
	if len(hits) > 0 {
		result.Allowed = false
		result.Reason = fmt.Sprintf("protected paths touched: %s", strings.Join(hits, ", "))
	}
	return result
}

// matchAny matches file against glob patterns; a "**/" prefix or "/**"
// suffix matches any number of path segments.
func matchAny(patterns []string, file string) bool {
	for _, pattern := range patterns {
		if matchGlob(pattern, file) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, file string) bool {
	if ok, _ := path.Match(pattern, file); ok {
		return true
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		if file == prefix || strings.HasPrefix(file, prefix+"/") {
			return true
		}
	}
	if strings.HasPrefix(pattern, "**/") {
		rest := strings.TrimPrefix(pattern, "**/")
		if ok, _ := path.Match(rest, path.Base(file)); ok {
			return true
		}
		if ok, _ := path.Match(rest, file); ok {
			return true
		}
	}
	return false
}

// BreakingChangeGuard flags removed or altered public signatures as risk
// rather than a hard block; the decision defers to tier plus approval.
type BreakingChangeGuard struct {
	RiskPerFinding float64
}

func (g *BreakingChangeGuard) Name() string { return "breaking_change" }

var breakingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^-\s*func\s+[A-Z]\w*\(`),
	regexp.MustCompile(`(?m)^-\s*func\s+\([^)]*\)\s+[A-Z]\w*\(`),
	regexp.MustCompile(`(?m)^-\s*type\s+[A-Z]\w*\s`),
	regexp.MustCompile(`(?m)^-\s*(var|const)\s+[A-Z]\w*`),
	regexp.MustCompile(`(?m)^-\s*[A-Z]\w*\([^)]*\)\s*\(?[\w\[\], .*]*\)?\s*$`),
}

func (g *BreakingChangeGuard) Check(_ context.Context, change domain.ChangeSet) domain.GuardResult {
	result := domain.GuardResult{Guard: g.Name(), Allowed: true}
	if change.Diff == "" {
		return result
	}

	perFinding := g.RiskPerFinding
	if perFinding <= 0 {
		perFinding = 2
	}

	findings := 0
	for _, re := range breakingPatterns {
		findings += len(re.FindAllString(change.Diff, -1))
	}
	if findings > 0 {
		result.RiskContribution = float64(findings) * perFinding
		result.Reason = fmt.Sprintf("%d removed or altered public declarations", findings)
	}
	return result
}
