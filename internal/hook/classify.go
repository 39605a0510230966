package hook

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/khoregos/khoregos/internal/model"
)

// internalTools are dropped without side effect per spec.md §4.7.
var internalTools = map[string]bool{
	"TaskCreate": true, "TaskUpdate": true, "TaskDone": true,
	"TaskDelete": true, "TodoRead": true, "TodoWrite": true,
}

// writeLikeTools are subject to strict-mode boundary enforcement.
var writeLikeTools = map[string]bool{
	"Write": true, "Edit": true, "MultiEdit": true, "Bash": true,
}

// criticalPatterns classify a tool_use event as severity critical.
var criticalPatterns = []string{".env*", "**/auth/**", "**/security/**", "**/*.pem", "**/*.key"}

// dependencyManifestPatterns classify a tool_use event as severity
// warning via an affected dependency manifest.
var dependencyManifestPatterns = []string{
	"package.json", "package-lock.json",
	"requirements.txt",
	"go.mod", "go.sum",
	"Cargo.toml", "Cargo.lock",
	"**/pom.xml",
}

// dangerousShellWords classify a tool_use event as severity warning via
// the action text.
var dangerousShellWords = []string{"rm", "kill", "chmod", "chown", "curl", "wget"}

func IsInternalTool(toolName string) bool { return internalTools[toolName] }

func IsWriteLikeTool(toolName string) bool { return writeLikeTools[toolName] }

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
		// bare filename patterns (no "/") match at any depth
		if !strings.Contains(p, "/") {
			if ok, err := doublestar.Match(p, lastSegment(path)); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// ClassifySeverity implements spec.md §4.7's severity classification for
// the primary tool_use event.
func ClassifySeverity(filesAffected []string, action string, explicitBoundaryViolation bool) model.Severity {
	if explicitBoundaryViolation {
		return model.SeverityCritical
	}
	for _, f := range filesAffected {
		if matchesAny(criticalPatterns, f) {
			return model.SeverityCritical
		}
	}
	for _, f := range filesAffected {
		if matchesAny(dependencyManifestPatterns, f) {
			return model.SeverityWarning
		}
	}
	lowered := strings.ToLower(action)
	for _, word := range dangerousShellWords {
		if containsWord(lowered, word) {
			return model.SeverityWarning
		}
	}
	return model.SeverityInfo
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		found := strings.Index(haystack[idx:], word)
		if found < 0 {
			return false
		}
		start := idx + found
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(haystack[start-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// ReviewRule is a named file-pattern review gate (spec.md §4.7's
// "configured review rule globs").
type ReviewRule struct {
	Name    string
	Pattern string
}

// MatchReviewRules returns every rule whose pattern matches relPath.
func MatchReviewRules(rules []ReviewRule, relPath string) []ReviewRule {
	var matched []ReviewRule
	for _, r := range rules {
		if matchesAny([]string{r.Pattern}, relPath) {
			matched = append(matched, r)
		}
	}
	return matched
}

// maxDurationMs bounds duration_ms; outside this range it is discarded.
const maxDurationMs = 3_600_000

// ExtractDurationMs implements spec.md §4.7's duration extraction:
// explicit duration_ms/durationMs/timing, else derived from timestamps;
// invalid (negative or >1h) values are discarded.
func ExtractDurationMs(p Payload) (float64, bool) {
	if p.DurationMs != nil {
		return validDuration(*p.DurationMs)
	}
	if p.DurationMsCamel != nil {
		return validDuration(*p.DurationMsCamel)
	}
	if p.Timing != nil {
		if v, ok := p.Timing["duration_ms"].(float64); ok {
			return validDuration(v)
		}
	}
	if p.StartedAt != "" && p.EndedAt != "" {
		if ms, ok := durationFromTimestamps(p.StartedAt, p.EndedAt); ok {
			return validDuration(ms)
		}
	}
	return 0, false
}

func validDuration(ms float64) (float64, bool) {
	if ms < 0 || ms > maxDurationMs {
		return 0, false
	}
	return ms, true
}
