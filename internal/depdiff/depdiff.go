// Package depdiff compares a package.json manifest against its last
// committed revision and classifies dependency changes. Classification is
// plain map-key comparison (spec.md §4.7); sergi/go-diff's diffmatchpatch
// renders a human-readable diff string for display, and
// golang.org/x/mod/semver classifies the bump direction for display only.
package depdiff

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/mod/semver"
)

// ChangeType is the closed enum of dependency change kinds.
type ChangeType string

const (
	Added   ChangeType = "dependency_added"
	Removed ChangeType = "dependency_removed"
	Updated ChangeType = "dependency_updated"
)

// Bump is the closed enum of semver bump directions.
type Bump string

const (
	BumpMajor   Bump = "major"
	BumpMinor   Bump = "minor"
	BumpPatch   Bump = "patch"
	BumpUnknown Bump = "unknown"
)

// Change is one detected dependency change.
type Change struct {
	Type    ChangeType
	Name    string
	Before  string // empty for Added
	After   string // empty for Removed
	Diff    string
	Bump    Bump // "" for Added/Removed; BumpUnknown when an update cannot be classified
}

type manifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func (m manifest) merged() map[string]string {
	out := make(map[string]string, len(m.Dependencies)+len(m.DevDependencies))
	for k, v := range m.Dependencies {
		out[k] = v
	}
	for k, v := range m.DevDependencies {
		out[k] = v
	}
	return out
}

// Diff compares beforeJSON (the last committed package.json, empty if
// none existed) against afterJSON (the current contents). Malformed JSON
// on either side yields (nil, false) — "no events" per spec.md §4.7.
func Diff(beforeJSON, afterJSON []byte) ([]Change, bool) {
	var after manifest
	if err := json.Unmarshal(afterJSON, &after); err != nil {
		return nil, false
	}

	var before manifest
	if len(beforeJSON) > 0 {
		if err := json.Unmarshal(beforeJSON, &before); err != nil {
			return nil, false
		}
	}

	beforeDeps := before.merged()
	afterDeps := after.merged()

	var changes []Change
	for name, afterVersion := range afterDeps {
		beforeVersion, existed := beforeDeps[name]
		switch {
		case !existed:
			changes = append(changes, Change{
				Type:  Added,
				Name:  name,
				After: afterVersion,
				Diff:  renderDiff("", afterVersion),
			})
		case beforeVersion != afterVersion:
			changes = append(changes, Change{
				Type:   Updated,
				Name:   name,
				Before: beforeVersion,
				After:  afterVersion,
				Diff:   renderDiff(beforeVersion, afterVersion),
				Bump:   classifyBump(beforeVersion, afterVersion),
			})
		}
	}
	for name, beforeVersion := range beforeDeps {
		if _, ok := afterDeps[name]; !ok {
			changes = append(changes, Change{
				Type:   Removed,
				Name:   name,
				Before: beforeVersion,
				Diff:   renderDiff(beforeVersion, ""),
			})
		}
	}

	return changes, true
}

// renderDiff produces a human-readable "before → after" diff string via
// diffmatchpatch, used only for display (details.diff), never for
// classification.
func renderDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			fmt.Fprintf(&b, "[-%s-]", d.Text)
		case diffmatchpatch.DiffInsert:
			fmt.Fprintf(&b, "{+%s+}", d.Text)
		default:
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

// rangePrefixes are stripped before semver classification; a range that
// doesn't reduce to a bare version after stripping leaves Bump unknown.
var rangePrefixes = []string{"^", "~", ">=", "<=", ">", "<", "="}

func bareVersion(v string) (string, bool) {
	for _, p := range rangePrefixes {
		v = strings.TrimPrefix(v, p)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	return v, true
}

func classifyBump(before, after string) Bump {
	b, bOK := bareVersion(before)
	a, aOK := bareVersion(after)
	if !bOK || !aOK {
		return BumpUnknown
	}
	switch {
	case semver.Major(b) != semver.Major(a):
		return BumpMajor
	case semver.MajorMinor(b) != semver.MajorMinor(a):
		return BumpMinor
	case b != a:
		return BumpPatch
	default:
		return BumpUnknown
	}
}
