package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/user/hostsweep/pkg/engine"
)

// Diff splits the findings of two runs into new, fixed and unchanged ones.
type Diff struct {
	New       []engine.Finding
	Fixed     []engine.Finding
	Unchanged []engine.Finding
}

// maxUnchangedListed caps the unchanged findings spelled out by Diff.Render.
const maxUnchangedListed = 10

// findingKey identifies a finding across runs. Process findings are named by
// executable, so the pid and path tell instances apart.
func findingKey(f engine.Finding) string {
	k := string(f.Category) + "\x00" + f.Subject
	if f.Category == engine.CategoryProcess {
		k += "\x00" + f.Field("id") + "\x00" + strings.ToLower(f.Field("path"))
	}
	return k
}

func flatten(res *engine.RunResult) []engine.Finding {
	var out []engine.Finding
	for _, c := range res.Categories() {
		out = append(out, res.Findings[c]...)
	}
	return out
}

// Compare matches findings by category and subject, plus pid and path for
// processes. A finding present in both
// runs is unchanged even if its reasons differ; the current version is kept.
func Compare(baseline, current *engine.RunResult) Diff {
	before := make(map[string]engine.Finding)
	for _, f := range flatten(baseline) {
		before[findingKey(f)] = f
	}

	var d Diff
	seen := make(map[string]bool)
	for _, f := range flatten(current) {
		k := findingKey(f)
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, ok := before[k]; ok {
			d.Unchanged = append(d.Unchanged, f)
		} else {
			d.New = append(d.New, f)
		}
	}
	for _, f := range flatten(baseline) {
		k := findingKey(f)
		if !seen[k] {
			seen[k] = true
			d.Fixed = append(d.Fixed, f)
		}
	}

	for _, fs := range [][]engine.Finding{d.New, d.Fixed, d.Unchanged} {
		sort.SliceStable(fs, func(i, j int) bool {
			if fs[i].Category != fs[j].Category {
				return fs[i].Category < fs[j].Category
			}
			return fs[i].Subject < fs[j].Subject
		})
	}
	return d
}

func writeFinding(sb *strings.Builder, mark string, f engine.Finding) {
	sb.WriteString(fmt.Sprintf("  [%s] %s %s", mark, f.Category, f.Subject))
	if f.Severity != engine.SeverityNone {
		sb.WriteString(fmt.Sprintf(" (%s)", f.Severity))
	}
	sb.WriteString("\n")
}

// Render renders the comparison against the baseline named by source.
func (d Diff) Render(source string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Comparison with %s:\n", source))
	sb.WriteString("--------------------------------------------------\n")

	sb.WriteString(fmt.Sprintf("NEW: %d\n", len(d.New)))
	for _, f := range d.New {
		writeFinding(&sb, "+", f)
	}
	sb.WriteString(fmt.Sprintf("\nFIXED: %d\n", len(d.Fixed)))
	for _, f := range d.Fixed {
		writeFinding(&sb, "-", f)
	}
	sb.WriteString(fmt.Sprintf("\nUNCHANGED: %d\n", len(d.Unchanged)))
	for i, f := range d.Unchanged {
		if i == maxUnchangedListed {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(d.Unchanged)-maxUnchangedListed))
			break
		}
		writeFinding(&sb, "=", f)
	}
	return sb.String()
}
