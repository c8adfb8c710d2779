package engine

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunResult collects the output of every analyzer for one snapshot.
type RunResult struct {
	ID       string        `json:"id"`
	Host     string        `json:"host"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`

	Findings       map[Category][]Finding       `json:"findings"`
	Errors         map[Category][]RecordError   `json:"errors,omitempty"`
	OracleFailures map[Category]int             `json:"oracle_failures,omitempty"`
	Unavailable    map[Category]string          `json:"unavailable,omitempty"`
	Annotations    map[Category]json.RawMessage `json:"annotations,omitempty"`

	mu sync.RWMutex
}

func newRunResult(host string, started time.Time) *RunResult {
	return &RunResult{
		ID:             uuid.NewString(),
		Host:           host,
		Started:        started,
		Findings:       make(map[Category][]Finding),
		Errors:         make(map[Category][]RecordError),
		OracleFailures: make(map[Category]int),
		Unavailable:    make(map[Category]string),
		Annotations:    make(map[Category]json.RawMessage),
	}
}

// add records one analyzer's result.
func (r *RunResult) add(cat Category, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Findings[cat] = append(r.Findings[cat], res.Findings...)
	if len(res.Errors) > 0 {
		r.Errors[cat] = append(r.Errors[cat], res.Errors...)
	}
	if res.OracleFailures > 0 {
		r.OracleFailures[cat] += res.OracleFailures
	}
	if len(res.Annotation) > 0 {
		r.Annotations[cat] = res.Annotation
	}
}

func (r *RunResult) markUnavailable(cat Category, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Unavailable[cat] = reason
}

// Categories returns every category with findings, sorted.
func (r *RunResult) Categories() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cats := make([]Category, 0, len(r.Findings))
	for c, fs := range r.Findings {
		if len(fs) > 0 {
			cats = append(cats, c)
		}
	}
	slices.Sort(cats)
	return cats
}

// Total is the number of findings across all categories.
func (r *RunResult) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalLocked()
}

// Summary returns a text report of the run.
func (r *RunResult) Summary() string {
	cats := r.Categories()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Host %s (run %s): %d findings\n", r.Host, r.ID, r.totalLocked()))
	sb.WriteString("--------------------------------------------------\n")

	for _, c := range cats {
		fs := slices.Clone(r.Findings[c])
		slices.SortStableFunc(fs, func(a, b Finding) int {
			if a.Severity != b.Severity {
				return int(b.Severity - a.Severity)
			}
			return strings.Compare(a.Subject, b.Subject)
		})

		sb.WriteString(fmt.Sprintf("%s (%d)\n", c, len(fs)))
		for _, f := range fs {
			if f.Severity != SeverityNone {
				sb.WriteString(fmt.Sprintf("  [%s] %s\n", f.Severity, f.Subject))
			} else {
				sb.WriteString(fmt.Sprintf("  %s\n", f.Subject))
			}
			for _, reason := range f.Reasons {
				sb.WriteString(fmt.Sprintf("    - %s\n", reason))
			}
		}
		sb.WriteString("\n")
	}

	if len(r.Annotations) > 0 {
		sb.WriteString("Event log annotations: ")
		sb.WriteString(joinKeys(r.Annotations))
		sb.WriteString("\n")
	}
	if len(r.Unavailable) > 0 {
		sb.WriteString("Unavailable:\n")
		for _, c := range sortedKeys(r.Unavailable) {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", c, r.Unavailable[c]))
		}
	}
	for _, c := range sortedKeys(r.Errors) {
		sb.WriteString(fmt.Sprintf("%s: %d records skipped\n", c, len(r.Errors[c])))
	}
	for _, c := range sortedKeys(r.OracleFailures) {
		sb.WriteString(fmt.Sprintf("%s: %d oracle calls failed\n", c, r.OracleFailures[c]))
	}
	return sb.String()
}

func (r *RunResult) totalLocked() int {
	n := 0
	for _, fs := range r.Findings {
		n += len(fs)
	}
	return n
}

func sortedKeys[V any](m map[Category]V) []Category {
	keys := make([]Category, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func joinKeys[V any](m map[Category]V) string {
	keys := sortedKeys(m)
	s := make([]string, len(keys))
	for i, k := range keys {
		s[i] = string(k)
	}
	return strings.Join(s, ", ")
}
