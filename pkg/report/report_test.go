package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/user/hostsweep/pkg/engine"
	"github.com/user/hostsweep/pkg/oracle"
)

func sampleRun(id string, findings ...engine.Finding) *engine.RunResult {
	res := &engine.RunResult{
		ID:             id,
		Host:           "WS-042",
		Started:        time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC),
		Duration:       1500 * time.Millisecond,
		Findings:       make(map[engine.Category][]engine.Finding),
		Errors:         map[engine.Category][]engine.RecordError{engine.CategoryDNS: {{Index: 2, Subject: "x", Message: "panic: boom"}}},
		OracleFailures: map[engine.Category]int{engine.CategoryConnection: 3},
		Unavailable:    map[engine.Category]string{engine.CategoryStartup: "oracle not configured"},
		Annotations:    map[engine.Category]json.RawMessage{engine.CategorySecurityLog: json.RawMessage(`"failed logon"`)},
	}
	for _, f := range findings {
		res.Findings[f.Category] = append(res.Findings[f.Category], f)
	}
	return res
}

var (
	connFinding = engine.Finding{
		Category:     engine.CategoryConnection,
		Subject:      "8.8.8.8:4444",
		Fields:       []engine.Field{{Name: "process_name", Value: "evil.exe"}},
		Reasons:      []engine.Reason{{Code: engine.ReasonUnusualPort, Detail: "4444"}, {Code: engine.ReasonMissingPath}},
		Severity:     engine.SeverityMedium,
		IPReputation: oracle.Unknown,
	}
	dnsFinding = engine.Finding{
		Category: engine.CategoryDNS,
		Subject:  "evil.tk",
		Reasons:  []engine.Reason{{Code: engine.ReasonSuspiciousTLD}},
	}
	taskFinding = engine.Finding{
		Category: engine.CategoryTasks,
		Subject:  "Updater",
		Reasons:  []engine.Reason{{Code: engine.ReasonTaskCommand, Detail: "powershell"}},
	}
)

func TestJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "run.json")
	res := sampleRun("run-1", connFinding, dnsFinding)

	w := NewJSONWriter(path)
	if err := w.Write(res); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"severity": "Medium"`) {
		t.Errorf("severity not written as text:\n%s", raw)
	}

	got, err := ReadJSON(path)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	ignoreLock := cmp.FilterPath(func(p cmp.Path) bool {
		sf, ok := p.Last().(cmp.StructField)
		return ok && sf.Name() == "mu"
	}, cmp.Ignore())
	if diff := cmp.Diff(res, got, ignoreLock); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadJSONErrors(t *testing.T) {
	if _, err := ReadJSON(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadJSON(bad); err == nil {
		t.Error("expected error for malformed report")
	}
}

func TestSQLiteWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	w, err := NewSQLiteWriter(path)
	if err != nil {
		t.Fatalf("NewSQLiteWriter: %v", err)
	}
	defer w.Close()

	if err := w.Write(sampleRun("run-1", connFinding, dnsFinding)); err != nil {
		t.Fatalf("Write run-1: %v", err)
	}
	if err := w.Write(sampleRun("run-2", taskFinding)); err != nil {
		t.Fatalf("Write run-2: %v", err)
	}

	counts, err := w.Counts("run-1")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	want := map[engine.Category]int{engine.CategoryConnection: 1, engine.CategoryDNS: 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}

	var codes []string
	rows, err := w.DB().Query(`
		SELECT r.code FROM reasons r JOIN findings f ON f.id = r.finding_id
		WHERE f.run_id = ? AND f.category = ? ORDER BY r.rowid`, "run-1", "connection")
	if err != nil {
		t.Fatal(err)
	}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			t.Fatal(err)
		}
		codes = append(codes, c)
	}
	rows.Close()
	if diff := cmp.Diff([]string{string(engine.ReasonUnusualPort), string(engine.ReasonMissingPath)}, codes); diff != "" {
		t.Errorf("reason codes mismatch (-want +got):\n%s", diff)
	}

	var severity, total string
	if err := w.DB().QueryRow(`SELECT severity FROM findings WHERE run_id = 'run-1' AND category = 'connection'`).Scan(&severity); err != nil {
		t.Fatal(err)
	}
	if err := w.DB().QueryRow(`SELECT total FROM runs WHERE id = 'run-1'`).Scan(&total); err != nil {
		t.Fatal(err)
	}
	if severity != "Medium" || total != "2" {
		t.Errorf("severity = %q, total = %q", severity, total)
	}

	var unavailable string
	err = w.DB().QueryRow(`SELECT unavailable FROM category_status WHERE run_id = 'run-2' AND category = 'startup'`).Scan(&unavailable)
	if err != nil || unavailable != "oracle not configured" {
		t.Errorf("startup status = %q, %v", unavailable, err)
	}

	if err := w.Write(sampleRun("run-1")); err == nil {
		t.Error("expected duplicate run id to fail")
	}
}

func TestMultiWriter(t *testing.T) {
	dir := t.TempDir()
	sq, err := NewSQLiteWriter(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	mw := NewMultiWriter(NewJSONWriter(filepath.Join(dir, "run.json")), sq)

	if err := mw.Write(sampleRun("run-1", dnsFinding)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run.json")); err != nil {
		t.Errorf("json report missing: %v", err)
	}
	counts, err := sq.Counts("run-1")
	if err != nil || counts[engine.CategoryDNS] != 1 {
		t.Errorf("sqlite counts = %v, %v", counts, err)
	}
	if err := mw.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCompare(t *testing.T) {
	// 1. baseline has the connection and the dns finding
	baseline := sampleRun("run-1", connFinding, dnsFinding)

	// 2. the dns entry is gone, a task appeared, the connection got worse
	worse := connFinding
	worse.Severity = engine.SeverityCritical
	current := sampleRun("run-2", worse, taskFinding)

	d := Compare(baseline, current)

	subjects := func(fs []engine.Finding) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.Subject)
		}
		return out
	}
	if diff := cmp.Diff([]string{"Updater"}, subjects(d.New)); diff != "" {
		t.Errorf("new mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"evil.tk"}, subjects(d.Fixed)); diff != "" {
		t.Errorf("fixed mismatch (-want +got):\n%s", diff)
	}
	if len(d.Unchanged) != 1 || d.Unchanged[0].Severity != engine.SeverityCritical {
		t.Errorf("unchanged = %+v", d.Unchanged)
	}

	out := d.Render("baseline.json")
	for _, want := range []string{
		"Comparison with baseline.json",
		"NEW: 1\n  [+] scheduled_task Updater\n",
		"FIXED: 1\n  [-] dns evil.tk\n",
		"UNCHANGED: 1\n  [=] connection 8.8.8.8:4444 (Critical)\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func processFinding(pid, path string) engine.Finding {
	return engine.Finding{
		Category: engine.CategoryProcess,
		Subject:  "svchost.exe",
		Fields:   []engine.Field{{Name: "id", Value: pid}, {Name: "path", Value: path}},
		Reasons:  []engine.Reason{{Code: engine.ReasonNonStandardPath}, {Code: engine.ReasonRandomName}},
	}
}

func TestCompareProcessInstances(t *testing.T) {
	baseline := sampleRun("run-1",
		processFinding("100", `C:\Users\Public\svchost.exe`),
		processFinding("200", `C:\Temp\svchost.exe`),
	)
	current := sampleRun("run-2",
		processFinding("100", `C:\USERS\Public\svchost.exe`),
		processFinding("300", `C:\Temp\svchost.exe`),
		processFinding("400", `C:\ProgramData\svchost.exe`),
	)

	d := Compare(baseline, current)

	pids := func(fs []engine.Finding) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.Field("id"))
		}
		return out
	}
	if diff := cmp.Diff([]string{"300", "400"}, pids(d.New), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("new mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"200"}, pids(d.Fixed)); diff != "" {
		t.Errorf("fixed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"100"}, pids(d.Unchanged)); diff != "" {
		t.Errorf("unchanged mismatch (-want +got):\n%s", diff)
	}
}
