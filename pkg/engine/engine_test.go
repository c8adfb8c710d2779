package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/user/hostsweep/pkg/artifact"
	"github.com/user/hostsweep/pkg/logging"
	"github.com/user/hostsweep/pkg/oracle"
)

type panicAnalyzer struct{}

func (panicAnalyzer) Category() Category       { return "broken" }
func (panicAnalyzer) Tables() []artifact.Table { return nil }
func (panicAnalyzer) Analyze(context.Context, *artifact.Repository, *Env) (Result, error) {
	panic("analyzer bug")
}

func newTestEngine(set *oracle.Set, analyzers ...Analyzer) *Engine {
	return New(set, Config{
		Hours:   BusinessHours{Open: 8, Close: 18},
		Workers: 4,
		Now:     func() time.Time { return testNow },
		Open:    fakeFS(processFiles()),
		Logger:  logging.Discard(),
	}, analyzers...)
}

func TestEngineRun(t *testing.T) {
	snap := processSnapshot()
	snap.Host = "WS-042"
	snap.Connections = []artifact.Connection{
		{RemoteAddress: "8.8.8.8", RemotePort: "4444", PID: "900", ProcessName: "powershell.exe"},
	}
	snap.DNSEntries = []artifact.DNSEntry{{Name: "totally-legit-bank-login-verify-secure-account-update.tk"}}
	snap.SecurityEvents = events("4625")
	snap.Missing = map[artifact.Table]string{artifact.TableShares: "file not found"}

	set := &oracle.Set{
		IP:             &fakeIP{verdict: oracle.Unknown},
		Hash:           &fakeHash{malicious: map[string]bool{evilDigest: true}},
		Events:         &fakeEvents{payload: json.RawMessage(`["failed logon"]`)},
		Reputation:     mustPool("k1"),
		Classification: mustPool("g1"),
	}
	res := newTestEngine(set).Run(context.Background(), artifact.NewRepository(snap))

	if res.Host != "WS-042" || res.ID == "" {
		t.Errorf("host = %q, id = %q", res.Host, res.ID)
	}
	if !res.Started.Equal(testNow) {
		t.Errorf("started = %v", res.Started)
	}

	counts := make(map[Category]int)
	for _, c := range res.Categories() {
		counts[c] = len(res.Findings[c])
	}
	want := map[Category]int{CategoryProcess: 2, CategoryConnection: 1, CategoryDNS: 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("finding counts mismatch (-want +got):\n%s", diff)
	}
	if res.Total() != 4 {
		t.Errorf("total = %d, want 4", res.Total())
	}

	conn := res.Findings[CategoryConnection][0]
	// powershell.exe has no expected port set, so only the port itself is flagged.
	if conn.IPReputation != oracle.Unknown || conn.Severity != SeverityLow {
		t.Errorf("connection finding = %+v", conn)
	}

	if string(res.Annotations[CategorySecurityLog]) != `["failed logon"]` {
		t.Errorf("security annotation = %s", res.Annotations[CategorySecurityLog])
	}

	// Startup and firewall have no rows, shares failed to load, and the
	// application and system logs are empty.
	for _, c := range []Category{CategoryStartup, CategoryFirewall, CategoryShares, CategoryApplicationLog, CategorySystemLog} {
		if _, ok := res.Unavailable[c]; !ok {
			t.Errorf("%s should be unavailable", c)
		}
	}
	if reason := res.Unavailable[CategoryShares]; !strings.Contains(reason, "file not found") {
		t.Errorf("shares reason = %q", reason)
	}
	if _, ok := res.Unavailable[CategoryProcess]; ok {
		t.Error("process category marked unavailable")
	}
}

func TestEngineMissingOracles(t *testing.T) {
	snap := artifact.Snapshot{
		StartupEntries: []artifact.StartupEntry{{Name: "x", Value: "x.exe"}},
		SecurityEvents: events("4625"),
	}
	res := newTestEngine(nil, StartupAnalyzer{}, SecurityLogAnalyzer()).Run(context.Background(), artifact.NewRepository(snap))

	for _, c := range []Category{CategoryStartup, CategorySecurityLog} {
		if !strings.Contains(res.Unavailable[c], ErrNotConfigured.Error()) {
			t.Errorf("%s: unavailable reason = %q", c, res.Unavailable[c])
		}
	}
}

func TestEngineConnectionsNeedProcesses(t *testing.T) {
	snap := artifact.Snapshot{Connections: []artifact.Connection{{RemoteAddress: "8.8.8.8", RemotePort: "4444"}}}
	res := newTestEngine(nil, ConnectionAnalyzer{}).Run(context.Background(), artifact.NewRepository(snap))

	if !strings.Contains(res.Unavailable[CategoryConnection], artifact.ErrTableMissing.Error()) {
		t.Errorf("connection reason = %q", res.Unavailable[CategoryConnection])
	}
	if res.Total() != 0 {
		t.Errorf("total = %d, want 0", res.Total())
	}
}

func TestEngineRecoversAnalyzerPanic(t *testing.T) {
	snap := artifact.Snapshot{DNSEntries: []artifact.DNSEntry{{Name: "xn--80ak6aa92e.com"}}}
	res := newTestEngine(nil, panicAnalyzer{}, DNSAnalyzer()).Run(context.Background(), artifact.NewRepository(snap))

	if !strings.Contains(res.Unavailable["broken"], "analyzer bug") {
		t.Errorf("panic not recorded: %v", res.Unavailable)
	}
	if len(res.Findings[CategoryDNS]) != 1 {
		t.Errorf("later analyzers must still run, dns findings = %d", len(res.Findings[CategoryDNS]))
	}
}

func TestEngineDefaults(t *testing.T) {
	e := New(nil, Config{})
	if e.env.Workers != 10 || e.env.Oracles == nil || e.env.Now == nil || e.env.Open == nil {
		t.Errorf("defaults not applied: %+v", e.env)
	}
	if len(e.analyzers) != len(DefaultAnalyzers()) {
		t.Errorf("analyzers = %d", len(e.analyzers))
	}

	seen := make(map[Category]bool)
	for _, a := range DefaultAnalyzers() {
		if seen[a.Category()] {
			t.Errorf("duplicate category %s", a.Category())
		}
		seen[a.Category()] = true
	}
}

func TestRunResultSummary(t *testing.T) {
	res := newRunResult("WS-042", testNow)
	res.add(CategoryConnection, Result{
		Findings: []Finding{
			{Category: CategoryConnection, Subject: "8.8.8.8:4444", Reasons: []Reason{{Code: ReasonUnusualPort, Detail: "4444"}}, Severity: SeverityLow},
			{Category: CategoryConnection, Subject: "1.2.3.4:443", Reasons: []Reason{{Code: ReasonMaliciousIP}}, Severity: SeverityCritical},
		},
		OracleFailures: 2,
	})
	res.add(CategoryDNS, Result{
		Findings: []Finding{{Category: CategoryDNS, Subject: "evil.tk", Reasons: []Reason{{Code: ReasonSuspiciousTLD}}}},
		Errors:   []RecordError{{Index: 3, Subject: "x", Message: "panic: boom"}},
	})
	res.add(CategorySecurityLog, Result{Annotation: json.RawMessage(`[]`)})
	res.markUnavailable(CategoryStartup, errors.New("oracle not configured").Error())

	out := res.Summary()
	for _, want := range []string{
		"Host WS-042",
		"3 findings",
		"connection (2)",
		"  [Critical] 1.2.3.4:443\n",
		"    - Unusual port used (4444)\n",
		"  evil.tk\n",
		"Event log annotations: security_log",
		"  startup: oracle not configured",
		"dns: 1 records skipped",
		"connection: 2 oracle calls failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "1.2.3.4:443") > strings.Index(out, "8.8.8.8:4444") {
		t.Errorf("findings not ordered by severity:\n%s", out)
	}
}
