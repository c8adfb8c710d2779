package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/user/hostsweep/pkg/artifact"
	"github.com/user/hostsweep/pkg/oracle"
)

func connSnapshot(conns ...artifact.Connection) artifact.Snapshot {
	return artifact.Snapshot{
		Processes: []artifact.Process{
			{ID: "100", Name: "custom.exe", Path: `C:\Program Files\Custom\custom.exe`},
			{ID: "200", Name: "chrome.exe", Path: `C:\Program Files\Google\chrome.exe`},
			{ID: "300", Name: "explorer.exe", Path: `C:\Windows\explorer.exe`},
		},
		Connections: conns,
	}
}

func TestConnectionInternalNeverFlagged(t *testing.T) {
	ip := &fakeIP{verdict: oracle.Malicious}
	env := testEnv(&oracle.Set{IP: ip, Reputation: mustPool("k1")})

	var conns []artifact.Connection
	for _, addr := range []string{"10.0.0.5", "192.168.1.1", "172.16.4.4", "127.0.0.1", "0.0.0.0", "::1", "::", "fd00::1", "::ffff:10.1.2.3",
		"169.254.10.1", "fe80::1", "224.0.0.251", "ff02::fb", "239.255.255.250"} {
		for _, port := range []string{"4444", "54321", "443", "0"} {
			conns = append(conns, artifact.Connection{RemoteAddress: addr, RemotePort: port, PID: "999", ProcessName: "evil.exe"})
		}
	}

	res := analyze(ConnectionAnalyzer{}, connSnapshot(conns...), env)
	if len(res.Findings) != 0 {
		t.Errorf("internal addresses flagged: %+v", res.Findings)
	}
	if len(ip.calls) != 0 {
		t.Errorf("reputation oracle called for internal addresses: %v", ip.calls)
	}
}

func TestConnectionPorts(t *testing.T) {
	ip := &fakeIP{verdict: oracle.Benign}
	env := testEnv(&oracle.Set{IP: ip, Reputation: mustPool("k1")})

	tests := []struct {
		name  string
		conn  artifact.Connection
		want  []ReasonCode
		sever Severity
	}{
		{
			name: "backdoor port",
			conn: artifact.Connection{RemoteAddress: "8.8.8.8", RemotePort: "4444", PID: "100", ProcessName: "custom.exe"},
			want: []ReasonCode{ReasonUnusualPort}, sever: SeverityLow,
		},
		{
			name: "ephemeral port",
			conn: artifact.Connection{RemoteAddress: "8.8.4.4", RemotePort: "54321", PID: "100", ProcessName: "custom.exe"},
			want: []ReasonCode{ReasonUnusualPort}, sever: SeverityLow,
		},
		{
			name: "https from unknown process",
			conn: artifact.Connection{RemoteAddress: "1.1.1.1", RemotePort: "443", PID: "100", ProcessName: "custom.exe"},
		},
		{
			name: "browser on odd port",
			conn: artifact.Connection{RemoteAddress: "9.9.9.9", RemotePort: "8443", PID: "200", ProcessName: "chrome.exe"},
			want: []ReasonCode{ReasonAbnormalPort}, sever: SeverityMedium,
		},
		{
			name: "unresolved pid",
			conn: artifact.Connection{RemoteAddress: "9.9.9.9", RemotePort: "4444", PID: "555", ProcessName: "chrome.exe"},
			want: []ReasonCode{ReasonUnusualPort, ReasonAbnormalPort, ReasonMissingPath}, sever: SeverityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := analyze(ConnectionAnalyzer{}, connSnapshot(tt.conn), env)
			if len(tt.want) == 0 {
				if len(res.Findings) != 0 {
					t.Fatalf("expected no finding, got %+v", res.Findings)
				}
				return
			}
			if len(res.Findings) != 1 {
				t.Fatalf("expected 1 finding, got %d", len(res.Findings))
			}
			f := res.Findings[0]
			if diff := cmp.Diff(tt.want, codes(f), cmpopts.SortSlices(func(a, b ReasonCode) bool { return a < b })); diff != "" {
				t.Errorf("reasons mismatch (-want +got):\n%s", diff)
			}
			if f.Severity != tt.sever {
				t.Errorf("severity = %s, want %s", f.Severity, tt.sever)
			}
			if f.IPReputation != oracle.Benign {
				t.Errorf("ip reputation = %s, want benign", f.IPReputation)
			}
		})
	}
}

func TestConnectionMaliciousReputation(t *testing.T) {
	ip := &fakeIP{verdict: oracle.Malicious}
	hash := &fakeHash{malicious: map[string]bool{"deadbeef": true}}
	env := testEnv(&oracle.Set{IP: ip, Hash: hash, Reputation: mustPool("k1")})

	res := analyze(ConnectionAnalyzer{}, connSnapshot(artifact.Connection{
		RemoteAddress: "203.0.113.9", RemotePort: "443", PID: "100", ProcessName: "custom.exe", Hash: "deadbeef",
	}), env)

	if len(res.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(res.Findings))
	}
	f := res.Findings[0]
	want := []ReasonCode{ReasonMaliciousIP, ReasonMaliciousHash}
	if diff := cmp.Diff(want, codes(f)); diff != "" {
		t.Errorf("reasons mismatch (-want +got):\n%s", diff)
	}
	// 3 (verdict) + 3 + 3
	if f.Severity != SeverityCritical {
		t.Errorf("severity = %s, want Critical", f.Severity)
	}
	if f.Subject != "203.0.113.9:443" {
		t.Errorf("subject = %q", f.Subject)
	}
	if got := f.Field("process_path"); got != `C:\Program Files\Custom\custom.exe` {
		t.Errorf("process_path = %q", got)
	}
}

func TestConnectionOffHours(t *testing.T) {
	env := testEnv(nil)

	res := analyze(ConnectionAnalyzer{}, connSnapshot(
		artifact.Connection{RemoteAddress: "8.8.8.8", RemotePort: "4444", PID: "100", ProcessName: "custom.exe", TimeCollected: "2024-03-05 23:15:00"},
		artifact.Connection{RemoteAddress: "8.8.4.4", RemotePort: "443", PID: "100", ProcessName: "custom.exe", TimeCollected: "2024-03-05 23:15:00"},
	), env)

	if len(res.Findings) != 1 {
		t.Fatalf("expected only the already suspicious connection, got %d", len(res.Findings))
	}
	f := res.Findings[0]
	if !f.HasReason(ReasonOffHours) {
		t.Errorf("missing off-hours reason: %v", f.Reasons)
	}
	if f.Severity != SeverityLow {
		t.Errorf("severity = %s, want Low", f.Severity)
	}
	if f.IPReputation != oracle.Unavailable {
		t.Errorf("ip reputation = %s, want unavailable", f.IPReputation)
	}
}

func TestConnectionFailOpen(t *testing.T) {
	ip := &fakeIP{err: errOracleDown}
	hash := &fakeHash{err: errOracleDown}
	env := testEnv(&oracle.Set{IP: ip, Hash: hash, Reputation: mustPool("k1", "k2")})

	res := analyze(ConnectionAnalyzer{}, connSnapshot(
		artifact.Connection{RemoteAddress: "8.8.8.8", RemotePort: "4444", PID: "100", ProcessName: "custom.exe", Hash: "aa"},
		artifact.Connection{RemoteAddress: "8.8.4.4", RemotePort: "54321", PID: "100", ProcessName: "custom.exe", Hash: "bb"},
		artifact.Connection{RemoteAddress: "1.1.1.1", RemotePort: "31337", PID: "100", ProcessName: "custom.exe"},
	), env)

	if len(res.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(res.Findings))
	}
	for _, f := range res.Findings {
		if diff := cmp.Diff([]ReasonCode{ReasonUnusualPort}, codes(f)); diff != "" {
			t.Errorf("%s: reasons mismatch (-want +got):\n%s", f.Subject, diff)
		}
		if f.IPReputation != oracle.Unavailable {
			t.Errorf("%s: ip reputation = %s", f.Subject, f.IPReputation)
		}
	}
	if res.OracleFailures != 5 {
		t.Errorf("oracle failures = %d, want 5", res.OracleFailures)
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected record errors: %v", res.Errors)
	}
}

func TestConnectionCredentialRotation(t *testing.T) {
	ip := &fakeIP{verdict: oracle.Benign}
	env := testEnv(&oracle.Set{IP: ip, Reputation: mustPool("k1", "k2", "k3")})

	var conns []artifact.Connection
	for _, addr := range []string{"8.8.8.8", "8.8.4.4", "1.1.1.1", "9.9.9.9", "4.4.4.4", "1.0.0.1"} {
		conns = append(conns, artifact.Connection{RemoteAddress: addr, RemotePort: "443", PID: "100", ProcessName: "custom.exe"})
	}
	analyze(ConnectionAnalyzer{}, connSnapshot(conns...), env)

	want := map[string]int{"k1": 2, "k2": 2, "k3": 2}
	if diff := cmp.Diff(want, ip.creds); diff != "" {
		t.Errorf("credential use mismatch (-want +got):\n%s", diff)
	}
}

func TestLateralMovement(t *testing.T) {
	env := testEnv(nil)

	res := analyze(LateralAnalyzer{}, connSnapshot(
		artifact.Connection{RemoteAddress: "10.0.0.5", RemotePort: "445", PID: "300", ProcessName: "explorer.exe"},
		artifact.Connection{RemoteAddress: "10.0.0.6", RemotePort: "5985", PID: "777", ProcessName: "wsmprovhost.exe"},
		artifact.Connection{RemoteAddress: "8.8.8.8", RemotePort: "445", PID: "300", ProcessName: "explorer.exe"},
		artifact.Connection{RemoteAddress: "10.0.0.5", RemotePort: "443", PID: "300", ProcessName: "explorer.exe"},
		artifact.Connection{RemoteAddress: "127.0.0.1", RemotePort: "3389", PID: "300", ProcessName: "explorer.exe"},
	), env)

	want := []Finding{
		{
			Subject:      "10.0.0.5:445",
			Reasons:      []Reason{{Code: ReasonLateralMovement, Detail: "445"}, {Code: ReasonAbnormalPort, Detail: "explorer.exe: 445"}},
			Severity:     SeverityMedium,
			IPReputation: oracle.Unavailable,
		},
		{
			Subject:      "10.0.0.6:5985",
			Reasons:      []Reason{{Code: ReasonLateralMovement, Detail: "5985"}, {Code: ReasonMissingPath}},
			Severity:     SeverityLow,
			IPReputation: oracle.Unavailable,
		},
	}
	opts := cmpopts.IgnoreFields(Finding{}, "Category", "Fields")
	if diff := cmp.Diff(want, res.Findings, opts); diff != "" {
		t.Errorf("lateral findings mismatch (-want +got):\n%s", diff)
	}
}

func TestPortRules(t *testing.T) {
	for _, p := range []string{"4444", "1337", "31337", "54321", "49152", "0"} {
		if !isUnusualPort(p) {
			t.Errorf("isUnusualPort(%s) = false", p)
		}
	}
	for _, p := range []string{"443", "80", "49151", "", "abc"} {
		if isUnusualPort(p) {
			t.Errorf("isUnusualPort(%q) = true", p)
		}
	}

	if !isAbnormalPort("CHROME.EXE", "22") {
		t.Error("chrome on 22 should be abnormal")
	}
	if isAbnormalPort("svchost.exe", "135") {
		t.Error("svchost on 135 should be expected")
	}
	if isAbnormalPort("unknown.exe", "22") {
		t.Error("unknown executables are not judged")
	}
}
