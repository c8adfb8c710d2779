package engine

import (
	"context"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/user/hostsweep/pkg/artifact"
	"github.com/user/hostsweep/pkg/oracle"
)

var (
	uncommonPorts = []int{4444, 1337, 31337, 5555, 6969}

	// lateralPorts are SMB, RPC, RDP and WinRM.
	lateralPorts = []int{445, 135, 3389, 5985}

	// expectedPorts lists the remote ports well-known executables normally
	// talk to. Executables missing from the table are not judged.
	expectedPorts = map[string][]int{
		"chrome.exe":       {80, 443},
		"firefox.exe":      {80, 443},
		"msedge.exe":       {80, 443},
		"safari.exe":       {80, 443},
		"opera.exe":        {80, 443},
		"explorer.exe":     {},
		"lsass.exe":        {88, 464, 389, 636, 3268, 3269},
		"wininit.exe":      {},
		"services.exe":     {},
		"winlogon.exe":     {},
		"svchost.exe":      portRange(1, 1023),
		"mysqld.exe":       {3306},
		"postgres.exe":     {5432},
		"mongod.exe":       {27017, 27018, 27019},
		"redis-server.exe": {6379, 6380},
		"nginx.exe":        {80, 443, 8080},
		"apache.exe":       {80, 443, 8080},
		"httpd.exe":        {80, 443, 8080},
		"iisexpress.exe":   {80, 443, 8080},
		"smtpd.exe":        {25, 465, 587},
		"pop3d.exe":        {110, 995},
		"imapd.exe":        {143, 993},
		"rdpclip.exe":      {3389},
		"mstsc.exe":        {3389},
		"teamviewer.exe":   {5938, 80, 443},
		"anydesk.exe":      {7070, 80, 443},
		"filezilla.exe":    {21, 22, 990},
		"winscp.exe":       {21, 22, 990},
		"ftp.exe":          {21, 990},
		"openvpn.exe":      {1194, 443},
		"openconnect.exe":  {443, 8443},
		"forticlient.exe":  {443, 8443},
	}
)

func portRange(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for p := lo; p <= hi; p++ {
		out = append(out, p)
	}
	return out
}

func isUnusualPort(port string) bool {
	p, ok := parsePort(port)
	if !ok {
		return false
	}
	return slices.Contains(uncommonPorts, p) || p >= 49152 || p == 0
}

// isAbnormalPort reports whether a recognized executable uses a port outside
// its expected set.
func isAbnormalPort(process, port string) bool {
	p, ok := parsePort(port)
	if !ok {
		return false
	}
	expected, known := expectedPorts[strings.ToLower(strings.TrimSpace(process))]
	return known && !slices.Contains(expected, p)
}

// remoteAddr parses a remote address. ok is false for unparsable input.
func remoteAddr(s string) (netip.Addr, bool) {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

// isInternal reports whether an address is never sent for reputation.
func isInternal(a netip.Addr) bool {
	return a.IsLoopback() || a.IsUnspecified() || a.IsPrivate() ||
		a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() || a.IsMulticast()
}

func connectionSubject(c artifact.Connection) string {
	return net.JoinHostPort(strings.TrimSpace(c.RemoteAddress), strings.TrimSpace(c.RemotePort))
}

func connectionFields(c artifact.Connection) []Field {
	return []Field{
		{"time_collected", c.TimeCollected},
		{"local_port", c.LocalPort},
		{"remote_address", c.RemoteAddress},
		{"remote_port", c.RemotePort},
		{"state", c.State},
		{"pid", c.PID},
		{"process_name", c.ProcessName},
		{"process_path", c.ProcessPath},
	}
}

// ConnectionAnalyzer checks connections to externally routable addresses.
type ConnectionAnalyzer struct{}

func (ConnectionAnalyzer) Category() Category { return CategoryConnection }
func (ConnectionAnalyzer) Tables() []artifact.Table {
	return []artifact.Table{artifact.TableConnections}
}

func (ConnectionAnalyzer) Analyze(ctx context.Context, repo *artifact.Repository, env *Env) (Result, error) {
	var failures atomic.Int64
	findings, errs := fanOut(ctx, repo.Connections(), env.reputationWorkers(), connectionSubject,
		func(ctx context.Context, i int, c artifact.Connection) (Finding, bool) {
			return analyzeConnection(ctx, i, c, env, &failures)
		})
	return Result{Findings: findings, Errors: errs, OracleFailures: int(failures.Load())}, nil
}

func analyzeConnection(ctx context.Context, i int, c artifact.Connection, env *Env, failures *atomic.Int64) (Finding, bool) {
	addr, ok := remoteAddr(c.RemoteAddress)
	if !ok || isInternal(addr) {
		return Finding{}, false
	}

	var rs reasons
	verdict := oracle.Unavailable
	if env.Oracles.IP != nil {
		v, err := env.Oracles.IP.CheckIP(ctx, addr.String(), env.reputationKey(i))
		if err != nil {
			failures.Add(1)
			env.Logger.Warn("ip reputation failed", "index", i, "ip", addr, "error", err)
		} else {
			verdict = v
		}
	}
	rs.when(verdict == oracle.Malicious, ReasonMaliciousIP)

	if isUnusualPort(c.RemotePort) {
		rs.addf(ReasonUnusualPort, strings.TrimSpace(c.RemotePort))
	}

	if hash := strings.TrimSpace(c.Hash); hash != "" && !isMissing(hash) && env.Oracles.Hash != nil {
		v, err := env.Oracles.Hash.CheckHash(ctx, hash, env.reputationKey(i))
		if err != nil {
			failures.Add(1)
			env.Logger.Warn("hash lookup failed", "index", i, "process", c.ProcessName, "error", err)
		} else if v.Malicious {
			rs.addf(ReasonMaliciousHash, v.Message)
		}
	}

	if isAbnormalPort(c.ProcessName, c.RemotePort) {
		rs.addf(ReasonAbnormalPort, strings.TrimSpace(c.ProcessName)+": "+strings.TrimSpace(c.RemotePort))
	}
	rs.when(isMissing(c.ProcessPath), ReasonMissingPath)

	if len(rs) == 0 {
		return Finding{}, false
	}
	// Off-hours activity only raises the severity of an already flagged connection.
	if t, ok := parseTime(c.TimeCollected); ok && !env.Hours.Contains(t.Hour()) {
		rs.addf(ReasonOffHours, strconv.Itoa(t.Hour())+"h")
	}

	return Finding{
		Category:     CategoryConnection,
		Subject:      connectionSubject(c),
		Fields:       connectionFields(c),
		Reasons:      rs,
		Severity:     Score(rs, verdict),
		IPReputation: verdict,
	}, true
}

// LateralAnalyzer flags connections to internal hosts on remote-administration
// and file-sharing ports.
type LateralAnalyzer struct{}

func (LateralAnalyzer) Category() Category { return CategoryLateral }
func (LateralAnalyzer) Tables() []artifact.Table {
	return []artifact.Table{artifact.TableConnections}
}

func (LateralAnalyzer) Analyze(ctx context.Context, repo *artifact.Repository, env *Env) (Result, error) {
	findings, errs := fanOut(ctx, repo.Connections(), env.Workers, connectionSubject,
		func(_ context.Context, _ int, c artifact.Connection) (Finding, bool) {
			return analyzeLateral(c)
		})
	return Result{Findings: findings, Errors: errs}, nil
}

func analyzeLateral(c artifact.Connection) (Finding, bool) {
	addr, ok := remoteAddr(c.RemoteAddress)
	if !ok || !addr.IsPrivate() {
		return Finding{}, false
	}
	port, ok := parsePort(c.RemotePort)
	if !ok || !slices.Contains(lateralPorts, port) {
		return Finding{}, false
	}

	rs := reasons{{Code: ReasonLateralMovement, Detail: strconv.Itoa(port)}}
	if isAbnormalPort(c.ProcessName, c.RemotePort) {
		rs.addf(ReasonAbnormalPort, strings.TrimSpace(c.ProcessName)+": "+strconv.Itoa(port))
	}
	rs.when(isMissing(c.ProcessPath), ReasonMissingPath)

	return Finding{
		Category:     CategoryLateral,
		Subject:      connectionSubject(c),
		Fields:       connectionFields(c),
		Reasons:      rs,
		Severity:     Score(rs, oracle.Unavailable),
		IPReputation: oracle.Unavailable,
	}, true
}
