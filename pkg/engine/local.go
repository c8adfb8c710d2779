package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/hostsweep/pkg/artifact"
)

// localAnalyzer runs a per-record heuristic with no oracle involved.
type localAnalyzer[T any] struct {
	category Category
	table    artifact.Table
	records  func(*artifact.Repository) []T
	subject  func(T) string
	check    func(T, *artifact.Repository, *Env) (Finding, bool)
}

func (a localAnalyzer[T]) Category() Category       { return a.category }
func (a localAnalyzer[T]) Tables() []artifact.Table { return []artifact.Table{a.table} }

func (a localAnalyzer[T]) Analyze(ctx context.Context, repo *artifact.Repository, env *Env) (Result, error) {
	findings, errs := fanOut(ctx, a.records(repo), env.Workers, a.subject,
		func(_ context.Context, _ int, r T) (Finding, bool) {
			return a.check(r, repo, env)
		})
	return Result{Findings: findings, Errors: errs}, nil
}

// flag builds a finding when at least one reason matched.
func flag(cat Category, subject string, rs reasons, fields ...Field) (Finding, bool) {
	if len(rs) == 0 {
		return Finding{}, false
	}
	return Finding{Category: cat, Subject: subject, Fields: fields, Reasons: rs}, true
}

var (
	taskCommandPattern = regexp.MustCompile(`(?i)powershell|cmd\.exe|\.ps1|wget|curl|certutil|rundll32|mshta|wscript`)

	riskyExtensions = toSet(".bat", ".vbs", ".ps1", ".exe", ".js", ".cmd")
	riskyDirs       = []string{"appdata", "temp", "programdata", `windows\system32`}
)

func ScheduledTaskAnalyzer() Analyzer {
	return localAnalyzer[artifact.ScheduledTask]{
		category: CategoryTasks,
		table:    artifact.TableTasks,
		records:  (*artifact.Repository).ScheduledTasks,
		subject:  func(t artifact.ScheduledTask) string { return t.Path + t.Name },
		check: func(t artifact.ScheduledTask, _ *artifact.Repository, _ *Env) (Finding, bool) {
			var rs reasons
			if m := taskCommandPattern.FindString(t.Description); m != "" {
				rs.addf(ReasonTaskCommand, strings.ToLower(m))
			}
			return flag(CategoryTasks, t.Name, rs,
				Field{"task_path", t.Path}, Field{"author", t.Author}, Field{"description", t.Description})
		},
	}
}

func FileChangeAnalyzer() Analyzer {
	return localAnalyzer[artifact.FileChange]{
		category: CategoryFileChanges,
		table:    artifact.TableFileChanges,
		records:  (*artifact.Repository).FileChanges,
		subject:  func(f artifact.FileChange) string { return f.FullName },
		check: func(f artifact.FileChange, _ *artifact.Repository, _ *Env) (Finding, bool) {
			path := strings.ToLower(strings.TrimSpace(f.FullName))
			if path == "" {
				return Finding{}, false
			}
			var rs reasons
			if ext := winExt(path); inSet(riskyExtensions, ext) {
				rs.addf(ReasonRiskyExt, ext)
			}
			rs.when(containsAny(path, riskyDirs), ReasonRiskyDir)
			return flag(CategoryFileChanges, f.FullName, rs,
				Field{"last_write_time", f.LastWriteTime}, Field{"owner", f.Owner})
		},
	}
}

// ARPAnalyzer looks for MAC addresses claimed by more than one IP.
type ARPAnalyzer struct{}

const (
	multicastV4Prefix = "01-00-5E"
	multicastV6Prefix = "33-33"
	broadcastMAC      = "FF-FF-FF-FF-FF-FF"
	zeroMAC           = "00-00-00-00-00-00"
)

func (ARPAnalyzer) Category() Category       { return CategoryARP }
func (ARPAnalyzer) Tables() []artifact.Table { return []artifact.Table{artifact.TableARP} }

type macGroup struct {
	mac string
	ips []string
}

func (ARPAnalyzer) Analyze(ctx context.Context, repo *artifact.Repository, env *Env) (Result, error) {
	var groups []*macGroup
	byMAC := make(map[string]*macGroup)
	for _, e := range repo.ARPEntries() {
		mac := strings.ToUpper(strings.TrimSpace(e.LinkLayerAddress))
		if mac == "" {
			continue
		}
		g, ok := byMAC[mac]
		if !ok {
			g = &macGroup{mac: mac}
			byMAC[mac] = g
			groups = append(groups, g)
		}
		g.ips = append(g.ips, strings.TrimSpace(e.IPAddress))
	}

	findings, errs := fanOut(ctx, groups, env.Workers, func(g *macGroup) string { return g.mac },
		func(_ context.Context, _ int, g *macGroup) (Finding, bool) {
			return checkMACGroup(g)
		})
	return Result{Findings: findings, Errors: errs}, nil
}

func checkMACGroup(g *macGroup) (Finding, bool) {
	if len(g.ips) < 2 {
		return Finding{}, false
	}
	if strings.HasPrefix(g.mac, multicastV4Prefix) || strings.HasPrefix(g.mac, multicastV6Prefix) || g.mac == broadcastMAC {
		return Finding{}, false
	}
	var rs reasons
	if g.mac == zeroMAC {
		rs.add(ReasonZeroMAC)
	} else {
		rs.addf(ReasonDuplicateMAC, "count: "+strconv.Itoa(len(g.ips)))
	}
	return flag(CategoryARP, g.mac, rs, Field{"ips", strings.Join(g.ips, ", ")})
}

var (
	suspiciousTLDs = toSet("cn", "ru", "tk", "top", "xyz", "pw", "info", "buzz", "zip", "icu", "click")
	dnsKeywords    = []string{
		"malware", "phish", "ransom", "ddos", "attack", "steal", "hack", "evil", "shell", "crypt", "cn",
		"bank", "login", "secure", "update", "account", "verify", "confirm", "click", "download", "free",
		"promo", "offer", "win", "prize", "alert", "warning", "error", "virus", "trojan", "ransomware",
		"spyware", "adware", "botnet", "exploit", "scam", "fraud", "fake",
	}
	unusualDomainChar = regexp.MustCompile(`[^a-z0-9.-]`)
)

const (
	maxDomainLength  = 50
	maxDomainEntropy = 4.0
	maxDomainDigits  = 10
)

func DNSAnalyzer() Analyzer {
	return localAnalyzer[artifact.DNSEntry]{
		category: CategoryDNS,
		table:    artifact.TableDNS,
		records:  (*artifact.Repository).DNSEntries,
		subject:  func(e artifact.DNSEntry) string { return e.Name },
		check: func(e artifact.DNSEntry, _ *artifact.Repository, _ *Env) (Finding, bool) {
			name := strings.ToLower(strings.TrimSpace(e.Name))
			if name == "" {
				return Finding{}, false
			}
			return flag(CategoryDNS, name, domainReasons(name), Field{"data", e.Data})
		},
	}
}

func domainReasons(name string) reasons {
	var rs reasons
	rs.when(len([]rune(name)) > maxDomainLength, ReasonDomainLength)
	rs.when(containsAny(name, dnsKeywords), ReasonKeyword)
	if labels := strings.Split(name, "."); len(labels) > 1 {
		rs.when(inSet(suspiciousTLDs, labels[len(labels)-1]), ReasonSuspiciousTLD)
	}
	rs.when(shannonEntropy(name) > maxDomainEntropy, ReasonDomainEntropy)

	digits := 0
	for _, r := range name {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	rs.when(digits > maxDomainDigits, ReasonManyDigits)
	rs.when(strings.HasPrefix(name, "xn--"), ReasonPunycode)
	rs.when(unusualDomainChar.MatchString(name), ReasonUnusualChars)
	return rs
}

var (
	standardEnvVars = toSet(
		"PATH", "WINDIR", "SYSTEMROOT", "COMSPEC", "PATHEXT", "TEMP", "TMP",
		"PROGRAMFILES", "PROGRAMFILES(X86)", "USERPROFILE", "HOMEPATH",
		"SYSTEMDRIVE", "ALLUSERSPROFILE", "APPDATA", "LOCALAPPDATA",
	)
	envKeywords = []string{
		"malware", "trojan", "exploit", "hack", "backdoor", "meterpreter", "cobaltstrike",
		"payload", "obfuscate", "shell", "reverse", "bot", "beacon",
	}
	executableExtensions = []string{
		".exe", ".bat", ".cmd", ".vbs", ".vbe", ".js", ".jse", ".wsf", ".wsh", ".msc",
		".cpl", ".ps1", ".psm1", ".dll", ".scr", ".hta",
	}
	hiddenDirPattern = regexp.MustCompile(`\\\.`)
	binDirPattern    = regexp.MustCompile(`\\(bin|scripts)\\`)
)

func EnvironmentAnalyzer() Analyzer {
	return localAnalyzer[artifact.EnvVar]{
		category: CategoryEnvironment,
		table:    artifact.TableEnvironment,
		records:  (*artifact.Repository).EnvVars,
		subject:  func(v artifact.EnvVar) string { return v.Name },
		check: func(v artifact.EnvVar, _ *artifact.Repository, _ *Env) (Finding, bool) {
			name := strings.ToUpper(strings.TrimSpace(v.Name))
			value := strings.ToLower(strings.TrimSpace(v.Value))

			var rs reasons
			rs.when(!inSet(standardEnvVars, name) && containsAny(value, executableExtensions), ReasonEnvExecutable)
			rs.when(containsAny(value, envKeywords), ReasonKeyword)
			rs.when(hiddenDirPattern.MatchString(value), ReasonHiddenDirectory)
			rs.when(binDirPattern.MatchString(value), ReasonBinaryDirectory)
			rs.when(strings.Contains(value, ".."), ReasonPathTraversal)
			return flag(CategoryEnvironment, name, rs, Field{"value", v.Value})
		},
	}
}

var (
	sensitiveSharePaths = []*regexp.Regexp{
		regexp.MustCompile(`^.*\\temp\\.*`),
		regexp.MustCompile(`^.*\\tmp\\.*`),
		regexp.MustCompile(`^.*\\users\\public\\.*`),
		regexp.MustCompile(`^.*\\inetpub\\.*`),
		regexp.MustCompile(`^.*\\windows\\.*`),
		regexp.MustCompile(`^.*\\system32\\.*`),
		regexp.MustCompile(`^.*\\syswow64\\.*`),
		regexp.MustCompile(`^.*\\programdata\\.*`),
		regexp.MustCompile(`^.*\\appdata\\.*`),
	}
	defaultShares = toSet("admin$", "c$", "d$", "e$", "ipc$", "print$", "sysvol", "netlogon")
)

func ShareAnalyzer() Analyzer {
	return localAnalyzer[artifact.Share]{
		category: CategoryShares,
		table:    artifact.TableShares,
		records:  (*artifact.Repository).Shares,
		subject:  func(s artifact.Share) string { return s.Name },
		check: func(s artifact.Share, _ *artifact.Repository, _ *Env) (Finding, bool) {
			name := strings.ToLower(strings.TrimSpace(s.Name))
			path := strings.ToLower(strings.TrimSpace(s.Path))
			desc := strings.ToLower(strings.TrimSpace(s.Description))

			var rs reasons
			rs.when(inSet(defaultShares, name), ReasonDefaultShare)
			for _, re := range sensitiveSharePaths {
				if re.MatchString(path) {
					rs.add(ReasonSensitiveDir)
					break
				}
			}
			rs.when(containsAny(name, []string{"public", "everyone", "guest"}), ReasonPublicShare)
			rs.when(strings.Contains(name, "ipc$") && path == "", ReasonAnonymousIPC)
			rs.when(containsAny(desc, []string{"remote", "admin"}), ReasonSensitiveService)
			return flag(CategoryShares, name, rs, Field{"path", s.Path}, Field{"description", s.Description})
		},
	}
}

var standardModuleRoots = []string{"c:/windows/system32", "c:/program files", "c:/program files (x86)"}

func ModuleAnalyzer() Analyzer {
	return localAnalyzer[artifact.Module]{
		category: CategoryModules,
		table:    artifact.TableModules,
		records:  (*artifact.Repository).Modules,
		subject:  func(m artifact.Module) string { return m.ProcessName + "/" + m.Name },
		check: func(m artifact.Module, _ *artifact.Repository, _ *Env) (Finding, bool) {
			path := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(m.Path)), `\`, "/")
			var rs reasons
			rs.when(!containsAny(path, standardModuleRoots), ReasonModulePath)
			return flag(CategoryModules, m.Name, rs, Field{"process_name", m.ProcessName}, Field{"dll_path", path})
		},
	}
}
