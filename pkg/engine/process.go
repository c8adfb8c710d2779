package engine

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/user/hostsweep/pkg/artifact"
)

var (
	base64Run   = regexp.MustCompile(`[A-Za-z0-9+/=]{20,}`)
	nonWordChar = regexp.MustCompile(`\W`)

	riskyChildren = toSet("cmd.exe", "powershell.exe", "wscript.exe", "cscript.exe", "python.exe", "bash.exe")
	abusedParents = toSet("svchost.exe", "services.exe", "explorer.exe", "winlogon.exe",
		"rundll32.exe", "regsvr32.exe", "msiexec.exe", "dllhost.exe")

	// parentCheckExempt processes routinely run under short-lived or
	// sandboxed parents.
	parentCheckExempt = toSet("conhost.exe", "firefox.exe", "msedge.exe")
)

const (
	recentWindow     = 24 * time.Hour
	minProcessReason = 2
)

// ProcessAnalyzer flags running processes that trip two or more heuristics.
type ProcessAnalyzer struct{}

func (ProcessAnalyzer) Category() Category       { return CategoryProcess }
func (ProcessAnalyzer) Tables() []artifact.Table { return []artifact.Table{artifact.TableProcesses} }

type processHit struct {
	finding Finding
	hash    string
}

func (ProcessAnalyzer) Analyze(ctx context.Context, repo *artifact.Repository, env *Env) (Result, error) {
	var failures atomic.Int64
	subject := func(p artifact.Process) string { return p.Name + " (" + p.ID + ")" }

	hits, errs := fanOut(ctx, repo.Processes(), env.Workers, subject,
		func(ctx context.Context, i int, p artifact.Process) (processHit, bool) {
			return analyzeProcess(ctx, i, p, repo, env, &failures)
		})

	// Flagged processes get a second reputation pass of their own.
	if env.Oracles.Hash != nil && len(hits) > 0 {
		hitSubject := func(h processHit) string { return h.finding.Subject }
		var recheckErrs []RecordError
		hits, recheckErrs = fanOut(ctx, hits, env.reputationWorkers(), hitSubject,
			func(ctx context.Context, i int, h processHit) (processHit, bool) {
				if h.hash == "" {
					return h, true
				}
				v, err := env.Oracles.Hash.CheckHash(ctx, h.hash, env.reputationKey(i))
				if err != nil {
					failures.Add(1)
					env.Logger.Warn("hash recheck failed", "process", h.finding.Subject, "error", err)
					return h, true
				}
				if v.Malicious && !h.finding.HasReason(ReasonMaliciousFileHash) {
					h.finding.Reasons = append(h.finding.Reasons, Reason{Code: ReasonHashRecheck, Detail: v.Message})
				}
				return h, true
			})
		errs = append(errs, recheckErrs...)
	}

	res := Result{Errors: errs, OracleFailures: int(failures.Load())}
	for _, h := range hits {
		res.Findings = append(res.Findings, h.finding)
	}
	return res, nil
}

func analyzeProcess(ctx context.Context, i int, p artifact.Process, repo *artifact.Repository, env *Env, failures *atomic.Int64) (processHit, bool) {
	path := strings.TrimSpace(p.Path)
	if path == "" || path == "-" {
		return processHit{}, false
	}

	var rs reasons
	hash, err := hashFile(env.Open, path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		rs.add(ReasonPathMissing)
	case err != nil:
		rs.addf(ReasonFileReadError, err.Error())
	}

	rs.when(isRandomName(p.Name), ReasonRandomName)
	rs.when(!isStandardPath(path), ReasonNonStandardPath)
	rs.when(isRecent(p.StartTime, env.Now()), ReasonRecentlyStarted)
	if !inSet(parentCheckExempt, strings.ToLower(strings.TrimSpace(p.Name))) {
		rs.when(isSuspiciousParent(p, repo), ReasonSuspiciousParent)
	}
	rs.when(isSuspiciousParentChild(p), ReasonParentChild)
	rs.when(hasBase64(p.CommandLine), ReasonBase64Command)
	rs.when(isHighEntropyCommand(p.CommandLine), ReasonHighEntropyCommand)

	if hash != "" && env.Oracles.Hash != nil {
		v, err := env.Oracles.Hash.CheckHash(ctx, hash, env.reputationKey(i))
		if err != nil {
			failures.Add(1)
			env.Logger.Warn("hash lookup failed", "process", p.Name, "pid", p.ID, "error", err)
		} else if v.Malicious {
			rs.addf(ReasonMaliciousFileHash, v.Message)
		}
	}

	if len(rs) < minProcessReason {
		return processHit{}, false
	}
	return processHit{
		hash: hash,
		finding: Finding{
			Category: CategoryProcess,
			Subject:  p.Name,
			Fields: []Field{
				{"id", p.ID},
				{"path", path},
				{"user", p.UserName},
				{"command_line", p.CommandLine},
				{"start_time", p.StartTime},
				{"parent", p.ParentName},
				{"sha256", hash},
			},
			Reasons: rs,
		},
	}, true
}

func hashFile(open func(string) (io.ReadCloser, error), path string) (string, error) {
	f, err := open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isRecent(start string, now time.Time) bool {
	t, ok := parseTime(start)
	if !ok {
		return false
	}
	return now.Sub(t) < recentWindow
}

func isSuspiciousParent(p artifact.Process, repo *artifact.Repository) bool {
	parent := strings.ToLower(strings.TrimSpace(p.ParentName))
	if parent == "" || parent == "n/a" {
		return true
	}
	if strings.Contains(strings.ToLower(p.UserName), "system") {
		return false
	}
	if inSet(knownLegitNames, normalizeName(parent)) {
		path := p.Path
		if pp, ok := repo.ProcessByName(parent); ok && strings.TrimSpace(pp.Path) != "" {
			path = pp.Path
		}
		if isStandardPath(path) {
			return false
		}
	}
	return !repo.IsRunning(parent) || isRandomName(parent)
}

func isSuspiciousParentChild(p artifact.Process) bool {
	child := strings.ToLower(strings.TrimSpace(p.Name))
	if !inSet(riskyChildren, child) {
		return false
	}
	parent := strings.ToLower(strings.TrimSpace(p.ParentName))
	return inSet(abusedParents, parent) || isRandomName(parent)
}

func hasBase64(cmd string) bool {
	for _, m := range base64Run.FindAllString(cmd, -1) {
		if len(m)%4 != 0 {
			continue
		}
		if _, err := base64.StdEncoding.Strict().DecodeString(m); err == nil {
			return true
		}
	}
	return false
}

func isHighEntropyCommand(cmd string) bool {
	cleaned := nonWordChar.ReplaceAllString(cmd, "")
	if len([]rune(cleaned)) < 10 {
		return false
	}
	return uniqueness(cleaned) > 0.85
}
