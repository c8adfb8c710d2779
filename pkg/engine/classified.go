package engine

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/user/hostsweep/pkg/artifact"
	"github.com/user/hostsweep/pkg/oracle"
)

// startupPolicyPrefix marks entries written by PowerShell's own execution
// policy tooling.
const startupPolicyPrefix = "PS"

// StartupAnalyzer asks the classifier about every autostart entry.
type StartupAnalyzer struct{}

func (StartupAnalyzer) Category() Category       { return CategoryStartup }
func (StartupAnalyzer) Tables() []artifact.Table { return []artifact.Table{artifact.TableStartup} }

func (StartupAnalyzer) Analyze(ctx context.Context, repo *artifact.Repository, env *Env) (Result, error) {
	if env.Oracles.Startup == nil {
		return Result{}, ErrNotConfigured
	}

	var entries []artifact.StartupEntry
	for _, e := range repo.StartupEntries() {
		if strings.HasPrefix(e.Name, startupPolicyPrefix) || strings.TrimSpace(e.Value) == "" {
			continue
		}
		entries = append(entries, e)
	}

	var failures atomic.Int64
	subject := func(e artifact.StartupEntry) string { return e.Name }
	findings, errs := fanOut(ctx, entries, env.Workers, subject,
		func(ctx context.Context, i int, e artifact.StartupEntry) (Finding, bool) {
			answer, err := env.Oracles.Startup.ClassifyStartup(ctx, env.classificationKey(i), e.Key, e.Name, e.Value)
			if err != nil {
				failures.Add(1)
				env.Logger.Warn("startup classification failed", "index", i, "entry", e.Name, "error", err)
				return Finding{}, false
			}
			if !oracle.IsSuspicious(answer) {
				return Finding{}, false
			}
			env.Logger.Info("suspicious startup entry", "entry", e.Name, "key", e.Key)
			return Finding{
				Category:       CategoryStartup,
				Subject:        e.Name,
				Fields:         []Field{{"key", e.Key}, {"name", e.Name}, {"command", e.Value}},
				Reasons:        []Reason{{Code: ReasonSuspiciousStartup}},
				Classification: strings.TrimSpace(answer),
			}, true
		})
	return Result{Findings: findings, Errors: errs, OracleFailures: int(failures.Load())}, nil
}

// FirewallAnalyzer flags firewall changes the classifier dislikes or that were
// made by someone outside the admin roster.
type FirewallAnalyzer struct{}

func (FirewallAnalyzer) Category() Category       { return CategoryFirewall }
func (FirewallAnalyzer) Tables() []artifact.Table { return []artifact.Table{artifact.TableFirewall} }

func (FirewallAnalyzer) Analyze(ctx context.Context, repo *artifact.Repository, env *Env) (Result, error) {
	var failures atomic.Int64
	subject := func(e artifact.FirewallEvent) string { return e.TimeCreated + " " + e.EventID }
	findings, errs := fanOut(ctx, repo.FirewallEvents(), env.Workers, subject,
		func(ctx context.Context, i int, e artifact.FirewallEvent) (Finding, bool) {
			var rs reasons
			var answer string
			if env.Oracles.Text != nil {
				a, err := env.Oracles.Text.ClassifyText(ctx, env.classificationKey(i), e.Message)
				if err != nil {
					failures.Add(1)
					env.Logger.Warn("firewall classification failed", "index", i, "event", e.EventID, "error", err)
				} else {
					answer = strings.TrimSpace(a)
					rs.when(oracle.IsSuspicious(answer), ReasonSuspiciousContent)
				}
			}
			rs.when(!repo.IsAdmin(e.User), ReasonNonAdminChange)
			if len(rs) == 0 {
				return Finding{}, false
			}
			return Finding{
				Category: CategoryFirewall,
				Subject:  subject(e),
				Fields: []Field{
					{"time", e.TimeCreated},
					{"event_id", e.EventID},
					{"user", e.User},
					{"ip_address", e.IPAddress},
					{"message", e.Message},
				},
				Reasons:        rs,
				Classification: answer,
			}, true
		})
	return Result{Findings: findings, Errors: errs, OracleFailures: int(failures.Load())}, nil
}
