package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/user/hostsweep/pkg/artifact"
	"github.com/user/hostsweep/pkg/oracle"
)

var securityEventIDs = intSet(
	4625, 4624, 4740, 4698, 4702, 7045,
	4672, 4688, 4690, 4689, 4728, 4776,
	4798, 4756, 5140, 4769, 4104, 5145,
	5156, 1102, 4719, 1100,
)

var applicationEventIDs = intSet(
	1000, 1001, 1026, 1033, 4096, 4097, 6000, 8193, 8194,
	1002, 5011, 4624, 4625, 7031, 7034, 1014, 11707, 11724,
	104, 4098, 1005, 1502, 1503, 2001, 1003,
)

// systemEventIDs is the audit set plus the whole 4740..4999 range.
var systemEventIDs = func() map[int]struct{} {
	m := intSet(
		4624, 4625, 4634, 4648, 4662, 4672, 4673, 4674, 4688, 4689,
		4690, 4698, 4699, 4700, 4701, 4702, 4719, 4720, 4722, 4723,
		4724, 4725, 4726, 4738,
	)
	for id := 4740; id <= 4999; id++ {
		m[id] = struct{}{}
	}
	return m
}()

func intSet(ids ...int) map[int]struct{} {
	m := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// EventLogAnalyzer sends the relevant event IDs of one log to the event
// classifier in a single batch. It yields an annotation, not findings.
type EventLogAnalyzer struct {
	category Category
	table    artifact.Table
	log      oracle.EventLog
	known    map[int]struct{}
	// slot picks the classification credential, one per log.
	slot int
}

func SecurityLogAnalyzer() EventLogAnalyzer {
	return EventLogAnalyzer{CategorySecurityLog, artifact.TableSecurityLog, oracle.SecurityLog, securityEventIDs, 0}
}

func ApplicationLogAnalyzer() EventLogAnalyzer {
	return EventLogAnalyzer{CategoryApplicationLog, artifact.TableApplicationLog, oracle.ApplicationLog, applicationEventIDs, 1}
}

func SystemLogAnalyzer() EventLogAnalyzer {
	return EventLogAnalyzer{CategorySystemLog, artifact.TableSystemLog, oracle.SystemLog, systemEventIDs, 2}
}

func (a EventLogAnalyzer) Category() Category       { return a.category }
func (a EventLogAnalyzer) Tables() []artifact.Table { return []artifact.Table{a.table} }

func (a EventLogAnalyzer) Analyze(ctx context.Context, repo *artifact.Repository, env *Env) (Result, error) {
	if env.Oracles.Events == nil {
		return Result{}, ErrNotConfigured
	}

	ids := a.matchedIDs(repo.EventLog(a.table))
	if len(ids) == 0 {
		return Result{}, nil
	}

	env.Logger.Debug("classifying event ids", "log", a.log, "count", len(ids))
	payload, err := env.Oracles.Events.ClassifyEvents(ctx, env.classificationKey(a.slot), a.log, ids)
	if err != nil {
		env.Logger.Warn("event classification failed", "log", a.log, "error", err)
		return Result{OracleFailures: 1}, nil
	}
	return Result{Annotation: payload}, nil
}

// matchedIDs keeps known IDs in log order, repeats included.
func (a EventLogAnalyzer) matchedIDs(records []artifact.EventRecord) []int {
	var ids []int
	for _, r := range records {
		id, err := strconv.Atoi(strings.TrimSpace(r.ID))
		if err != nil {
			continue
		}
		if _, ok := a.known[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
