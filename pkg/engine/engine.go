package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/user/hostsweep/pkg/artifact"
	"github.com/user/hostsweep/pkg/logging"
	"github.com/user/hostsweep/pkg/oracle"
)

// Config tunes a run.
type Config struct {
	Hours   BusinessHours
	Workers int
	// Now and Open default to the wall clock and os.Open.
	Now    func() time.Time
	Open   func(path string) (io.ReadCloser, error)
	Logger *slog.Logger
}

// Engine runs a fixed list of analyzers over a repository.
type Engine struct {
	analyzers []Analyzer
	env       *Env
	logger    *slog.Logger
}

// DefaultAnalyzers returns one analyzer per supported category.
func DefaultAnalyzers() []Analyzer {
	return []Analyzer{
		ProcessAnalyzer{},
		ConnectionAnalyzer{},
		LateralAnalyzer{},
		StartupAnalyzer{},
		FirewallAnalyzer{},
		ScheduledTaskAnalyzer(),
		FileChangeAnalyzer(),
		ARPAnalyzer{},
		DNSAnalyzer(),
		EnvironmentAnalyzer(),
		ShareAnalyzer(),
		ModuleAnalyzer(),
		DiskAnalyzer(),
		VolumeAnalyzer(),
		SoftwareAnalyzer(),
		ResourceUsageAnalyzer(),
		SMBSessionAnalyzer(),
		SecurityLogAnalyzer(),
		ApplicationLogAnalyzer(),
		SystemLogAnalyzer(),
	}
}

// New builds an engine. With no analyzers given, DefaultAnalyzers is used.
func New(oracles *oracle.Set, cfg Config, analyzers ...Analyzer) *Engine {
	if oracles == nil {
		oracles = &oracle.Set{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Open == nil {
		cfg.Open = openFile
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("engine")
	}
	if len(analyzers) == 0 {
		analyzers = DefaultAnalyzers()
	}

	return &Engine{
		analyzers: analyzers,
		logger:    cfg.Logger,
		env: &Env{
			Oracles: oracles,
			Hours:   cfg.Hours,
			Workers: cfg.Workers,
			Now:     cfg.Now,
			Open:    cfg.Open,
			Logger:  cfg.Logger,
		},
	}
}

// Run analyzes every category one after another. It never fails: missing
// tables, oracle errors and broken records only shrink the result.
func (e *Engine) Run(ctx context.Context, repo *artifact.Repository) *RunResult {
	start := time.Now()
	res := newRunResult(repo.Host(), e.env.Now())

	for _, a := range e.analyzers {
		e.runAnalyzer(ctx, repo, a, res)
	}

	res.Duration = time.Since(start)
	e.logger.Info("analysis complete", "host", res.Host, "run", res.ID,
		"findings", res.Total(), "unavailable", len(res.Unavailable), "duration", res.Duration)
	return res
}

func (e *Engine) runAnalyzer(ctx context.Context, repo *artifact.Repository, a Analyzer, res *RunResult) {
	cat := a.Category()
	log := e.logger.With("category", cat)

	for _, t := range a.Tables() {
		if err := repo.Check(t); err != nil {
			log.Warn("category unavailable", "error", err)
			res.markUnavailable(cat, err.Error())
			return
		}
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("analyzer panicked", "panic", p)
			res.markUnavailable(cat, fmt.Sprint("analyzer failed: ", p))
		}
	}()

	start := time.Now()
	out, err := a.Analyze(ctx, repo, e.env)
	if err != nil {
		log.Warn("category unavailable", "error", err)
		res.markUnavailable(cat, err.Error())
		return
	}
	res.add(cat, out)

	for _, re := range out.Errors {
		log.Warn("record skipped", "index", re.Index, "subject", re.Subject, "error", re.Message)
	}
	log.Debug("category analyzed", "findings", len(out.Findings), "took", time.Since(start))
	if len(out.Findings) > 0 {
		log.Info("findings", "count", len(out.Findings))
	}
}
