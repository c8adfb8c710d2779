package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/user/hostsweep/pkg/artifact"
	"github.com/user/hostsweep/pkg/oracle"
)

// ErrNotConfigured is returned by an analyzer whose oracle is missing.
var ErrNotConfigured = errors.New("oracle not configured")

// Analyzer turns the records of one category into findings. Implementations
// read the repository and never mutate it.
type Analyzer interface {
	Category() Category
	// Tables lists the snapshot tables that must be present.
	Tables() []artifact.Table
	Analyze(ctx context.Context, repo *artifact.Repository, env *Env) (Result, error)
}

// Result is the outcome of one analyzer.
type Result struct {
	Findings []Finding
	// Errors holds records that could not be analyzed.
	Errors []RecordError
	// OracleFailures counts oracle calls that failed and were treated as no verdict.
	OracleFailures int
	// Annotation is an opaque oracle payload (event-ID classification).
	Annotation json.RawMessage
}

// RecordError reports a record skipped because its analysis failed.
type RecordError struct {
	Index   int    `json:"index"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (e RecordError) Error() string { return e.Subject + ": " + e.Message }

// BusinessHours is the inclusive [Open, Close] hour window.
type BusinessHours struct {
	Open  int
	Close int
}

// Contains reports whether hour lies inside the window.
func (h BusinessHours) Contains(hour int) bool {
	return hour >= h.Open && hour <= h.Close
}

// Env is the read-only context shared by all analyzers of a run.
type Env struct {
	Oracles *oracle.Set
	Hours   BusinessHours
	// Workers bounds classification batches and local fan-out.
	Workers int
	Now     func() time.Time
	// Open reads executables for hashing.
	Open   func(path string) (io.ReadCloser, error)
	Logger *slog.Logger
}

func openFile(path string) (io.ReadCloser, error) { return os.Open(path) }

// reputationWorkers is the concurrency bound for reputation batches: one
// worker per credential.
func (e *Env) reputationWorkers() int {
	if e.Oracles.Reputation == nil {
		return e.Workers
	}
	return e.Oracles.Reputation.Size()
}

func (e *Env) reputationKey(i int) string {
	if e.Oracles.Reputation == nil {
		return ""
	}
	return e.Oracles.Reputation.For(i)
}

func (e *Env) classificationKey(i int) string {
	if e.Oracles.Classification == nil {
		return ""
	}
	return e.Oracles.Classification.For(i)
}
