// Package report persists run results and compares them with a baseline.
package report

import "github.com/user/hostsweep/pkg/engine"

// Writer is implemented by every report sink.
type Writer interface {
	Write(res *engine.RunResult) error
	Close() error
}

// MultiWriter fans a result out to several sinks.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write stops at the first failing sink.
func (mw *MultiWriter) Write(res *engine.RunResult) error {
	for _, w := range mw.writers {
		if err := w.Write(res); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns the first error.
func (mw *MultiWriter) Close() error {
	var firstErr error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ Writer = (*MultiWriter)(nil)
