package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/hostsweep/pkg/engine"
)

// JSONWriter writes each result as an indented JSON document to one path.
// A later Write replaces the file.
type JSONWriter struct {
	path string
}

func NewJSONWriter(path string) *JSONWriter {
	return &JSONWriter{path: path}
}

func (w *JSONWriter) Write(res *engine.RunResult) error {
	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(w.path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func (w *JSONWriter) Close() error { return nil }

// ReadJSON loads a result written by JSONWriter.
func ReadJSON(path string) (*engine.RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var res engine.RunResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &res, nil
}

var _ Writer = (*JSONWriter)(nil)
