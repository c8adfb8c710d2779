package oracle

import (
	"context"
	"errors"
	"fmt"
)

// Options selects which services a Set is built with. An empty key list leaves
// that service unconfigured.
type Options struct {
	VirusTotalKeys []string
	GeminiKeys     []string
	Model          string

	VirusTotal []VirusTotalOption
}

// NewSet builds the oracles for one run. Close releases the Gemini clients.
func NewSet(ctx context.Context, opts Options) (*Set, error) {
	s := &Set{}

	if pool, err := NewCredentialPool(opts.VirusTotalKeys); err == nil {
		vt := NewVirusTotal(opts.VirusTotal...)
		s.IP, s.Hash, s.Reputation = vt, vt, pool
	} else if !errors.Is(err, ErrEmptyPool) {
		return nil, err
	}

	if pool, err := NewCredentialPool(opts.GeminiKeys); err == nil {
		g, err := NewGemini(ctx, pool.creds, opts.Model)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		s.Text, s.Startup, s.Events, s.Classification = g, g, g, pool
		s.closers = append(s.closers, g.Close)
	} else if !errors.Is(err, ErrEmptyPool) {
		return nil, err
	}

	return s, nil
}

func (s *Set) Close() {
	for _, c := range s.closers {
		c()
	}
}
