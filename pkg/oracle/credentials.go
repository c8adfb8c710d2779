package oracle

import (
	"errors"
	"strings"
)

var ErrEmptyPool = errors.New("credential pool is empty")

// CredentialPool hands out credentials round-robin by call index. Selection is
// stateless: the same index always maps to the same credential, so concurrent
// callers need no coordination.
type CredentialPool struct {
	creds []string
}

// NewCredentialPool keeps the non-blank credentials in order, dropping repeats.
func NewCredentialPool(creds []string) (*CredentialPool, error) {
	seen := make(map[string]struct{}, len(creds))
	p := &CredentialPool{}
	for _, c := range creds {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		p.creds = append(p.creds, c)
	}
	if len(p.creds) == 0 {
		return nil, ErrEmptyPool
	}
	return p, nil
}

// For returns the credential for call index i.
func (p *CredentialPool) For(i int) string {
	n := len(p.creds)
	return p.creds[((i%n)+n)%n]
}

func (p *CredentialPool) Size() int { return len(p.creds) }
