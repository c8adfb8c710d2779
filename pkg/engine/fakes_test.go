package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/hostsweep/pkg/artifact"
	"github.com/user/hostsweep/pkg/logging"
	"github.com/user/hostsweep/pkg/oracle"
)

var errOracleDown = errors.New("oracle down")

type fakeIP struct {
	verdict oracle.Verdict
	err     error

	mu    sync.Mutex
	calls []string
	creds map[string]int
}

func (f *fakeIP) CheckIP(_ context.Context, ip, credential string) (oracle.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ip)
	if f.creds == nil {
		f.creds = make(map[string]int)
	}
	f.creds[credential]++
	if f.err != nil {
		return oracle.Unavailable, f.err
	}
	return f.verdict, nil
}

// fakeHash answers from a digest table. When malicious is set on a digest the
// answer flips to malicious from the flipAfter-th call on.
type fakeHash struct {
	malicious map[string]bool
	flipAfter int
	err       error

	mu    sync.Mutex
	calls int
}

func (f *fakeHash) CheckHash(_ context.Context, digest, _ string) (oracle.HashVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return oracle.HashVerdict{}, f.err
	}
	if f.malicious[digest] && f.calls > f.flipAfter {
		return oracle.HashVerdict{Malicious: true, Message: "5/70 engines flagged this file"}, nil
	}
	return oracle.HashVerdict{Message: "clean (70 engines)"}, nil
}

type fakeClassifier struct {
	// suspicious lists substrings whose presence makes the answer "suspicious".
	suspicious []string
	err        error

	mu    sync.Mutex
	seen  []string
	creds []string
}

func (f *fakeClassifier) answer(credential, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, text)
	f.creds = append(f.creds, credential)
	if f.err != nil {
		return "", f.err
	}
	if containsAny(text, f.suspicious) {
		return "Suspicious\n", nil
	}
	return "benign", nil
}

func (f *fakeClassifier) ClassifyText(_ context.Context, credential, text string) (string, error) {
	return f.answer(credential, text)
}

func (f *fakeClassifier) ClassifyStartup(_ context.Context, credential, key, name, value string) (string, error) {
	return f.answer(credential, strings.Join([]string{key, name, value}, "|"))
}

type fakeEvents struct {
	payload json.RawMessage
	err     error

	mu         sync.Mutex
	log        oracle.EventLog
	ids        []int
	credential string
}

func (f *fakeEvents) ClassifyEvents(_ context.Context, credential string, log oracle.EventLog, ids []int) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log, f.ids, f.credential = log, ids, credential
	return f.payload, f.err
}

// fakeFS serves file contents by path; everything else does not exist.
func fakeFS(files map[string]string) func(string) (io.ReadCloser, error) {
	return func(path string) (io.ReadCloser, error) {
		body, ok := files[path]
		if !ok {
			return nil, fs.ErrNotExist
		}
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

var testNow = time.Date(2024, 3, 5, 14, 0, 0, 0, time.Local)

func testEnv(set *oracle.Set) *Env {
	if set == nil {
		set = &oracle.Set{}
	}
	return &Env{
		Oracles: set,
		Hours:   BusinessHours{Open: 8, Close: 18},
		Workers: 4,
		Now:     func() time.Time { return testNow },
		Open:    fakeFS(nil),
		Logger:  logging.Discard(),
	}
}

func mustPool(keys ...string) *oracle.CredentialPool {
	p, err := oracle.NewCredentialPool(keys)
	if err != nil {
		panic(err)
	}
	return p
}

func analyze(a Analyzer, snap artifact.Snapshot, env *Env) Result {
	res, err := a.Analyze(context.Background(), artifact.NewRepository(snap), env)
	if err != nil {
		panic(err)
	}
	sortFindings(res.Findings)
	return res
}

func sortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].Subject < fs[j].Subject })
}

func codes(f Finding) []ReasonCode {
	out := make([]ReasonCode, len(f.Reasons))
	for i, r := range f.Reasons {
		out[i] = r.Code
	}
	return out
}
