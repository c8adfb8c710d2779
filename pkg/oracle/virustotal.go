package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const virusTotalURL = "https://www.virustotal.com/api/v3"

var ErrUnexpectedStatus = errors.New("unexpected status")

// VirusTotal implements IPReputation and HashReputation against the v3 API.
// Each API key gets its own limiter so one busy key never starves another.
type VirusTotal struct {
	baseURL string
	client  *http.Client
	limit   rate.Limit
	burst   int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type VirusTotalOption func(*VirusTotal)

func WithBaseURL(u string) VirusTotalOption {
	return func(v *VirusTotal) { v.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) VirusTotalOption {
	return func(v *VirusTotal) { v.client = c }
}

// WithRateLimit sets the per-key request rate. The public API allows four
// requests a minute.
func WithRateLimit(r rate.Limit, burst int) VirusTotalOption {
	return func(v *VirusTotal) { v.limit, v.burst = r, burst }
}

func NewVirusTotal(opts ...VirusTotalOption) *VirusTotal {
	v := &VirusTotal{
		baseURL:  virusTotalURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		limit:    rate.Every(15 * time.Second),
		burst:    4,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

type analysisStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
}

func (s analysisStats) total() int {
	return s.Malicious + s.Suspicious + s.Harmless + s.Undetected
}

type objectResponse struct {
	Data struct {
		Attributes struct {
			Stats analysisStats `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

func (v *VirusTotal) CheckIP(ctx context.Context, ip, credential string) (Verdict, error) {
	stats, found, err := v.lookup(ctx, "ip_addresses/"+url.PathEscape(ip), credential)
	if err != nil {
		return Unavailable, err
	}
	switch {
	case !found:
		return Unknown, nil
	case stats.Malicious > 0:
		return Malicious, nil
	case stats.Suspicious > 0:
		return Suspicious, nil
	case stats.Harmless > 0:
		return Benign, nil
	default:
		return Unknown, nil
	}
}

func (v *VirusTotal) CheckHash(ctx context.Context, digest, credential string) (HashVerdict, error) {
	digest = strings.ToLower(strings.TrimSpace(digest))
	if digest == "" {
		return HashVerdict{}, errors.New("empty digest")
	}
	stats, found, err := v.lookup(ctx, "files/"+url.PathEscape(digest), credential)
	if err != nil {
		return HashVerdict{}, err
	}
	if !found {
		return HashVerdict{Message: "hash not found"}, nil
	}
	if stats.Malicious > 0 {
		return HashVerdict{
			Malicious: true,
			Message:   fmt.Sprintf("%d/%d engines flagged this file", stats.Malicious, stats.total()),
		}, nil
	}
	return HashVerdict{Message: fmt.Sprintf("clean (%d engines)", stats.total())}, nil
}

// lookup fetches one object's analysis stats. found is false on 404.
func (v *VirusTotal) lookup(ctx context.Context, path, credential string) (analysisStats, bool, error) {
	if err := v.limiter(credential).Wait(ctx); err != nil {
		return analysisStats{}, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/"+path, nil)
	if err != nil {
		return analysisStats{}, false, err
	}
	req.Header.Set("x-apikey", credential)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return analysisStats{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return analysisStats{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return analysisStats{}, false, fmt.Errorf("virustotal %s: %w: %s", path, ErrUnexpectedStatus, resp.Status)
	}

	var out objectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return analysisStats{}, false, fmt.Errorf("decode virustotal response: %w", err)
	}
	return out.Data.Attributes.Stats, true, nil
}

func (v *VirusTotal) limiter(credential string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.limiters[credential]
	if !ok {
		l = rate.NewLimiter(v.limit, v.burst)
		v.limiters[credential] = l
	}
	return l
}
