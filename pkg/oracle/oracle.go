// Package oracle defines the external reputation and classification services
// the engine consults, the credential pool that spreads calls across API keys,
// and the VirusTotal and Gemini clients that implement them.
package oracle

import (
	"context"
	"encoding/json"
	"strings"
)

// Verdict is an IP-reputation answer.
type Verdict string

const (
	Malicious  Verdict = "malicious"
	Suspicious Verdict = "suspicious"
	Benign     Verdict = "benign"
	Unknown    Verdict = "unknown"

	// Unavailable marks a lookup that was not made or failed. It carries no weight.
	Unavailable Verdict = "unavailable"
)

// HashVerdict is a file-hash reputation answer.
type HashVerdict struct {
	Malicious bool
	Message   string
}

// EventLog names the log an event-ID batch was drawn from.
type EventLog string

const (
	SecurityLog    EventLog = "security"
	ApplicationLog EventLog = "application"
	SystemLog      EventLog = "system"
)

type IPReputation interface {
	CheckIP(ctx context.Context, ip, credential string) (Verdict, error)
}

type HashReputation interface {
	CheckHash(ctx context.Context, digest, credential string) (HashVerdict, error)
}

// TextClassifier labels free text such as a firewall audit message. The
// returned string is compared with IsSuspicious.
type TextClassifier interface {
	ClassifyText(ctx context.Context, credential, text string) (string, error)
}

type StartupClassifier interface {
	ClassifyStartup(ctx context.Context, credential, key, name, value string) (string, error)
}

// EventClassifier annotates a batch of event IDs. The payload is opaque to the
// engine and is passed through to the report unchanged.
type EventClassifier interface {
	ClassifyEvents(ctx context.Context, credential string, log EventLog, ids []int) (json.RawMessage, error)
}

// IsSuspicious reports whether a classifier answer means "suspicious".
func IsSuspicious(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), string(Suspicious))
}

// Set bundles the oracles of one run with the credential pools they draw from.
// A nil oracle means the service is not configured.
type Set struct {
	IP      IPReputation
	Hash    HashReputation
	Text    TextClassifier
	Startup StartupClassifier
	Events  EventClassifier

	// Reputation feeds IP and Hash; Classification feeds the rest.
	Reputation     *CredentialPool
	Classification *CredentialPool

	closers []func()
}
