package engine

import (
	"fmt"
	"strings"

	"github.com/user/hostsweep/pkg/oracle"
)

// Severity is ordinal. The zero value means severity was not computed.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return ""
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = SeverityNone
		return nil
	}
	for sev, name := range severityNames {
		if strings.EqualFold(name, string(b)) {
			*s = sev
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", b)
}

type weightClass int

const (
	classNone weightClass = iota
	classMalicious
	classAbnormal
	classOffHours
	classMissingPath
)

var classWeight = map[weightClass]int{
	classMalicious:   3,
	classAbnormal:    2,
	classOffHours:    1,
	classMissingPath: 1,
}

// reasonClass assigns scoring weight to the reasons that carry any.
var reasonClass = map[ReasonCode]weightClass{
	ReasonMaliciousIP:       classMalicious,
	ReasonMaliciousHash:     classMalicious,
	ReasonMaliciousFileHash: classMalicious,
	ReasonAbnormalPort:      classAbnormal,
	ReasonOffHours:          classOffHours,
	ReasonMissingPath:       classMissingPath,
}

// Score maps a finding's reasons and its IP-reputation verdict to a severity.
// It depends only on its arguments, not on reason order.
func Score(rs []Reason, ip oracle.Verdict) Severity {
	n := score(rs, ip)
	switch {
	case n >= 6:
		return SeverityCritical
	case n >= 4:
		return SeverityHigh
	case n >= 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func score(rs []Reason, ip oracle.Verdict) int {
	n := 0
	switch ip {
	case oracle.Malicious:
		n += 3
	case oracle.Unknown:
		n++
	}
	for _, r := range rs {
		n += classWeight[reasonClass[r.Code]]
	}
	return n
}
