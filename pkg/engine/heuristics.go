package engine

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// knownLegitNames are Windows process names (lower case, no extension) that
// are never considered random-looking.
var knownLegitNames = toSet(
	"tcpsvcs", "svchost", "services", "lsass", "wininit", "explorer", "csrss", "smss", "winlogon",
	"dwm", "conhost", "taskhostw", "msmpeng", "spoolsv", "dllhost", "wuauclt", "msdtc", "audiodg",
	"sihost", "ctfmon", "searchindexer", "runtimebroker", "backgroundtransferhost", "fontdrvhost",
	"securityhealthservice", "wlanext", "wlms", "wbengine", "wermgr", "werfault", "wscsvc", "wmpnetwk",
	"wudfhost", "wuauserv", "trustedinstaller", "tiworker", "taskmgr", "system", "idle", "msiexec",
	"regsvr32", "rundll32", "notepad", "calc", "mspaint", "defrag", "chkdsk", "sfc", "diskperf",
	"eventvwr", "logonui", "userinit", "vssvc", "sdclt", "mobsync", "igfxtray", "hkcmd", "igfxpers",
	"soundmixer", "rdpclip", "mstsc", "tskmgr", "perfmon", "resmon", "mmc", "comsurrogate", "sdiagnhost",
)

var standardPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^C:/Windows/System32`),
	regexp.MustCompile(`(?i)^C:/Program Files`),
	regexp.MustCompile(`(?i)^C:/Program Files \(x86\)`),
	regexp.MustCompile(`(?i)^C:/Users/.*/AppData/Local`),
}

// startTimeLayouts are tried in order when parsing collector timestamps.
var startTimeLayouts = []string{
	"1/2/2006 3:04:05 PM",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"1/2/2006 15:04:05",
	"2006-01-02",
	"20060102",
}

func toSet(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, s := range items {
		m[s] = struct{}{}
	}
	return m
}

func inSet(m map[string]struct{}, s string) bool {
	_, ok := m[s]
	return ok
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// normalizeName lower-cases a process name and drops ".exe".
func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), ".exe", "")
}

// uniqueness is the share of distinct characters in s.
func uniqueness(s string) float64 {
	rs := []rune(s)
	if len(rs) == 0 {
		return 0
	}
	seen := make(map[rune]struct{}, len(rs))
	for _, r := range rs {
		seen[r] = struct{}{}
	}
	return float64(len(seen)) / float64(len(rs))
}

// isRandomName reports whether a process name looks machine-generated.
func isRandomName(name string) bool {
	n := normalizeName(name)
	if inSet(knownLegitNames, n) || len([]rune(n)) < 5 {
		return false
	}
	var vowels, digits bool
	for _, r := range n {
		switch {
		case strings.ContainsRune("aeiou", r):
			vowels = true
		case unicode.IsDigit(r):
			digits = true
		case !unicode.IsLetter(r):
			return false
		}
	}
	return uniqueness(n) > 0.8 && (!vowels || digits)
}

func isStandardPath(path string) bool {
	p := strings.ReplaceAll(path, `\`, "/")
	for _, re := range standardPathPatterns {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// shannonEntropy is the entropy in bits per character of s.
func shannonEntropy(s string) float64 {
	rs := []rune(s)
	if len(rs) == 0 {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range rs {
		counts[r]++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(len(rs))
		h -= p * math.Log2(p)
	}
	return h
}

func parsePort(s string) (int, bool) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return p, true
}

func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseTime accepts the timestamp shapes the collector emits. Times without a
// zone are read as local time.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range startTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// winExt returns the lower-cased extension of a Windows or POSIX path.
func winExt(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `\/`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return strings.ToLower(base[i:])
	}
	return ""
}

// isMissing reports whether a collector field is effectively empty.
func isMissing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "none":
		return true
	}
	return false
}
