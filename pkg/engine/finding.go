package engine

import (
	"github.com/user/hostsweep/pkg/oracle"
)

// Category names the artifact family an analyzer covers.
type Category string

const (
	CategoryProcess        Category = "process"
	CategoryConnection     Category = "connection"
	CategoryLateral        Category = "lateral_movement"
	CategoryStartup        Category = "startup"
	CategoryFirewall       Category = "firewall"
	CategoryTasks          Category = "scheduled_task"
	CategoryFileChanges    Category = "file_change"
	CategoryARP            Category = "arp"
	CategoryDNS            Category = "dns"
	CategoryEnvironment    Category = "environment"
	CategoryShares         Category = "share"
	CategoryModules        Category = "module"
	CategoryDisks          Category = "disk"
	CategoryVolumes        Category = "volume"
	CategorySoftware       Category = "software"
	CategoryResourceUsage  Category = "resource_usage"
	CategorySMB            Category = "smb_session"
	CategorySecurityLog    Category = "security_log"
	CategoryApplicationLog Category = "application_log"
	CategorySystemLog      Category = "system_log"
)

// ReasonCode is a stable tag for one heuristic trigger.
type ReasonCode string

const (
	// process
	ReasonPathMissing        ReasonCode = "Path does not exist"
	ReasonFileReadError      ReasonCode = "File read error"
	ReasonRandomName         ReasonCode = "Random-looking name"
	ReasonNonStandardPath    ReasonCode = "Non-standard path"
	ReasonRecentlyStarted    ReasonCode = "Recently started process"
	ReasonSuspiciousParent   ReasonCode = "Suspicious parent process"
	ReasonParentChild        ReasonCode = "Suspicious parent-child pattern"
	ReasonBase64Command      ReasonCode = "Base64 command line"
	ReasonHighEntropyCommand ReasonCode = "High entropy command (likely obfuscated)"
	ReasonMaliciousFileHash  ReasonCode = "Malicious file hash"
	ReasonHashRecheck        ReasonCode = "Hash reputation recheck"

	// connection
	ReasonMaliciousIP     ReasonCode = "Malicious IP reputation"
	ReasonUnusualPort     ReasonCode = "Unusual port used"
	ReasonMaliciousHash   ReasonCode = "Malicious process hash"
	ReasonAbnormalPort    ReasonCode = "Abnormal port for process"
	ReasonMissingPath     ReasonCode = "Missing process path"
	ReasonOffHours        ReasonCode = "Connection observed off-hours"
	ReasonLateralMovement ReasonCode = "Possible lateral movement (internal service port)"

	// oracle-classified
	ReasonSuspiciousStartup ReasonCode = "Classified suspicious"
	ReasonSuspiciousContent ReasonCode = "Suspicious content"
	ReasonNonAdminChange    ReasonCode = "Non-admin change"

	ReasonTaskCommand   ReasonCode = "Suspicious command in task description"
	ReasonRiskyExt      ReasonCode = "Risky file extension"
	ReasonRiskyDir      ReasonCode = "Risky directory"
	ReasonZeroMAC       ReasonCode = "Zero MAC address with multiple IPs (possibly unresolved entries)"
	ReasonDuplicateMAC  ReasonCode = "Suspicious duplicate MAC address"
	ReasonDomainLength  ReasonCode = "Domain too long"
	ReasonKeyword       ReasonCode = "Contains known malicious keyword"
	ReasonSuspiciousTLD ReasonCode = "Suspicious TLD"
	ReasonDomainEntropy ReasonCode = "High entropy domain (potential DGA)"
	ReasonManyDigits    ReasonCode = "Excessive numeric characters"
	ReasonPunycode      ReasonCode = "Punycode domain (possible homograph attack)"
	ReasonUnusualChars  ReasonCode = "Contains unusual characters"

	ReasonEnvExecutable    ReasonCode = "Non-standard variable pointing to executable"
	ReasonHiddenDirectory  ReasonCode = "Points to hidden or uncommon directory"
	ReasonBinaryDirectory  ReasonCode = "Contains potential binary directory"
	ReasonPathTraversal    ReasonCode = "Potential path traversal"
	ReasonDefaultShare     ReasonCode = "Default or administrative share"
	ReasonSensitiveDir     ReasonCode = "Exposes potentially sensitive directory"
	ReasonPublicShare      ReasonCode = "Potentially insecure share (public access)"
	ReasonAnonymousIPC     ReasonCode = "Anonymous access (potential security risk)"
	ReasonSensitiveService ReasonCode = "Exposes potentially sensitive service"
	ReasonModulePath       ReasonCode = "Loaded from non-standard path"

	ReasonRawPartition  ReasonCode = "RAW partition style (unformatted)"
	ReasonSmallDisk     ReasonCode = "Unusually small disk size (< 1GB)"
	ReasonLargeDisk     ReasonCode = "Unusually large disk size (> 10TB)"
	ReasonRemovableDisk ReasonCode = "Potentially removable or external drive"
	ReasonNoDriveLetter ReasonCode = "No drive letter assigned"
	ReasonVolumeLabel   ReasonCode = "Suspicious or temporary volume label"
	ReasonSmallVolume   ReasonCode = "Unusually small volume size (< 100MB)"
	ReasonLargeVolume   ReasonCode = "Unusually large volume size (> 10TB)"
	ReasonLowFreeSpace  ReasonCode = "Low free space (< 10%)"

	ReasonNonAdminInstall ReasonCode = "Non-admin user"
	ReasonOutsideHours    ReasonCode = "Outside business hours"
	ReasonHighCPU         ReasonCode = "High CPU usage"
	ReasonHighMemory      ReasonCode = "High memory usage"

	ReasonExternalClient    ReasonCode = "External IP address"
	ReasonGuestUser         ReasonCode = "Guest or suspicious username"
	ReasonMaliciousUsername ReasonCode = "Known malicious username pattern"
	ReasonRandomUsername    ReasonCode = "Unusually long or random username"
)

// Reason is one triggered heuristic with optional detail, e.g. the port that
// was judged unusual.
type Reason struct {
	Code   ReasonCode `json:"code"`
	Detail string     `json:"detail,omitempty"`
}

func (r Reason) String() string {
	if r.Detail == "" {
		return string(r.Code)
	}
	return string(r.Code) + " (" + r.Detail + ")"
}

// Field is one identifying attribute of the record behind a finding.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Finding is a flagged artifact. Reasons is never empty.
type Finding struct {
	Category Category `json:"category"`
	Subject  string   `json:"subject"`
	Fields   []Field  `json:"fields,omitempty"`
	Reasons  []Reason `json:"reasons"`
	Severity Severity `json:"severity,omitempty"`

	// IPReputation is set on connection findings.
	IPReputation oracle.Verdict `json:"ip_reputation,omitempty"`
	// Classification is the raw classifier answer for oracle-classified categories.
	Classification string `json:"classification,omitempty"`
}

// HasReason reports whether the finding carries code.
func (f Finding) HasReason(code ReasonCode) bool {
	for _, r := range f.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

// Field returns the value of the named identifying field.
func (f Finding) Field(name string) string {
	for _, fl := range f.Fields {
		if fl.Name == name {
			return fl.Value
		}
	}
	return ""
}

// reasons accumulates reasons for one record.
type reasons []Reason

func (rs *reasons) add(code ReasonCode) { *rs = append(*rs, Reason{Code: code}) }

func (rs *reasons) addf(code ReasonCode, detail string) {
	*rs = append(*rs, Reason{Code: code, Detail: detail})
}

func (rs *reasons) when(cond bool, code ReasonCode) {
	if cond {
		rs.add(code)
	}
}
