// Package artifact holds the typed, read-only snapshot of one Windows host.
//
// Fields that a collector may emit in a malformed shape (ports, sizes,
// timestamps, counters) are kept as the raw strings found in the snapshot.
// The heuristic that needs a number parses it and treats a parse failure as a
// negative result for that record.
package artifact

// Process is one row of RunningProcesses.csv.
type Process struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	CommandLine string `json:"cmdline,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
	ParentName  string `json:"parent_name,omitempty"`
	UserName    string `json:"user,omitempty"`
	CPU         string `json:"cpu,omitempty"`
	WorkingSet  string `json:"working_set,omitempty"`
}

// Connection is one row of NetworkConnections.csv. ProcessPath is filled by the
// repository from the process table (joined on PID).
type Connection struct {
	RemoteAddress string `json:"remote_addr"`
	RemotePort    string `json:"remote_port"`
	LocalPort     string `json:"local_port"`
	State         string `json:"state"`
	PID           string `json:"pid"`
	ProcessName   string `json:"process_name"`
	Hash          string `json:"sha256,omitempty"`
	TimeCollected string `json:"time_collected,omitempty"`
	ProcessPath   string `json:"process_path,omitempty"`
}

// StartupEntry is a Run/RunOnce style autostart value.
type StartupEntry struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FirewallEvent is a firewall-modification audit event.
type FirewallEvent struct {
	TimeCreated string `json:"time_created"`
	EventID     string `json:"event_id"`
	User        string `json:"user"`
	IPAddress   string `json:"ip_address"`
	Message     string `json:"message"`
}

type ARPEntry struct {
	IPAddress        string `json:"ip_address"`
	LinkLayerAddress string `json:"mac"`
}

type DNSEntry struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Share struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Module is a DLL loaded into a running process.
type Module struct {
	ProcessName string `json:"process_name"`
	Name        string `json:"dll_name"`
	Path        string `json:"dll_path"`
}

type Disk struct {
	Number         string `json:"number"`
	FriendlyName   string `json:"friendly_name"`
	PartitionStyle string `json:"partition_style"`
	Size           string `json:"size"`
}

type Volume struct {
	DriveLetter   string `json:"drive_letter"`
	Label         string `json:"label"`
	FileSystem    string `json:"filesystem"`
	Size          string `json:"size"`
	SizeRemaining string `json:"size_remaining"`
}

// ScheduledTask mirrors the Get-ScheduledTask columns the collector exports.
type ScheduledTask struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Author      string `json:"author"`
	Description string `json:"description"`
}

// Software is an install event from the installed-software inventory.
type Software struct {
	Name        string `json:"name"`
	InstallTime string `json:"install_time"`
	InstalledBy string `json:"installed_by"`
}

type SMBSession struct {
	ClientHost string `json:"client_host"`
	ClientUser string `json:"client_user"`
}

// FileChange is one recently written file.
type FileChange struct {
	FullName      string `json:"full_name"`
	LastWriteTime string `json:"last_write_time"`
	Owner         string `json:"owner,omitempty"`
}

// EventRecord is one event-log row; only the event ID is consumed.
type EventRecord struct {
	ID string `json:"id"`
}
