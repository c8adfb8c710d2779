package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Table names a snapshot CSV file.
type Table string

const (
	TableProcesses      Table = "RunningProcesses.csv"
	TableConnections    Table = "NetworkConnections.csv"
	TableStartup        Table = "StartupEntries.csv"
	TableFirewall       Table = "FirewallModificationEvents.csv"
	TableARP            Table = "ARP_Table.csv"
	TableDNS            Table = "DNS_Cache.csv"
	TableEnvironment    Table = "EnvironmentVariables.csv"
	TableShares         Table = "OpenShares.csv"
	TableModules        Table = "LoadedDLLs.csv"
	TableDisks          Table = "DiskInfo.csv"
	TableVolumes        Table = "VolumeInfo.csv"
	TableTasks          Table = "ScheduledTasks.csv"
	TableSoftware       Table = "InstalledSoftware.csv"
	TableSMB            Table = "SmbSessions.csv"
	TableFileChanges    Table = "RecentFileChanges.csv"
	TableAdmins         Table = "AdminUsers.csv"
	TableSecurityLog    Table = "SecurityLogs.csv"
	TableApplicationLog Table = "ApplicationLogs.csv"
	TableSystemLog      Table = "SystemLogs.csv"
)

// required lists the minimum header each table must carry.
var required = map[Table][]string{
	TableProcesses:      {"Id", "Name", "Path", "CommandLine", "StartTime", "ParentProcessName", "UserName"},
	TableConnections:    {"RemoteAddress", "RemotePort", "LocalPort", "State", "PID", "ProcessName", "SHA256Hash", "TimeCollected"},
	TableStartup:        {"Key", "Name", "Value"},
	TableFirewall:       {"TimeCreated", "Id", "SubjectUserName", "IpAddress", "Message"},
	TableARP:            {"IPAddress", "LinkLayerAddress"},
	TableDNS:            {"Name", "Data"},
	TableEnvironment:    {"Name", "Value"},
	TableShares:         {"Name", "Path", "Description"},
	TableModules:        {"ProcessName", "DLLName", "DLLPath"},
	TableDisks:          {"Number", "FriendlyName", "PartitionStyle", "Size"},
	TableVolumes:        {"DriveLetter", "FileSystemLabel", "FileSystem", "Size", "SizeRemaining"},
	TableTasks:          {"TaskName", "TaskPath", "Author", "Description"},
	TableSoftware:       {"Name", "InstallTime", "InstalledBy"},
	TableSMB:            {"ClientComputerName", "ClientUserName"},
	TableFileChanges:    {"FullName", "LastWriteTime"},
	TableAdmins:         {"Name"},
	TableSecurityLog:    {"Id"},
	TableApplicationLog: {"Id"},
	TableSystemLog:      {"Id"},
}

// row gives header-indexed access to one CSV record. Absent columns read as "".
type row struct {
	cols map[string]int
	rec  []string
}

func (r row) get(col string) string {
	i, ok := r.cols[strings.ToLower(col)]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

// LoadDir reads every known table from dir. Missing or malformed tables are
// recorded in Snapshot.Missing and logged; they never fail the load. Only an
// unreadable directory is an error.
func LoadDir(dir string, logger *slog.Logger) (*Repository, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("snapshot directory: %w", err)
	}

	l := &loader{dir: dir, logger: logger, missing: make(map[Table]string)}
	snap := Snapshot{Host: filepath.Base(filepath.Clean(dir))}

	snap.Processes = load(l, TableProcesses, func(r row) Process {
		return Process{
			ID:          r.get("Id"),
			Name:        r.get("Name"),
			Path:        r.get("Path"),
			CommandLine: r.get("CommandLine"),
			StartTime:   r.get("StartTime"),
			ParentName:  r.get("ParentProcessName"),
			UserName:    r.get("UserName"),
			CPU:         r.get("CPU"),
			WorkingSet:  r.get("WorkingSet"),
		}
	})
	snap.Connections = load(l, TableConnections, func(r row) Connection {
		return Connection{
			RemoteAddress: r.get("RemoteAddress"),
			RemotePort:    r.get("RemotePort"),
			LocalPort:     r.get("LocalPort"),
			State:         r.get("State"),
			PID:           r.get("PID"),
			ProcessName:   r.get("ProcessName"),
			Hash:          r.get("SHA256Hash"),
			TimeCollected: r.get("TimeCollected"),
		}
	})
	snap.StartupEntries = load(l, TableStartup, func(r row) StartupEntry {
		return StartupEntry{Key: r.get("Key"), Name: r.get("Name"), Value: r.get("Value")}
	})
	snap.FirewallEvents = load(l, TableFirewall, func(r row) FirewallEvent {
		return FirewallEvent{
			TimeCreated: r.get("TimeCreated"),
			EventID:     r.get("Id"),
			User:        r.get("SubjectUserName"),
			IPAddress:   r.get("IpAddress"),
			Message:     r.get("Message"),
		}
	})
	snap.ARPEntries = load(l, TableARP, func(r row) ARPEntry {
		return ARPEntry{IPAddress: r.get("IPAddress"), LinkLayerAddress: r.get("LinkLayerAddress")}
	})
	snap.DNSEntries = load(l, TableDNS, func(r row) DNSEntry {
		return DNSEntry{Name: r.get("Name"), Data: r.get("Data")}
	})
	snap.EnvVars = load(l, TableEnvironment, func(r row) EnvVar {
		return EnvVar{Name: r.get("Name"), Value: r.get("Value")}
	})
	snap.Shares = load(l, TableShares, func(r row) Share {
		return Share{Name: r.get("Name"), Path: r.get("Path"), Description: r.get("Description")}
	})
	snap.Modules = load(l, TableModules, func(r row) Module {
		return Module{ProcessName: r.get("ProcessName"), Name: r.get("DLLName"), Path: r.get("DLLPath")}
	})
	snap.Disks = load(l, TableDisks, func(r row) Disk {
		return Disk{
			Number:         r.get("Number"),
			FriendlyName:   r.get("FriendlyName"),
			PartitionStyle: r.get("PartitionStyle"),
			Size:           r.get("Size"),
		}
	})
	snap.Volumes = load(l, TableVolumes, func(r row) Volume {
		return Volume{
			DriveLetter:   r.get("DriveLetter"),
			Label:         r.get("FileSystemLabel"),
			FileSystem:    r.get("FileSystem"),
			Size:          r.get("Size"),
			SizeRemaining: r.get("SizeRemaining"),
		}
	})
	snap.ScheduledTasks = load(l, TableTasks, func(r row) ScheduledTask {
		return ScheduledTask{
			Name:        r.get("TaskName"),
			Path:        r.get("TaskPath"),
			Author:      r.get("Author"),
			Description: r.get("Description"),
		}
	})
	snap.Software = load(l, TableSoftware, func(r row) Software {
		return Software{Name: r.get("Name"), InstallTime: r.get("InstallTime"), InstalledBy: r.get("InstalledBy")}
	})
	snap.SMBSessions = load(l, TableSMB, func(r row) SMBSession {
		return SMBSession{ClientHost: r.get("ClientComputerName"), ClientUser: r.get("ClientUserName")}
	})
	snap.FileChanges = load(l, TableFileChanges, func(r row) FileChange {
		return FileChange{FullName: r.get("FullName"), LastWriteTime: r.get("LastWriteTime"), Owner: r.get("Owner")}
	})
	snap.Admins = load(l, TableAdmins, func(r row) string { return r.get("Name") })

	event := func(r row) EventRecord { return EventRecord{ID: r.get("Id")} }
	snap.SecurityEvents = load(l, TableSecurityLog, event)
	snap.ApplicationEvents = load(l, TableApplicationLog, event)
	snap.SystemEvents = load(l, TableSystemLog, event)

	snap.Missing = l.missing
	return NewRepository(snap), nil
}

type loader struct {
	dir     string
	logger  *slog.Logger
	missing map[Table]string
}

func load[T any](l *loader, t Table, decode func(row) T) []T {
	out, err := readTable(filepath.Join(l.dir, string(t)), required[t], decode)
	if err != nil {
		l.missing[t] = err.Error()
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Debug("table not present", "table", t)
		} else {
			l.logger.Warn("table unusable", "table", t, "error", err)
		}
		return nil
	}
	l.logger.Debug("table loaded", "table", t, "rows", len(out))
	return out
}

func readTable[T any](path string, need []string, decode func(row) T) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseTable(f, need, decode)
}

// parseTable reads one table. A leading byte order mark selects UTF-8 or
// UTF-16 and is dropped before the CSV reader sees it; without one the input
// is UTF-8.
func parseTable[T any](src io.Reader, need []string, decode func(row) T) ([]T, error) {
	src = transform.NewReader(src, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	// Windows PowerShell's Export-Csv prepends a type line unless told otherwise.
	if len(header) > 0 && strings.HasPrefix(header[0], "#TYPE") {
		if header, err = r.Read(); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var absent []string
	for _, c := range need {
		if _, ok := cols[strings.ToLower(c)]; !ok {
			absent = append(absent, c)
		}
	}
	if len(absent) > 0 {
		return nil, fmt.Errorf("missing columns %s", strings.Join(absent, ", "))
	}

	var out []T
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(out)+1, err)
		}
		out = append(out, decode(row{cols: cols, rec: rec}))
	}
	return out, nil
}
