package artifact

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// SystemAccount is always treated as an administrator.
const SystemAccount = `NT AUTHORITY\SYSTEM`

// ErrTableMissing is returned when a category's source table is absent, empty,
// or lacks its required columns.
var ErrTableMissing = errors.New("table unavailable")

// Snapshot is the raw material a Repository is built from. The CSV loader fills
// it from disk; tests build it by hand.
type Snapshot struct {
	Host string

	Processes         []Process
	Connections       []Connection
	StartupEntries    []StartupEntry
	FirewallEvents    []FirewallEvent
	ARPEntries        []ARPEntry
	DNSEntries        []DNSEntry
	EnvVars           []EnvVar
	Shares            []Share
	Modules           []Module
	Disks             []Disk
	Volumes           []Volume
	ScheduledTasks    []ScheduledTask
	Software          []Software
	SMBSessions       []SMBSession
	FileChanges       []FileChange
	SecurityEvents    []EventRecord
	ApplicationEvents []EventRecord
	SystemEvents      []EventRecord

	// Admins is the roster from AdminUsers.csv.
	Admins []string

	// Missing records why a table could not be loaded (file absent, bad header).
	Missing map[Table]string
}

// Repository is an immutable, per-run view over a Snapshot. Accessors return
// copies, so analyzers can never alter what another analyzer sees.
type Repository struct {
	snap        Snapshot
	connections []Connection
	byName      map[string]Process
	admins      map[string]struct{}
}

// NewRepository builds a repository and resolves cross-references: each
// connection gets the executable path of the process with the same PID.
func NewRepository(snap Snapshot) *Repository {
	r := &Repository{
		snap:   snap,
		byName: make(map[string]Process, len(snap.Processes)),
		admins: make(map[string]struct{}, len(snap.Admins)+1),
	}

	paths := make(map[string]string, len(snap.Processes))
	for _, p := range snap.Processes {
		pid := strings.TrimSpace(p.ID)
		if _, seen := paths[pid]; !seen {
			paths[pid] = p.Path
		}
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if _, seen := r.byName[name]; !seen && name != "" {
			r.byName[name] = p
		}
	}

	r.connections = make([]Connection, len(snap.Connections))
	for i, c := range snap.Connections {
		c.ProcessPath = paths[strings.TrimSpace(c.PID)]
		r.connections[i] = c
	}

	for _, a := range snap.Admins {
		if a = strings.TrimSpace(a); a != "" {
			r.admins[a] = struct{}{}
		}
	}
	r.admins[SystemAccount] = struct{}{}

	return r
}

// Host returns the host name the snapshot was taken from.
func (r *Repository) Host() string { return r.snap.Host }

// Check reports whether a table can be analyzed.
func (r *Repository) Check(t Table) error {
	if reason, ok := r.snap.Missing[t]; ok {
		return fmt.Errorf("%s: %w: %s", t, ErrTableMissing, reason)
	}
	if t == TableConnections && len(r.snap.Connections) > 0 && len(r.snap.Processes) == 0 {
		return fmt.Errorf("%s: %w: process table required to resolve paths", t, ErrTableMissing)
	}
	if r.rows(t) == 0 {
		return fmt.Errorf("%s: %w: no rows", t, ErrTableMissing)
	}
	return nil
}

func (r *Repository) rows(t Table) int {
	switch t {
	case TableProcesses:
		return len(r.snap.Processes)
	case TableConnections:
		return len(r.snap.Connections)
	case TableStartup:
		return len(r.snap.StartupEntries)
	case TableFirewall:
		return len(r.snap.FirewallEvents)
	case TableARP:
		return len(r.snap.ARPEntries)
	case TableDNS:
		return len(r.snap.DNSEntries)
	case TableEnvironment:
		return len(r.snap.EnvVars)
	case TableShares:
		return len(r.snap.Shares)
	case TableModules:
		return len(r.snap.Modules)
	case TableDisks:
		return len(r.snap.Disks)
	case TableVolumes:
		return len(r.snap.Volumes)
	case TableTasks:
		return len(r.snap.ScheduledTasks)
	case TableSoftware:
		return len(r.snap.Software)
	case TableSMB:
		return len(r.snap.SMBSessions)
	case TableFileChanges:
		return len(r.snap.FileChanges)
	case TableAdmins:
		return len(r.snap.Admins)
	case TableSecurityLog:
		return len(r.snap.SecurityEvents)
	case TableApplicationLog:
		return len(r.snap.ApplicationEvents)
	case TableSystemLog:
		return len(r.snap.SystemEvents)
	}
	return 0
}

func (r *Repository) Processes() []Process           { return slices.Clone(r.snap.Processes) }
func (r *Repository) Connections() []Connection      { return slices.Clone(r.connections) }
func (r *Repository) StartupEntries() []StartupEntry { return slices.Clone(r.snap.StartupEntries) }
func (r *Repository) FirewallEvents() []FirewallEvent {
	return slices.Clone(r.snap.FirewallEvents)
}
func (r *Repository) ARPEntries() []ARPEntry           { return slices.Clone(r.snap.ARPEntries) }
func (r *Repository) DNSEntries() []DNSEntry           { return slices.Clone(r.snap.DNSEntries) }
func (r *Repository) EnvVars() []EnvVar                { return slices.Clone(r.snap.EnvVars) }
func (r *Repository) Shares() []Share                  { return slices.Clone(r.snap.Shares) }
func (r *Repository) Modules() []Module                { return slices.Clone(r.snap.Modules) }
func (r *Repository) Disks() []Disk                    { return slices.Clone(r.snap.Disks) }
func (r *Repository) Volumes() []Volume                { return slices.Clone(r.snap.Volumes) }
func (r *Repository) ScheduledTasks() []ScheduledTask  { return slices.Clone(r.snap.ScheduledTasks) }
func (r *Repository) Software() []Software             { return slices.Clone(r.snap.Software) }
func (r *Repository) SMBSessions() []SMBSession        { return slices.Clone(r.snap.SMBSessions) }
func (r *Repository) FileChanges() []FileChange        { return slices.Clone(r.snap.FileChanges) }
func (r *Repository) SecurityEvents() []EventRecord    { return slices.Clone(r.snap.SecurityEvents) }
func (r *Repository) ApplicationEvents() []EventRecord { return slices.Clone(r.snap.ApplicationEvents) }
func (r *Repository) SystemEvents() []EventRecord      { return slices.Clone(r.snap.SystemEvents) }

// EventLog returns the rows of one of the three event-log tables.
func (r *Repository) EventLog(t Table) []EventRecord {
	switch t {
	case TableSecurityLog:
		return r.SecurityEvents()
	case TableApplicationLog:
		return r.ApplicationEvents()
	case TableSystemLog:
		return r.SystemEvents()
	}
	return nil
}

// ProcessByName finds a running process by image name, case-insensitively.
func (r *Repository) ProcessByName(name string) (Process, bool) {
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// IsRunning reports whether any running process has the given image name.
func (r *Repository) IsRunning(name string) bool {
	_, ok := r.ProcessByName(name)
	return ok
}

// IsAdmin reports whether user is on the admin roster. The system account
// always is.
func (r *Repository) IsAdmin(user string) bool {
	_, ok := r.admins[strings.TrimSpace(user)]
	return ok
}
