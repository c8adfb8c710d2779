package engine

import (
	"strings"

	"github.com/user/hostsweep/pkg/artifact"
)

const (
	cpuThreshold    = 50.0
	memoryThreshold = 1073741824
)

// SoftwareAnalyzer flags installs by non-admins or outside business hours.
func SoftwareAnalyzer() Analyzer {
	return localAnalyzer[artifact.Software]{
		category: CategorySoftware,
		table:    artifact.TableSoftware,
		records:  (*artifact.Repository).Software,
		subject:  func(s artifact.Software) string { return s.Name },
		check: func(s artifact.Software, repo *artifact.Repository, env *Env) (Finding, bool) {
			installed, ok := parseTime(s.InstallTime)
			by := strings.TrimSpace(s.InstalledBy)
			if !ok || isMissing(by) || strings.EqualFold(by, "unknown") {
				return Finding{}, false
			}

			var rs reasons
			rs.when(!repo.IsAdmin(by), ReasonNonAdminInstall)
			rs.when(!env.Hours.Contains(installed.Hour()), ReasonOutsideHours)
			return flag(CategorySoftware, s.Name, rs,
				Field{"install_time", installed.Format("2006-01-02 15:04:05")}, Field{"installed_by", by})
		},
	}
}

// ResourceUsageAnalyzer flags processes over the CPU or memory threshold.
func ResourceUsageAnalyzer() Analyzer {
	return localAnalyzer[artifact.Process]{
		category: CategoryResourceUsage,
		table:    artifact.TableProcesses,
		records:  (*artifact.Repository).Processes,
		subject:  func(p artifact.Process) string { return p.Name + " (" + p.ID + ")" },
		check: func(p artifact.Process, _ *artifact.Repository, _ *Env) (Finding, bool) {
			var rs reasons
			if cpu, ok := parseFloat(p.CPU); ok && cpu > cpuThreshold {
				rs.add(ReasonHighCPU)
			}
			if ws, ok := parseFloat(p.WorkingSet); ok && ws > memoryThreshold {
				rs.add(ReasonHighMemory)
			}
			return flag(CategoryResourceUsage, p.Name, rs,
				Field{"id", p.ID}, Field{"cpu", p.CPU}, Field{"working_set", p.WorkingSet})
		},
	}
}
