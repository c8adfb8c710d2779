package engine

import (
	"strings"

	"github.com/user/hostsweep/pkg/artifact"
)

const (
	gib = int64(1) << 30
	tib = int64(1) << 40
	mib = int64(1) << 20

	minDiskSize   = 1 * gib
	maxDiskSize   = 10 * tib
	minVolumeSize = 100 * mib
	maxVolumeSize = 10 * tib
	minFreeSpace  = 0.1
)

var (
	removableDiskKeywords = []string{"usb", "jmicron", "sd", "external", "backup", "virtual", "vhd"}
	suspiciousLabels      = []string{"recovery", "system", "temp", "backup", "cache", "reserved", "unknown", "new volume", "windows"}
)

func DiskAnalyzer() Analyzer {
	return localAnalyzer[artifact.Disk]{
		category: CategoryDisks,
		table:    artifact.TableDisks,
		records:  (*artifact.Repository).Disks,
		subject:  func(d artifact.Disk) string { return d.Number },
		check: func(d artifact.Disk, _ *artifact.Repository, _ *Env) (Finding, bool) {
			style := strings.ToUpper(strings.TrimSpace(d.PartitionStyle))
			name := strings.TrimSpace(d.FriendlyName)

			var rs reasons
			rs.when(style == "RAW", ReasonRawPartition)
			if size, ok := parseInt(d.Size); ok {
				switch {
				case size < minDiskSize:
					rs.add(ReasonSmallDisk)
				case size > maxDiskSize:
					rs.add(ReasonLargeDisk)
				}
			}
			rs.when(containsAny(strings.ToLower(name), removableDiskKeywords), ReasonRemovableDisk)
			return flag(CategoryDisks, name, rs,
				Field{"number", d.Number}, Field{"size", d.Size}, Field{"partition_style", style})
		},
	}
}

func VolumeAnalyzer() Analyzer {
	return localAnalyzer[artifact.Volume]{
		category: CategoryVolumes,
		table:    artifact.TableVolumes,
		records:  (*artifact.Repository).Volumes,
		subject:  func(v artifact.Volume) string { return v.DriveLetter + v.Label },
		check: func(v artifact.Volume, _ *artifact.Repository, _ *Env) (Finding, bool) {
			drive := strings.TrimSpace(v.DriveLetter)
			label := strings.ToLower(strings.TrimSpace(v.Label))

			var rs reasons
			rs.when(isMissing(drive), ReasonNoDriveLetter)
			rs.when(containsAny(label, suspiciousLabels), ReasonVolumeLabel)

			size, sizeOK := parseInt(v.Size)
			if sizeOK {
				switch {
				case size < minVolumeSize:
					rs.add(ReasonSmallVolume)
				case size > maxVolumeSize:
					rs.add(ReasonLargeVolume)
				}
			}
			if free, ok := parseInt(v.SizeRemaining); ok && sizeOK && size > 0 {
				rs.when(float64(free)/float64(size) < minFreeSpace, ReasonLowFreeSpace)
			}

			subject := drive
			if subject == "" {
				subject = label
			}
			return flag(CategoryVolumes, subject, rs,
				Field{"label", label},
				Field{"filesystem", strings.ToUpper(strings.TrimSpace(v.FileSystem))},
				Field{"size", v.Size},
				Field{"free", v.SizeRemaining})
		},
	}
}
