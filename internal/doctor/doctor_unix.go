//go:build linux || darwin

package doctor

import (
	"fmt"
	"syscall"
)

// The audit log is the only thing that grows steadily under the config
// dir, so the thresholds are modest.
const (
	diskFailMB = 100
	diskWarnMB = 500
)

func checkDiskSpace(cfgDir string) Result {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(cfgDir, &fs); err != nil {
		return warn("Disk space", "unable to check", "")
	}

	freeMB := fs.Bavail * uint64(fs.Bsize) / (1024 * 1024)
	detailGB := fmt.Sprintf("%.1f GB free", float64(freeMB)/1024.0)

	switch {
	case freeMB < diskFailMB:
		return fail("Disk space", fmt.Sprintf("%d MB free", freeMB), "Free up space in ~/.wardclaw/")
	case freeMB < diskWarnMB:
		return warn("Disk space", detailGB+" (low)", "Consider freeing disk space")
	}
	return pass("Disk space", detailGB)
}
