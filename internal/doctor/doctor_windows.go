//go:build windows

package doctor

func checkDiskSpace(cfgDir string) Result {
	// No Statfs equivalent wired up on Windows yet.
	return pass("Disk space", "not checked on Windows")
}
