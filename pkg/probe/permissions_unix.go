//go:build !windows

package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// diagnoseWriteAccess explains why the current user would be denied write
// access to path. It only annotates journal records; the probe surface stays
// fail-open either way. Returns "" when no POSIX-level cause is found.
func diagnoseWriteAccess(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		// The file does not exist yet: creation depends on the parent.
		dir := filepath.Dir(path)
		dirInfo, dirErr := os.Stat(dir)
		if dirErr != nil {
			return fmt.Sprintf("parent directory %s unavailable", dir)
		}
		if msg := writeBitDiagnosis(dir, dirInfo); msg != "" {
			return msg
		}
		return ""
	}

	return writeBitDiagnosis(path, info)
}

func writeBitDiagnosis(path string, info os.FileInfo) string {
	perms := info.Mode().Perm()

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ""
	}

	fileUID := int(stat.Uid)
	fileGID := int(stat.Gid)
	euid := os.Geteuid()
	egid := os.Getegid()

	if fileUID == euid {
		if perms&0o200 == 0 {
			return fmt.Sprintf("owner has no write bit on %s", path)
		}
		return ""
	}

	if fileGID == egid {
		if perms&0o020 == 0 {
			return fmt.Sprintf("group has no write bit on %s", path)
		}
		return ""
	}

	if perms&0o002 == 0 {
		return fmt.Sprintf("others have no write bit on %s", path)
	}

	return ""
}
