//go:build windows

package probe

// Windows ACLs don't map to POSIX-style permission bits, so we skip the
// write-access diagnosis on this platform.
func diagnoseWriteAccess(_ string) string {
	return ""
}
