//go:build unix

// Package dupfd duplicates one descriptor onto another.
package dupfd

// Dup2 makes targetFD refer to the same open file as sourceFD, closing
// whatever targetFD referred to before. The close and the reopen happen
// atomically, so targetFD is never observed as closed. The resulting
// descriptor is inherited across exec.
func Dup2(sourceFD, targetFD int) error {
	if sourceFD == targetFD {
		return nil
	}
	return dup2(sourceFD, targetFD)
}
