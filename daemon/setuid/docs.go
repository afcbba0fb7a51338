// Package setuid changes the UID and GID of the current process on *nix
// systems.
//
// This is somewhat harder than it seems. Linux has a non-compliant
// implementation of setuid(2) which only changes the UID of the current
// thread, not the whole process. glibc's wrapper dispatches the call to every
// thread, and so does the Go runtime for the syscall package's set*id
// functions, which golang.org/x/sys/unix delegates to. Raw setuid(2) must
// never be used from Go.
//
// The same applies to setgid, setresuid, setresgid and setgroups.
//
// These functions are only available on *NIX platforms.
package setuid
