// Package bansuid provides a function to prevent processes from reacquiring privileges.
package bansuid

import "errors"

// BanSuid: On Linux, uses prctl() SECUREBITS and NO_NEW_PRIVS to prevent the process or its descendants
// from ever obtaining privileges by execing a suid/sgid/cap xattr binary. Returns ErrNotSupported
// if platform is not supported. May return other errors.
//
// Both attributes are per thread in the kernel, so they are applied to every
// thread of the process. SECUREBITS needs CAP_SETPCAP and is skipped when the
// process lacks it, which is the normal case after privileges have been dropped;
// NO_NEW_PRIVS alone is sufficient to block privilege gain on exec.
func BanSuid() error {
	return banSuid()
}

// Returned by BanSuid if it is not supported on the current platform.
var ErrNotSupported = errors.New("bansuid not supported")
