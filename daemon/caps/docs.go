// Package caps provides functions for controlling capabilities.
package caps

// This constant will be true iff the target platform supports capabilities.
const PlatformSupportsCaps = platformSupportsCaps

// Returns true iff any capabilities are available to the program, in either
// the permitted or the effective set.
func HaveAny() bool {
	return haveAny()
}

// Attempt to drop all capabilities from every thread of the process.
func Drop() error {
	return drop()
}
