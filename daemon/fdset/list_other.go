//go:build unix && !linux

package fdset

import "errors"

// /dev/fd on the BSDs only lists 0-2 unless fdescfs is mounted, so always
// scan.
func listFast() ([]int, error) {
	return nil, errors.ErrUnsupported
}
