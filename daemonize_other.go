//go:build !unix

package daemonize

import "errors"

var errNotSupported = errors.New("not supported")

func systemdUpdateStatus(status string) error {
	return errNotSupported
}

func (info *Info) serviceMain() error {
	return errNotSupported
}

func (h *ihandler) DropPrivileges() error {
	h.dropped = true
	return nil
}
