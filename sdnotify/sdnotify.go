// Package sdnotify implements the systemd service notification protocol.
package sdnotify

import (
	"errors"
	"net"
	"os"
	"sync"
)

// ErrNoSocket is returned when the process was not started with a
// NOTIFY_SOCKET in its environment. It is common to ignore it.
var ErrNoSocket = errors.New("no notify socket")

var (
	mutex  sync.Mutex
	socket *net.UnixConn
	inited bool
)

// Send sends a message such as "READY=1" or "MAINPID=123" to the init daemon.
// It is common to ignore the error.
//
// Unlike coreos/go-systemd/daemon, the socket is kept open after the first
// call, so notifications still work after the process loses access to the
// socket path.
func Send(state string) error {
	mutex.Lock()
	defer mutex.Unlock()

	if !inited {
		inited = true

		addr := &net.UnixAddr{
			Name: os.Getenv("NOTIFY_SOCKET"),
			Net:  "unixgram",
		}

		if addr.Name == "" {
			return ErrNoSocket
		}

		conn, err := net.DialUnix(addr.Net, nil, addr)
		if err != nil {
			return err
		}

		socket = conn
	}

	if socket == nil {
		return ErrNoSocket
	}

	_, err := socket.Write([]byte(state))
	return err
}

// reset forgets the cached socket.
func reset() {
	mutex.Lock()
	defer mutex.Unlock()

	if socket != nil {
		socket.Close()
	}
	socket = nil
	inited = false
}
