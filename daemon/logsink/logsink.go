// Package logsink provides the destinations a daemon's standard output and
// standard error can be tied to once it has detached from its terminal.
package logsink

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/hlandau/daemonize.v1/daemon/derr"
)

// Stream identifies one of the output streams of a process.
type Stream int

const (
	Stdout Stream = 1
	Stderr Stream = 2
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// Sink is a destination for an output stream.
//
// Open is called once per stream. If the returned writer is an *os.File, its
// descriptor is installed directly as the stream; any other writer is fed
// through a pipe. A sink that cannot be reached right now returns an error
// matching derr.ErrSinkUnavailable, and the stream is left discarded.
type Sink interface {
	Open(stream Stream) (io.WriteCloser, error)
}

// File appends both streams to a file.
type File struct {
	Path string
	Perm os.FileMode // defaults to 0644
}

func (f File) Open(stream Stream) (io.WriteCloser, error) {
	perm := f.Perm
	if perm == 0 {
		perm = 0o644
	}

	fh, err := os.OpenFile(f.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, perm)
	if err != nil {
		return nil, derr.WithPath(derr.SinkUnavailable, "open "+stream.String()+" sink", f.Path, err)
	}

	return fh, nil
}

// Null discards both streams.
type Null struct{}

func (Null) Open(stream Stream) (io.WriteCloser, error) {
	fh, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return nil, derr.WithPath(derr.SinkUnavailable, "open "+stream.String()+" sink", os.DevNull, err)
	}

	return fh, nil
}
