//go:build unix

package daemon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/hlandau/daemonize.v1/exepath"
)

// State is the position of the current image in the daemonization sequence.
//
// Go cannot fork a running runtime, so each fork is realised by starting a
// fresh copy of the program from the argument snapshot. The new image learns
// which step it has reached from its environment.
type State int

const (
	// The process as started by the user, attached to its terminal.
	Foreground State = iota

	// Started by Foreground; about to become a session leader.
	FirstChild

	// FirstChild after setsid; about to start the final image.
	SessionLeader

	// The daemon proper. Also the state of an image started by Restart.
	FinalChild
)

func (s State) String() string {
	switch s {
	case Foreground:
		return "foreground"
	case FirstChild:
		return "first-child"
	case SessionLeader:
		return "session-leader"
	case FinalChild:
		return "final-child"
	default:
		return "unknown"
	}
}

const (
	stageEnv     = "DAEMONIZE_STAGE"
	pidfileFDEnv = "DAEMONIZE_PIDFILE_FD"
	filesEnv     = "DAEMONIZE_FILES"
)

var (
	currentState State
	restarted    bool
)

func init() {
	currentState, restarted = parseStage(os.Getenv(stageEnv))
}

// CurrentState returns the state of this image. Code before Daemonize runs
// once per image; resources which must be created once, such as files
// passed with KeepFiles, should be guarded by CurrentState() == Foreground.
func CurrentState() State {
	return currentState
}

// Restarted reports whether this image was started by Restart.
func Restarted() bool {
	return restarted
}

// The stage token is "<state>[r]/<nonce>/<checksum>". The checksum keeps a
// stray value in the user's environment from being taken for a token.
func stageToken(s State, restart bool) string {
	base := strconv.Itoa(int(s))
	if restart {
		base += "r"
	}

	base += "/" + strconv.FormatInt(time.Now().UnixNano(), 10)
	return base + "/" + stageChecksum(base)
}

func stageChecksum(base string) string {
	h := sha256.Sum256([]byte("daemonize/" + base))
	return hex.EncodeToString(h[:])
}

func parseStage(token string) (State, bool) {
	parts := strings.SplitN(token, "/", 3)
	if len(parts) != 3 {
		return Foreground, false
	}

	if stageChecksum(parts[0]+"/"+parts[1]) != parts[2] {
		return Foreground, false
	}

	st, restart := parts[0], false
	if strings.HasSuffix(st, "r") {
		st, restart = st[:len(st)-1], true
	}

	n, err := strconv.Atoi(st)
	if err != nil || n < int(Foreground) || n > int(FinalChild) {
		return Foreground, false
	}

	return State(n), restart
}

// childEnv returns the environment for the next image: the current one with
// the daemonization variables replaced by extra.
func childEnv(extra ...string) []string {
	var env []string
	for _, kv := range os.Environ() {
		if isDaemonizeVar(kv) {
			continue
		}
		env = append(env, kv)
	}

	return append(env, extra...)
}

func isDaemonizeVar(kv string) bool {
	for _, k := range []string{stageEnv, pidfileFDEnv, filesEnv} {
		if strings.HasPrefix(kv, k+"=") {
			return true
		}
	}
	return false
}

func unsetDaemonizeVars() {
	os.Unsetenv(stageEnv)
	os.Unsetenv(pidfileFDEnv)
	os.Unsetenv(filesEnv)
}

func envVar(k, v string) string {
	return k + "=" + v
}

// Kept files travel as "fd:hexname,fd:hexname" in KeepFiles order. Names are
// hex encoded since any byte but NUL may appear in them.
func encodeFiles(files []keptFile) string {
	var b strings.Builder
	for i, f := range files {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d:%s", f.fd, hex.EncodeToString([]byte(f.name)))
	}
	return b.String()
}

func decodeFiles(s string) []keptFile {
	if s == "" {
		return nil
	}

	var files []keptFile
	for _, item := range strings.Split(s, ",") {
		k := keptFile{fd: -1}

		fdStr, nameHex, _ := strings.Cut(item, ":")
		if fd, err := strconv.Atoi(fdStr); err == nil {
			k.fd = fd
		}
		if name, err := hex.DecodeString(nameHex); err == nil {
			k.name = string(name)
		}

		files = append(files, k)
	}

	return files
}

// reexecArgs returns the argument snapshot with argv[0] replaced by the
// absolute executable path, so that a relative invocation still resolves
// after the working directory changes.
func reexecArgs() []string {
	args := append([]string(nil), exepath.Args...)
	if len(args) == 0 {
		return []string{exepath.Abs}
	}
	args[0] = exepath.Abs
	return args
}
