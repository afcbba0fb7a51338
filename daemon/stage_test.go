//go:build unix

package daemon

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/hlandau/daemonize.v1/exepath"
)

func TestStageToken(t *testing.T) {
	for _, s := range []State{Foreground, FirstChild, SessionLeader, FinalChild} {
		for _, r := range []bool{false, true} {
			st, restart := parseStage(stageToken(s, r))
			assert.Equal(t, s, st)
			assert.Equal(t, r, restart)
		}
	}
}

func TestStageTokenRejected(t *testing.T) {
	good := stageToken(FinalChild, true)
	parts := strings.SplitN(good, "/", 3)

	for _, tok := range []string{
		"",
		"3",
		"3r/123",
		"3r/123/deadbeef",
		"2r/" + parts[1] + "/" + parts[2],
		parts[0] + "/1" + parts[1] + "/" + parts[2],
		"9/" + parts[1] + "/" + stageChecksum("9/"+parts[1]),
		"x/" + parts[1] + "/" + stageChecksum("x/"+parts[1]),
	} {
		st, restart := parseStage(tok)
		assert.Equal(t, Foreground, st, "token %q", tok)
		assert.False(t, restart, "token %q", tok)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "foreground", Foreground.String())
	assert.Equal(t, "first-child", FirstChild.String())
	assert.Equal(t, "session-leader", SessionLeader.String())
	assert.Equal(t, "final-child", FinalChild.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestTestProcessIsForeground(t *testing.T) {
	assert.Equal(t, Foreground, CurrentState())
	assert.False(t, Restarted())
	assert.False(t, Daemonized())
	assert.Nil(t, PIDFile())
}

func TestFilesEncoding(t *testing.T) {
	files := []keptFile{
		{fd: 3, name: "/var/log/a,b:c.log"},
		{fd: -1},
		{fd: 7, name: "socket"},
	}

	got := decodeFiles(encodeFiles(files))
	require.Len(t, got, 3)
	for i := range files {
		assert.Equal(t, files[i].fd, got[i].fd)
		assert.Equal(t, files[i].name, got[i].name)
	}

	assert.Nil(t, decodeFiles(""))
}

func TestChildEnv(t *testing.T) {
	t.Setenv(stageEnv, "stale")
	t.Setenv(pidfileFDEnv, "9")
	t.Setenv(filesEnv, "3:00")
	t.Setenv("DAEMON_TEST_UNRELATED", "kept")

	env := childEnv(envVar(stageEnv, "fresh"))

	assert.Contains(t, env, "DAEMON_TEST_UNRELATED=kept")
	assert.Contains(t, env, stageEnv+"=fresh")
	assert.NotContains(t, env, stageEnv+"=stale")
	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, pidfileFDEnv+"="), kv)
		assert.False(t, strings.HasPrefix(kv, filesEnv+"="), kv)
	}

	// The current environment is left alone.
	assert.Equal(t, "stale", os.Getenv(stageEnv))
}

func TestReexecArgs(t *testing.T) {
	args := reexecArgs()
	require.Len(t, args, len(exepath.Args))
	assert.Equal(t, exepath.Abs, args[0])
	assert.Equal(t, exepath.Args[1:], args[1:])

	args[0] = "mutated"
	assert.NotEqual(t, "mutated", exepath.Args[0])
}
