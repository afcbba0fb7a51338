// Package sigmask keeps track of the signals that must never be left blocked
// in the process signal mask.
//
// A signal handler implicitly blocks its own signal while it runs. A program
// that replaces its image from inside such a handler passes the blocked signal
// on to the new image, which then never sees it again. The same happens when a
// process is started with a signal already blocked. The Manager records the
// signals used to trigger a restart and unblocks them on demand.
//
// Signal masks are per-thread. Unmask and Apply act on the calling OS thread;
// callers which go on to replace the process image must hold
// runtime.LockOSThread across both calls.
package sigmask

import (
	"runtime"
	"sort"
	"sync"
	"syscall"
)

// Manager is a set of signals which are kept unmasked.
type Manager struct {
	mu   sync.Mutex
	sigs map[syscall.Signal]struct{}
}

// New returns a Manager tracking sigs. Nothing is unmasked until Apply or
// Unmask is called.
func New(sigs ...syscall.Signal) *Manager {
	m := &Manager{sigs: make(map[syscall.Signal]struct{})}
	for _, s := range sigs {
		m.sigs[s] = struct{}{}
	}
	return m
}

// Default tracks the restart trigger, SIGHUP. It is applied when the package
// is initialised.
var Default = New(syscall.SIGHUP)

func init() {
	// Package initialisation runs on the main thread.
	Default.Apply()
}

// Signals returns the tracked signals in ascending order.
func (m *Manager) Signals() []syscall.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	sigs := make([]syscall.Signal, 0, len(m.sigs))
	for s := range m.sigs {
		sigs = append(sigs, s)
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i] < sigs[j] })
	return sigs
}

// Unmask adds sigs to the tracked set and removes them from the blocked set of
// the calling thread. It is idempotent.
func (m *Manager) Unmask(sigs ...syscall.Signal) error {
	m.mu.Lock()
	for _, s := range sigs {
		m.sigs[s] = struct{}{}
	}
	m.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	return unblock(sigs)
}

// Apply removes every tracked signal from the blocked set of the calling
// thread.
func (m *Manager) Apply() error {
	sigs := m.Signals()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	return unblock(sigs)
}

// Blocked reports whether sig is blocked on the calling thread.
func Blocked(sig syscall.Signal) (bool, error) {
	return blocked(sig)
}
