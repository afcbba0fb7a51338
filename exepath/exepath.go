// Package exepath records how the current program was invoked.
//
// Both values are captured at init() time, before any caller code can change
// os.Args, and are used to re-execute the program image.
package exepath

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Absolute path to EXE which was invoked. This is set at init()-time.
var Abs string

// Snapshot of the argument vector, including argv[0], taken at init()-time.
// Do not modify.
var Args []string

func getRawPath() string {
	// "os".Executable looks nice, but may return the realpath of the path
	// because this is how the kernel returns it as /proc/self/exe. This causes
	// problems with layouts like
	//
	//   some-work-directory/
	//     bin/ -> $GOPATH/bin
	//     etc/
	//       ... configuration files ...
	//
	// where bin/foo is executed from some-work-directory and expects to find
	// files in etc/. Since daemonization and restart re-execute with Abs, this
	// would prevent paths like $BIN/../etc/foo.conf from working.
	//
	// So stick with os.Args[0], which should make re-execution as seamless as
	// possible to relying applications.
	if len(os.Args) == 0 {
		return ""
	}

	return os.Args[0]
}

func resolve(raw string) string {
	if raw == "" {
		return ""
	}

	// A bare name was found via $PATH by whoever started us.
	if !strings.ContainsRune(raw, filepath.Separator) {
		p, err := exec.LookPath(raw)
		if err != nil {
			p, err = os.Executable()
			if err != nil {
				return ""
			}
		}
		raw = p
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return ""
	}

	return abs
}

func init() {
	Args = append([]string(nil), os.Args...)
	Abs = resolve(getRawPath())
}

// © 2015 Hugo Landau <hlandau@devever.net>  ISC License
