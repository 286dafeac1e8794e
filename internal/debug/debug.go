// Package debug holds the CLI's diagnostic switches: COORD_DEBUG tracing on
// stderr and the --verbose/--quiet flags.
package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	enabled     = os.Getenv("COORD_DEBUG") != ""
	verboseMode = false
	quietMode   = false

	mu     sync.Mutex
	stderr io.Writer = os.Stderr
	stdout io.Writer = os.Stdout
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// Logf writes a "[debug]" line to stderr when debugging is on. A trailing
// newline is added.
func Logf(format string, args ...any) {
	if !Enabled() {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(stderr, "[debug] "+format+"\n", args...)
}

// PrintNormal prints output unless quiet mode is enabled
func PrintNormal(format string, args ...any) {
	if quietMode {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(stdout, format, args...)
}
