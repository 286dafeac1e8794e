package debug

import (
	"bytes"
	"testing"
)

func swapOutput(t *testing.T) (errBuf, outBuf *bytes.Buffer) {
	t.Helper()
	oldErr, oldOut := stderr, stdout
	oldEnabled, oldVerbose, oldQuiet := enabled, verboseMode, quietMode
	errBuf, outBuf = &bytes.Buffer{}, &bytes.Buffer{}
	stderr, stdout = errBuf, outBuf
	t.Cleanup(func() {
		stderr, stdout = oldErr, oldOut
		enabled, verboseMode, quietMode = oldEnabled, oldVerbose, oldQuiet
	})
	return errBuf, outBuf
}

func TestLogf(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		verbose    bool
		wantOutput string
	}{
		{name: "env enabled", enabled: true, wantOutput: "[debug] dial /tmp/x.sock\n"},
		{name: "verbose flag", verbose: true, wantOutput: "[debug] dial /tmp/x.sock\n"},
		{name: "disabled", wantOutput: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errBuf, _ := swapOutput(t)
			enabled = tt.enabled
			verboseMode = tt.verbose

			Logf("dial %s", "/tmp/x.sock")

			if got := errBuf.String(); got != tt.wantOutput {
				t.Errorf("Logf() output = %q, want %q", got, tt.wantOutput)
			}
		})
	}
}

func TestSetVerbose(t *testing.T) {
	swapOutput(t)
	enabled = false
	verboseMode = false

	if Enabled() {
		t.Error("Enabled() should be false initially")
	}
	SetVerbose(true)
	if !Enabled() {
		t.Error("Enabled() should be true after SetVerbose(true)")
	}
	SetVerbose(false)
	if Enabled() {
		t.Error("Enabled() should be false after SetVerbose(false)")
	}
}

func TestPrintNormal(t *testing.T) {
	_, outBuf := swapOutput(t)

	SetQuiet(false)
	PrintNormal("agent %s registered\n", "a1")
	if got := outBuf.String(); got != "agent a1 registered\n" {
		t.Errorf("PrintNormal() output = %q", got)
	}

	outBuf.Reset()
	SetQuiet(true)
	if !IsQuiet() {
		t.Error("IsQuiet() should be true after SetQuiet(true)")
	}
	PrintNormal("suppressed\n")
	if outBuf.Len() != 0 {
		t.Errorf("PrintNormal() should be silent in quiet mode, got %q", outBuf.String())
	}
}
