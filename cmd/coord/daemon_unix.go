//go:build unix

package main

import (
	"os"
	"os/exec"
	"syscall"
)

// configureDaemonProcess detaches the child from the terminal session.
func configureDaemonProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func sendStopSignal(process *os.Process) error {
	return process.Signal(syscall.SIGTERM)
}

func isRotateSignal(sig os.Signal) bool {
	return sig == syscall.SIGHUP
}

var rotateSignals = []os.Signal{syscall.SIGHUP}
