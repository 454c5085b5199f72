//go:build !windows

package cli

import "syscall"

// detachedProcAttr puts the background daemon in its own session so closing
// the terminal does not take it down.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
