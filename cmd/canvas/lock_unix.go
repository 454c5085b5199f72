//go:build !windows

package cli

import (
	"fmt"
	"os"
	"syscall"

	"github.com/neboloop/canvas/internal/defaults"
)

// acquireLock creates a lock file to ensure only one daemon runs per data dir
func acquireLock(dataDir string) (*os.File, error) {
	file, err := os.OpenFile(defaults.LockPath(dataDir), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("cannot open lock file: %w", err)
	}

	// Non-blocking exclusive lock
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return nil, fmt.Errorf("cannot acquire lock %s", file.Name())
	}

	writePID(file)
	return file, nil
}

// releaseLock releases the lock file
func releaseLock(file *os.File) {
	if file != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
	}
}
