//go:build windows

package cli

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"

	"github.com/neboloop/canvas/internal/defaults"
)

// acquireLock creates a lock file to ensure only one daemon runs per data dir
func acquireLock(dataDir string) (*os.File, error) {
	file, err := os.OpenFile(defaults.LockPath(dataDir), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("cannot open lock file: %w", err)
	}

	handle := windows.Handle(file.Fd())
	overlapped := &windows.Overlapped{}
	err = windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, overlapped)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("cannot acquire lock %s", file.Name())
	}

	writePID(file)
	return file, nil
}

// releaseLock releases the lock file
func releaseLock(file *os.File) {
	if file != nil {
		windows.UnlockFileEx(windows.Handle(file.Fd()), 0, 1, 0, &windows.Overlapped{})
		file.Close()
	}
}
