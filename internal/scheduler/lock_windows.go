//go:build windows

package scheduler

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// sweepLock on Windows relies on exclusive creation of the lock file,
// which holds the owner's pid.
type sweepLock struct {
	path   string
	locked bool
}

func newSweepLock(path string) *sweepLock {
	return &sweepLock{path: path}
}

func (l *sweepLock) TryLock() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return false, err
	}
	l.locked = true
	return true, nil
}

func (l *sweepLock) Holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (l *sweepLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
