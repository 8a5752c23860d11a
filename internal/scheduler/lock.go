//go:build !windows

package scheduler

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

// sweepLock keeps one sweep from running in two processes on the same
// host. The holder writes its pid into the file so a skipped run can say
// who has it.
type sweepLock struct {
	path string
	file *os.File
}

func newSweepLock(path string) *sweepLock {
	return &sweepLock{path: path}
}

// TryLock reports false without blocking when another process holds it.
func (l *sweepLock) TryLock() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, err
	}
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	l.file = f
	return true, nil
}

// Holder returns the pid recorded by the current holder, if any.
func (l *sweepLock) Holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Unlock releases the lock. The file stays so a waiter holding a fresh
// descriptor never locks a different inode.
func (l *sweepLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	l.file = nil
	return err
}
