package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrLocked indicates the map directory is locked by another process.
var ErrLocked = errors.New("multimap: locked")

// DirLock is the process-exclusive lock on a map directory, backed by an
// flock(2) on the lock file. The file holds the owner's PID for
// diagnostics; the flock is what actually excludes other processes.
type DirLock struct {
	f    *os.File
	path string
}

// AcquireDirLock takes the exclusive directory lock, failing immediately
// with ErrLocked if another process holds it.
func AcquireDirLock(directory string) (*DirLock, error) {
	path := filepath.Join(directory, LockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // path is derived from the map directory
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := flockRetryEINTR(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, fmt.Errorf("directory %s is in use by another process: %w", directory, ErrLocked)
		}

		return nil, fmt.Errorf("lock directory: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("truncate lock file: %w", err)
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("write lock file: %w", err)
	}

	return &DirLock{f: f, path: path}, nil
}

// Release unlocks and removes the lock file. Idempotent.
func (l *DirLock) Release() error {
	if l.f == nil {
		return nil
	}

	unlockErr := flockRetryEINTR(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	removeErr := os.Remove(l.path)
	l.f = nil

	if unlockErr != nil {
		return fmt.Errorf("unlock directory: %w", unlockErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close lock file: %w", closeErr)
	}

	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("remove lock file: %w", removeErr)
	}

	return nil
}

// flockRetryEINTR wraps flock, retrying when a signal interrupts the
// syscall. Capped to avoid spinning under pathological signal storms.
func flockRetryEINTR(fd int, how int) error {
	const maxRetries = 10000

	var err error
	for range maxRetries {
		err = unix.Flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
