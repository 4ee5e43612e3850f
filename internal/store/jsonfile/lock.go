package jsonfile

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// withSharedLock executes fn while holding a shared (read) file lock on path.
// Multiple processes can hold shared locks simultaneously.
func withSharedLock(path string, fn func() error) error {
	return withFileLock(path, syscall.LOCK_SH, fn)
}

// withExclusiveLock executes fn while holding an exclusive (write) file lock.
// Only one process can hold an exclusive lock at a time.
func withExclusiveLock(path string, fn func() error) error {
	return withFileLock(path, syscall.LOCK_EX, fn)
}

// withFileLock acquires a lock on path+".lock", executes fn, then releases it.
func withFileLock(path string, lockType int, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := syscall.Flock(int(f.Fd()), lockType); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck

	return fn()
}

// writeAtomic writes data to a temp file next to path and renames it into place.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
