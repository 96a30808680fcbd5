//go:build !unix

package backend

import "os"

// Without flock the lock is process-local.
var fileLocks = newLockTable()

func lockFile(f *os.File) error {
	return fileLocks.acquire(f.Name())
}

func unlockFile(f *os.File) error {
	fileLocks.release(f.Name())
	return nil
}
