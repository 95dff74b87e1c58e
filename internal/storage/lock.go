package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the database lock past
// the acquire timeout.
var ErrLocked = errors.New("database is locked by another process")

const (
	lockTimeout       = 3 * time.Second
	lockRetryInterval = 100 * time.Millisecond
)

// Lock is an advisory cross-process lock on <path>.lock.
type Lock struct {
	fl *flock.Flock
}

// NewLock returns the lock guarding path.
func NewLock(path string) *Lock {
	return &Lock{fl: flock.New(path + ".lock")}
}

// Acquire takes the lock, retrying until ctx is done or the default
// timeout elapses. The returned func releases it.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := l.fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return func() { _ = l.fl.Unlock() }, nil
}

// Fingerprint returns the hex SHA-256 of the file at path, or "" when the
// file does not exist.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
