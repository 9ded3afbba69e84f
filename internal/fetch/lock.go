package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	lockPollInterval = 100 * time.Millisecond
	// A lock older than this belongs to a process that died mid-install.
	lockStaleAfter = 15 * time.Minute
)

// acquireLock takes an exclusive cross-process lock named key under dir. The
// returned func releases it, but only while the lock file still carries this
// holder's token.
func acquireLock(ctx context.Context, dir, key string) (func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare lock dir: %w", err)
	}
	lockPath := filepath.Join(dir, lockFileName(key))
	token := lockToken()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = f.WriteString(token)
			_ = f.Close()
			return func() { releaseLock(lockPath, token) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if breakStaleLock(lockPath) {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func lockToken() string {
	return strconv.Itoa(os.Getpid()) + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

func releaseLock(lockPath, token string) {
	data, err := os.ReadFile(lockPath)
	if err != nil || string(data) != token {
		return
	}
	_ = os.Remove(lockPath)
}

// breakStaleLock moves an expired lock aside under a unique name and deletes
// it only if the moved file is the one found stale. A fresh lock taken in
// between is put back.
func breakStaleLock(lockPath string) bool {
	before, err := os.Stat(lockPath)
	if err != nil || time.Since(before.ModTime()) <= lockStaleAfter {
		return false
	}
	aside := lockPath + ".stale-" + lockToken()
	if err := os.Rename(lockPath, aside); err != nil {
		return false
	}
	moved, err := os.Stat(aside)
	if err == nil && os.SameFile(before, moved) {
		_ = os.Remove(aside)
		return true
	}
	if err := os.Link(aside, lockPath); err == nil {
		_ = os.Remove(aside)
		return false
	}
	_ = os.Remove(aside)
	return true
}

func lockFileName(key string) string {
	return strings.NewReplacer("/", "_", "@", "_", "\\", "_", ":", "_").Replace(key) + ".lock"
}
