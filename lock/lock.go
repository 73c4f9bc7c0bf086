// Package lock implements file system locks shared between processes.
//
// The mutex primitive is the creation of a directory. The directory holds a
// file with the owner's pid and a token naming the acquisition, and a lock whose directory is older than its
// timeout, or whose owner process is gone, is stale and may be broken by
// anyone who finds it. Read locks count their holders in a counter file
// guarded by the mutex.
package lock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrCouldNotLock is returned when a lock cannot be acquired before the
// context is done.
var ErrCouldNotLock = errors.New("could not acquire lock")

const (
	mutexDir    = "mutex"
	ownerFile   = "owner"
	countDir    = "count"
	readersFile = "readers"
)

// PollInterval is the time between attempts to take a contended lock.
var PollInterval = 20 * time.Millisecond

// Exclusive is a mutex backed by the directory Path.
type Exclusive struct {
	Path    string
	Timeout time.Duration // age after which a held lock is stale; 0 means never
	Clock   clock.Clock
	locked  bool
	token   string
}

// NewExclusive returns an exclusive lock on the directory path.
func NewExclusive(path string, timeout time.Duration) *Exclusive {
	return &Exclusive{Path: path, Timeout: timeout, Clock: clock.New()}
}

// Acquire takes the lock, waiting until ctx is done.
func (e *Exclusive) Acquire(ctx context.Context) error {
	if e.locked {
		return nil
	}
	for {
		ok, err := e.try()
		if err != nil {
			return err
		}
		if ok {
			e.locked = true
			return nil
		}
		if e.breakStale() {
			continue
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ErrCouldNotLock, e.Path)
		case <-e.Clock.After(PollInterval):
		}
	}
}

// TryAcquire takes the lock if it is free or stale.
func (e *Exclusive) TryAcquire() (bool, error) {
	if e.locked {
		return true, nil
	}
	ok, err := e.try()
	if err == nil && !ok && e.breakStale() {
		ok, err = e.try()
	}
	e.locked = ok
	return ok, err
}

func (e *Exclusive) try() (bool, error) {
	err := os.Mkdir(e.Path, 0755)
	if os.IsExist(err) {
		return false, nil
	} else if os.IsNotExist(err) {
		if err = os.MkdirAll(filepath.Dir(e.Path), 0755); err != nil {
			return false, err
		}
		err = os.Mkdir(e.Path, 0755)
		if os.IsExist(err) {
			return false, nil
		}
	}
	if err != nil {
		return false, err
	}
	token := uuid.NewString()
	owner := strconv.Itoa(os.Getpid()) + "\n" + token
	if err := os.WriteFile(filepath.Join(e.Path, ownerFile), []byte(owner), 0644); err != nil {
		os.RemoveAll(e.Path)
		return false, err
	}
	e.token = token
	return true, nil
}

// IsLocked reports whether this handle holds the lock.
func (e *Exclusive) IsLocked() bool { return e.locked }

// Exists reports whether anyone holds the lock.
func (e *Exclusive) Exists() bool {
	_, err := os.Stat(e.Path)
	return err == nil
}

// IsExpired reports whether the lock on disk is stale.
func (e *Exclusive) IsExpired() bool {
	fi, err := os.Stat(e.Path)
	if err != nil {
		return false
	}
	if e.Timeout > 0 && e.Clock.Now().Sub(fi.ModTime()) > e.Timeout {
		return true
	}
	pid := ownerPid(e.Path)
	return pid > 0 && pid != os.Getpid() && !alive(pid)
}

// breakStale removes the lock if it is stale. It reports whether a lock
// was removed.
func (e *Exclusive) breakStale() bool {
	if !e.IsExpired() {
		return false
	}
	// move it aside first so two breakers cannot remove a fresh lock
	tmp := e.Path + ".stale." + strconv.Itoa(os.Getpid())
	if err := os.Rename(e.Path, tmp); err != nil {
		return false
	}
	os.RemoveAll(tmp)
	return true
}

// Touch refreshes the lock time of a held lock.
func (e *Exclusive) Touch() error {
	if !e.locked {
		return nil
	}
	now := e.Clock.Now()
	return os.Chtimes(e.Path, now, now)
}

// Release gives up the lock. Releasing an unheld lock does nothing, and
// neither does releasing a lock that was broken as stale and taken by
// someone else in the meantime.
func (e *Exclusive) Release() error {
	if !e.locked {
		return nil
	}
	e.locked = false
	if _, token := owner(e.Path); token != e.token {
		return nil
	}
	return os.RemoveAll(e.Path)
}

// owner returns the pid and token recorded in the lock directory.
func owner(dir string) (int, string) {
	data, err := os.ReadFile(filepath.Join(dir, ownerFile))
	if err != nil {
		return 0, ""
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, ""
	}
	pid, _ := strconv.Atoi(fields[0])
	token := ""
	if len(fields) > 1 {
		token = fields[1]
	}
	return pid, token
}

func ownerPid(dir string) int {
	pid, _ := owner(dir)
	return pid
}

func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
