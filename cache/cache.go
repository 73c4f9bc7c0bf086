// Package cache keeps derived data, such as rendered pages, in files.
//
// An entry is addressed by a scope, an arena and a key. The farm scope is
// shared by all wikis, the wiki scope belongs to one wiki, and the item
// scope has one arena per item. Item arenas are named by a hash of the
// item name so file names stay short and safe.
//
// Entries are written to a temporary file which is renamed over the entry
// when complete, so readers see either the old or the new content. Each
// entry has a readers-writer lock next to it.
package cache

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
)

// ErrCache is returned when an entry cannot be locked or stored. Callers
// usually recompute the value instead.
var ErrCache = errors.New("cache error")

// ErrBadScope is returned for an unknown scope.
var ErrBadScope = errors.New("unknown cache scope")

// The scopes.
const (
	Farm = "farm"
	Wiki = "wiki"
	Item = "item"
)

const (
	lockSuffix = ".lock"
	idSuffix   = ".ids"
	tmpPrefix  = ".tmp-"
)

// Store is the cache of one wiki.
type Store struct {
	FarmDir string // root of the farm scope
	WikiDir string // root of the wiki and item scopes
	Secret  []byte // key for Key

	LockTimeout     time.Duration // how long to wait for a lock
	StaleTimeout    time.Duration // age of a write lock that is considered stale
	ReadLockTimeout time.Duration // age of a reader count that is considered stale
	Clock           clock.Clock
}

// New returns a cache whose wiki scope lives under dir and farm scope
// under farmdir.
func New(dir, farmdir string, secret []byte) *Store {
	return &Store{
		FarmDir:         farmdir,
		WikiDir:         dir,
		Secret:          secret,
		LockTimeout:     10 * time.Second,
		StaleTimeout:    60 * time.Second,
		ReadLockTimeout: 60 * time.Second,
		Clock:           clock.New(),
	}
}

func (s *Store) arenaDir(scope, arena string) (string, error) {
	switch scope {
	case Farm:
		return filepath.Join(s.FarmDir, escape(arena)), nil
	case Wiki:
		return filepath.Join(s.WikiDir, "wiki", escape(arena)), nil
	case Item:
		sum := sha1.Sum([]byte(arena))
		return filepath.Join(s.WikiDir, "item", hex.EncodeToString(sum[:])), nil
	}
	return "", errors.Wrap(ErrBadScope, scope)
}

// escape keeps arena and key names inside their directory and out of the
// names used for locks and temporary files.
func escape(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "/", "%2f")
	if s == "" || strings.HasPrefix(s, ".") {
		s = "%" + s
	}
	if strings.HasSuffix(s, lockSuffix) || strings.HasSuffix(s, idSuffix) {
		s += "%"
	}
	return s
}

var unescaper = strings.NewReplacer("%2f", "/", "%25", "%")

func unescape(s string) string {
	if strings.HasSuffix(s, lockSuffix+"%") || strings.HasSuffix(s, idSuffix+"%") {
		s = s[:len(s)-1]
	}
	if strings.HasPrefix(s, "%") && !strings.HasPrefix(s, "%25") && !strings.HasPrefix(s, "%2f") {
		s = s[1:]
	}
	return unescaper.Replace(s)
}

// Entry returns the entry for key in the given scope and arena. The entry
// need not exist.
func (s *Store) Entry(scope, arena, key string) (*Entry, error) {
	dir, err := s.arenaDir(scope, arena)
	if err != nil {
		return nil, err
	}
	return newEntry(s, filepath.Join(dir, escape(key))), nil
}

// RemoveArena deletes every entry of an arena, e.g. when an item is
// destroyed.
func (s *Store) RemoveArena(scope, arena string) error {
	dir, err := s.arenaDir(scope, arena)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Keys lists the keys of the entries stored in an arena.
func (s *Store) Keys(scope, arena string) ([]string, error) {
	dir, err := s.arenaDir(scope, arena)
	if err != nil {
		return nil, err
	}
	infos, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(ErrCache, err.Error())
	}
	var keys []string
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || strings.HasSuffix(name, idSuffix) || strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		keys = append(keys, unescape(name))
	}
	return keys, nil
}

// Key returns a hard to guess key for params. Knowing the key is as good as
// having been allowed to create the entry.
func (s *Store) Key(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	mac := hmac.New(sha1.New, s.Secret)
	for _, k := range keys {
		fmt.Fprintf(mac, "%q:%q,", k, params[k])
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Sweep removes the entries in the wiki and item scopes that were not
// written within maxAge. Entries that are locked are skipped.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.Clock.Now().Add(-maxAge)
	var n int
	err := filepath.Walk(s.WikiDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			if strings.HasSuffix(path, lockSuffix) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, idSuffix) || strings.HasPrefix(info.Name(), tmpPrefix) {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		e := newEntry(s, path)
		lctx, cancel := context.WithTimeout(ctx, time.Second)
		err = e.Remove(lctx)
		cancel()
		if err != nil {
			log.Printf("cache: sweep %s: %s", path, err)
			return nil
		}
		n++
		return nil
	})
	return n, err
}
