package editor

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/cache"
)

const draftArena = "drafts"

// Draft is the unsaved text of an edit.
type Draft struct {
	Time  time.Time `json:"time"`
	Revno int       `json:"revno"` // the revision the edit started from
	Text  string    `json:"text"`
}

// Drafts keeps at most one draft per user and item. All drafts of a user
// are stored in one cache entry.
type Drafts struct {
	Cache *cache.Store
	Clock clock.Clock
}

// NewDrafts returns drafts stored in c.
func NewDrafts(c *cache.Store) *Drafts {
	return &Drafts{Cache: c, Clock: clock.New()}
}

func (d *Drafts) load(ctx context.Context, user string) (map[string]Draft, error) {
	e, err := d.Cache.Entry(cache.Wiki, draftArena, user)
	if err != nil {
		return nil, err
	}
	data, err := e.Content(ctx)
	if os.IsNotExist(errors.Cause(err)) {
		return make(map[string]Draft), nil
	} else if err != nil {
		return nil, err
	}
	return decodeDrafts(user, data)
}

func decodeDrafts(user string, data []byte) (map[string]Draft, error) {
	all := make(map[string]Draft)
	if data == nil {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, errors.Wrapf(cache.ErrCache, "drafts of %s: %s", user, err)
	}
	return all, nil
}

// modify applies fn to the drafts of user under the entry's write lock.
// fn reports whether it changed anything.
func (d *Drafts) modify(ctx context.Context, user string, fn func(all map[string]Draft) bool) error {
	e, err := d.Cache.Entry(cache.Wiki, draftArena, user)
	if err != nil {
		return err
	}
	return e.Modify(ctx, func(old []byte) ([]byte, bool, error) {
		all, err := decodeDrafts(user, old)
		if err != nil {
			return nil, false, err
		}
		if !fn(all) {
			return old, false, nil
		}
		if len(all) == 0 {
			return nil, true, nil
		}
		data, err := json.Marshal(all)
		return data, true, err
	})
}

// Save records text as the draft of user for item. Empty text is ignored.
func (d *Drafts) Save(ctx context.Context, user, item string, revno int, text string) error {
	if text == "" {
		return nil
	}
	dr := Draft{Time: d.Clock.Now().UTC(), Revno: revno, Text: text}
	return d.modify(ctx, user, func(all map[string]Draft) bool {
		all[item] = dr
		return true
	})
}

// Load returns the draft of user for item, or nil.
func (d *Drafts) Load(ctx context.Context, user, item string) (*Draft, error) {
	all, err := d.load(ctx, user)
	if err != nil {
		return nil, err
	}
	dr, ok := all[item]
	if !ok {
		return nil, nil
	}
	return &dr, nil
}

// Items lists the items user has drafts for.
func (d *Drafts) Items(ctx context.Context, user string) ([]string, error) {
	all, err := d.load(ctx, user)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Discard removes the draft of user for item.
func (d *Drafts) Discard(ctx context.Context, user, item string) error {
	return d.modify(ctx, user, func(all map[string]Draft) bool {
		if _, ok := all[item]; !ok {
			return false
		}
		delete(all, item)
		return true
	})
}

// Sweep removes drafts older than maxAge and returns how many it removed.
func (d *Drafts) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	users, err := d.Cache.Keys(cache.Wiki, draftArena)
	if err != nil {
		return 0, err
	}
	cutoff := d.Clock.Now().Add(-maxAge)
	var n int
	for _, user := range users {
		err := d.modify(ctx, user, func(all map[string]Draft) bool {
			before := len(all)
			for item, dr := range all {
				if dr.Time.Before(cutoff) {
					delete(all, item)
				}
			}
			n += before - len(all)
			return len(all) != before
		})
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
