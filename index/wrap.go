package index

import (
	"context"
	"log"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/backend"
)

// Backend wraps a backend and keeps an Index in step with it. Searches use
// the index to narrow the set of items to load.
//
// Index writes happen after the wrapped operation succeeded. A failed index
// write is logged and reported but does not fail the operation; run Reindex
// to repair the index.
type Backend struct {
	b     backend.Backend
	x     *Index
	locks keyedMutex
}

var _ backend.Backend = &Backend{}

// Wrap returns b with its changes recorded in x.
func Wrap(b backend.Backend, x *Index) *Backend {
	return &Backend{b: b, x: x}
}

// Index returns the index used by ib.
func (ib *Backend) Index() *Index { return ib.x }

func (ib *Backend) wrap(item backend.Item) *indexedItem {
	return &indexedItem{Item: item, ib: ib, pending: -1}
}

func (ib *Backend) CreateItem(ctx context.Context, name string) (backend.Item, error) {
	item, err := ib.b.CreateItem(ctx, name)
	if err != nil {
		return nil, err
	}
	return ib.wrap(item), nil
}

func (ib *Backend) GetItem(ctx context.Context, name string) (backend.Item, error) {
	item, err := ib.b.GetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	return ib.wrap(item), nil
}

func (ib *Backend) HasItem(ctx context.Context, name string) bool {
	return ib.b.HasItem(ctx, name)
}

func (ib *Backend) IterItems(ctx context.Context) backend.ItemIterator {
	return backend.Map(ib.b.IterItems(ctx), func(item backend.Item) (backend.Item, bool, error) {
		return ib.wrap(item), true, nil
	})
}

// SearchItems asks the index for candidates and loads them from the
// backend. Terms the index cannot decide are evaluated on the loaded items.
// Underlay items the index has not seen are scanned after the candidates.
// If the index fails the search falls back to scanning the backend.
func (ib *Backend) SearchItems(ctx context.Context, term backend.Term) backend.ItemIterator {
	names, exact, err := ib.x.Query(ctx, term)
	if err != nil {
		ib.report("search", err)
		return backend.Filter(ctx, ib.IterItems(ctx), term)
	}
	term.Reset()
	it := ib.candidates(ctx, names, exact, term)
	u, ok := ib.b.(backend.Underlaid)
	if !ok {
		return it
	}
	seen := mapset.NewThreadUnsafeSet(names...)
	rest := backend.Map(u.IterUnderlay(ctx), func(item backend.Item) (backend.Item, bool, error) {
		if seen.Contains(item.Name()) {
			return nil, false, nil
		}
		return ib.wrap(item), true, nil
	})
	return backend.Concat(it, backend.Filter(ctx, rest, term))
}

func (ib *Backend) candidates(ctx context.Context, names []string, exact bool, term backend.Term) backend.ItemIterator {
	return backend.Generator(func() (backend.Item, bool, error) {
		for len(names) > 0 {
			name := names[0]
			names = names[1:]
			item, err := ib.GetItem(ctx, name)
			if errors.Is(err, backend.ErrNoSuchItem) {
				continue // index is behind the backend
			} else if err != nil {
				return nil, false, err
			}
			if !exact {
				ok, err := term.Evaluate(ctx, item)
				if err != nil {
					return nil, false, err
				}
				if !ok {
					continue
				}
			}
			return item, true, nil
		}
		return nil, false, nil
	}, nil)
}

func (ib *Backend) report(op string, err error) {
	log.Printf("index: %s: %s", op, err)
	raven.CaptureError(err, map[string]string{"op": op})
}

// indexedItem records the changes made through it in the index.
type indexedItem struct {
	backend.Item
	ib      *Backend
	pending int // revno reserved by CreateRevision, or -1
}

func (it *indexedItem) FromUnderlay() bool {
	u, ok := it.Item.(backend.UnderlayItem)
	return ok && u.FromUnderlay()
}

func (it *indexedItem) GetRevision(ctx context.Context, revno int) (backend.Revision, error) {
	rev, err := it.Item.GetRevision(ctx, revno)
	if err != nil {
		return nil, err
	}
	return indexedRevision{Revision: rev, item: it}, nil
}

func (it *indexedItem) CreateRevision(ctx context.Context, revno int) (backend.NewRevision, error) {
	rev, err := it.Item.CreateRevision(ctx, revno)
	if err != nil {
		return nil, err
	}
	it.pending = revno
	return indexedNewRevision{NewRevision: rev, item: it}, nil
}

func (it *indexedItem) Rollback(ctx context.Context) error {
	it.pending = -1
	return it.Item.Rollback(ctx)
}

// Commit holds the item lock across the commit and the index update so
// index updates of one item happen in commit order.
func (it *indexedItem) Commit(ctx context.Context) error {
	unlock := it.ib.locks.Lock(it.UUID())
	defer unlock()
	revno := it.pending
	if err := it.Item.Commit(ctx); err != nil {
		return err
	}
	it.pending = -1
	rev, err := it.Item.GetRevision(ctx, revno)
	if err == nil {
		err = it.ib.x.Update(ctx, it.Item, rev)
	}
	if err != nil {
		it.ib.report("commit "+it.Name(), err)
	}
	return nil
}

func (it *indexedItem) PublishMetadata(ctx context.Context) error {
	unlock := it.ib.locks.Lock(it.UUID())
	defer unlock()
	if err := it.Item.PublishMetadata(ctx); err != nil {
		return err
	}
	if err := it.ib.x.UpdateItem(ctx, it.Item); err != nil {
		it.ib.report("publish "+it.Name(), err)
	}
	return nil
}

// Rename refuses names the index already knows for another item, even if
// the backend would accept them.
func (it *indexedItem) Rename(ctx context.Context, newname string) error {
	unlock := it.ib.locks.Lock(it.UUID())
	defer unlock()
	rec, err := it.ib.x.Lookup(ctx, newname)
	if err == nil && rec.UUID != it.UUID() {
		return backend.ErrItemExists
	} else if err != nil && err != ErrNotIndexed {
		return &backend.BackendError{Op: "rename", Name: it.Name(), Err: err}
	}
	if err := it.Item.Rename(ctx, newname); err != nil {
		return err
	}
	if err := it.ib.x.Rename(ctx, it.UUID(), it.Item.Name()); err != nil {
		it.ib.report("rename "+it.Name(), err)
	}
	return nil
}

func (it *indexedItem) Destroy(ctx context.Context) error {
	unlock := it.ib.locks.Lock(it.UUID())
	defer unlock()
	if err := it.Item.Destroy(ctx); err != nil {
		return err
	}
	if err := it.ib.x.Remove(ctx, it.UUID()); err != nil {
		it.ib.report("destroy "+it.Name(), err)
	}
	return nil
}

type indexedRevision struct {
	backend.Revision
	item backend.Item
}

func (r indexedRevision) Item() backend.Item { return r.item }

type indexedNewRevision struct {
	backend.NewRevision
	item backend.Item
}

func (r indexedNewRevision) Item() backend.Item { return r.item }

// keyedMutex is a set of mutexes created on demand, one per key.
type keyedMutex struct {
	m     sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sync.Mutex
	refs int
}

// Lock locks the mutex for key and returns the function unlocking it.
func (k *keyedMutex) Lock(key string) func() {
	k.m.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e := k.locks[key]
	if e == nil {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.m.Unlock()

	e.Lock()
	return func() {
		e.Unlock()
		k.m.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.m.Unlock()
	}
}
