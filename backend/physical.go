package backend

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Physical implements Backend on top of a Driver.
//
// Each item has a read/write lock: commits, renames and destroys hold it
// exclusively, revision loads hold it shared. Each item also has a metadata
// lock which is held from ChangeMetadata until PublishMetadata. Both are kept
// per process; two processes sharing one driver are only protected by the
// driver's own exclusive creates.
type Physical struct {
	Clock clock.Clock

	d     Driver
	m     sync.Mutex            // protects states
	state map[string]*itemState // keyed by item id
}

type itemState struct {
	rw       sync.RWMutex
	meta     chan struct{} // holds a token while metadata is being changed
	reserved map[int]bool  // guarded by Physical.m
}

var _ Backend = &Physical{}

// NewPhysical returns a backend storing its data through d.
func NewPhysical(d Driver) *Physical {
	return &Physical{
		Clock: clock.New(),
		d:     d,
		state: make(map[string]*itemState),
	}
}

// Driver returns the driver p was created with.
func (p *Physical) Driver() Driver { return p.d }

func (p *Physical) getState(id string) *itemState {
	p.m.Lock()
	defer p.m.Unlock()
	st := p.state[id]
	if st == nil {
		st = &itemState{
			meta:     make(chan struct{}, 1),
			reserved: make(map[int]bool),
		}
		p.state[id] = st
	}
	return st
}

func (p *Physical) CreateItem(ctx context.Context, name string) (Item, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if p.HasItem(ctx, name) {
		return nil, ErrItemExists
	}
	id := uuid.NewString()
	return &physItem{
		p:    p,
		rec:  ItemRecord{ID: id, Name: name},
		meta: make(Metadata),
		st:   p.getState(id),
	}, nil
}

func (p *Physical) GetItem(ctx context.Context, name string) (Item, error) {
	id, err := p.d.LookupItem(ctx, name)
	if err != nil {
		return nil, wrapErr("get_item", name, err)
	}
	return p.loadItem(ctx, ItemRecord{ID: id, Name: name})
}

func (p *Physical) loadItem(ctx context.Context, rec ItemRecord) (*physItem, error) {
	md, err := p.d.ItemMetadata(ctx, rec.ID)
	if err != nil {
		return nil, wrapErr("get_item", rec.Name, err)
	}
	return &physItem{
		p:      p,
		rec:    rec,
		meta:   md,
		stored: true,
		st:     p.getState(rec.ID),
	}, nil
}

func (p *Physical) HasItem(ctx context.Context, name string) bool {
	_, err := p.d.LookupItem(ctx, name)
	return err == nil
}

func (p *Physical) IterItems(ctx context.Context) ItemIterator {
	recs, err := p.d.ListItems(ctx)
	if err != nil {
		return ErrIterator(wrapErr("iteritems", "", err))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return Generator(func() (Item, bool, error) {
		for len(recs) > 0 {
			rec := recs[0]
			recs = recs[1:]
			item, err := p.loadItem(ctx, rec)
			if errors.Is(err, ErrNoSuchItem) {
				continue // destroyed since the listing was taken
			} else if err != nil {
				return nil, false, err
			}
			return item, true, nil
		}
		return nil, false, nil
	}, nil)
}

// SearchItems evaluates term against every item.
func (p *Physical) SearchItems(ctx context.Context, term Term) ItemIterator {
	return Filter(ctx, p.IterItems(ctx), term)
}

// Filter returns the items of it that satisfy term.
func Filter(ctx context.Context, it ItemIterator, term Term) ItemIterator {
	term.Reset()
	return Map(it, func(item Item) (Item, bool, error) {
		ok, err := term.Evaluate(ctx, item)
		return item, ok, err
	})
}

type physItem struct {
	p       *Physical
	rec     ItemRecord
	meta    Metadata // last published metadata
	pending Metadata // non-nil while this handle holds the metadata lock
	stored  bool     // false until the first commit or publish
	newrev  *newRevision
	st      *itemState
}

func (it *physItem) Name() string { return it.rec.Name }
func (it *physItem) UUID() string { return it.rec.ID }

func (it *physItem) ListRevisions(ctx context.Context) ([]int, error) {
	if !it.stored {
		return []int{}, nil
	}
	revs, err := it.p.d.ListRevisions(ctx, it.rec.ID)
	if err != nil {
		return nil, wrapErr("list_revisions", it.rec.Name, err)
	}
	sort.Ints(revs)
	return revs, nil
}

func (it *physItem) GetRevision(ctx context.Context, revno int) (Revision, error) {
	if revno == -1 {
		revs, err := it.ListRevisions(ctx)
		if err != nil {
			return nil, err
		}
		if len(revs) == 0 {
			return nil, ErrNoSuchRevision
		}
		revno = revs[len(revs)-1]
	}
	if !it.stored || revno < 0 {
		return nil, ErrNoSuchRevision
	}
	it.st.rw.RLock()
	rd, err := it.p.d.LoadRevision(ctx, it.rec.ID, revno)
	it.st.rw.RUnlock()
	if err != nil {
		return nil, wrapErr("get_revision", it.rec.Name, err)
	}
	return newStoredRevision(it, rd), nil
}

func (it *physItem) CreateRevision(ctx context.Context, revno int) (NewRevision, error) {
	if it.newrev != nil {
		return nil, &BackendError{Op: "create_revision", Name: it.rec.Name,
			Err: errors.New("a revision is already being written")}
	}
	revs, err := it.ListRevisions(ctx)
	if err != nil {
		return nil, err
	}
	next := 0
	if len(revs) > 0 {
		next = revs[len(revs)-1] + 1
	}
	it.p.m.Lock()
	defer it.p.m.Unlock()
	if revno < next || it.st.reserved[revno] {
		return nil, ErrRevisionExists
	}
	if revno != next {
		return nil, &BackendError{Op: "create_revision", Name: it.rec.Name,
			Err: fmt.Errorf("revision %d would leave a gap after %d", revno, next-1)}
	}
	it.st.reserved[revno] = true
	it.newrev = &newRevision{
		item:  it,
		revno: revno,
		meta:  make(Metadata),
	}
	return it.newrev, nil
}

func (it *physItem) release(revno int) {
	it.p.m.Lock()
	delete(it.st.reserved, revno)
	it.p.m.Unlock()
}

func (it *physItem) Commit(ctx context.Context) error {
	rev := it.newrev
	if rev == nil {
		return &BackendError{Op: "commit", Name: it.rec.Name, Err: errors.New("no revision to commit")}
	}
	defer func() {
		it.release(rev.revno)
		it.newrev = nil
	}()
	if rev.ts.IsZero() {
		rev.ts = it.p.Clock.Now().UTC()
	}
	rd := &RevisionData{
		Revno:     rev.revno,
		Timestamp: rev.ts,
		Metadata:  rev.meta.Copy(),
		Data:      rev.buf.Bytes(),
	}

	it.st.rw.Lock()
	defer it.st.rw.Unlock()
	inserted := false
	if !it.stored {
		md := it.meta
		if it.pending != nil {
			md = it.pending
		}
		if err := it.p.d.InsertItem(ctx, it.rec, md); err != nil {
			return wrapErr("commit", it.rec.Name, err)
		}
		inserted = true
	}
	if err := it.p.d.StoreRevision(ctx, it.rec.ID, rd); err != nil {
		// an item is only stored together with its first revision
		if inserted {
			if err2 := it.p.d.RemoveItem(ctx, it.rec); err2 != nil {
				log.Printf("backend: undo insert of %s: %s", it.rec.Name, err2)
				it.stored = true
			}
		}
		return wrapErr("commit", it.rec.Name, err)
	}
	if inserted {
		it.stored = true
		if it.pending != nil {
			it.meta = it.pending.Copy()
		}
	}
	rev.committed = true
	if it.pending != nil {
		if err := it.p.d.SetItemMetadata(ctx, it.rec.ID, it.pending); err != nil {
			return wrapErr("commit", it.rec.Name, err)
		}
		it.meta = it.pending
		it.pending = nil
		<-it.st.meta
	}
	return nil
}

func (it *physItem) Rollback(ctx context.Context) error {
	if it.newrev != nil {
		it.release(it.newrev.revno)
		it.newrev = nil
	}
	return nil
}

func (it *physItem) Rename(ctx context.Context, newname string) error {
	if err := ValidateName(newname); err != nil {
		return err
	}
	if !it.stored {
		return &BackendError{Op: "rename", Name: it.rec.Name, Err: errors.New("item is not stored yet")}
	}
	it.st.rw.Lock()
	defer it.st.rw.Unlock()
	err := it.p.d.RenameItem(ctx, it.rec.ID, it.rec.Name, newname)
	if err != nil {
		return wrapErr("rename", it.rec.Name, err)
	}
	it.rec.Name = newname
	return nil
}

func (it *physItem) Destroy(ctx context.Context) error {
	if !it.stored {
		return ErrNoSuchItem
	}
	it.st.rw.Lock()
	err := it.p.d.RemoveItem(ctx, it.rec)
	it.st.rw.Unlock()
	if err != nil {
		return wrapErr("destroy", it.rec.Name, err)
	}
	it.stored = false
	it.p.m.Lock()
	delete(it.p.state, it.rec.ID)
	it.p.m.Unlock()
	return nil
}

func (it *physItem) Metadata() Metadata {
	if it.pending != nil {
		return it.pending.Copy()
	}
	return it.meta.Copy()
}

func (it *physItem) ChangeMetadata(ctx context.Context) error {
	if it.pending != nil {
		return &BackendError{Op: "change_metadata", Name: it.rec.Name, Err: errors.New("metadata is already being changed")}
	}
	select {
	case it.st.meta <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if it.stored {
		md, err := it.p.d.ItemMetadata(ctx, it.rec.ID)
		if err != nil {
			<-it.st.meta
			return wrapErr("change_metadata", it.rec.Name, err)
		}
		it.meta = md
	}
	it.pending = it.meta.Copy()
	return nil
}

func (it *physItem) SetMetadata(key, value string) error {
	if it.pending == nil {
		return errors.Wrap(ErrImmutable, "item metadata is not locked")
	}
	it.pending[key] = value
	return nil
}

func (it *physItem) DeleteMetadata(key string) error {
	if it.pending == nil {
		return errors.Wrap(ErrImmutable, "item metadata is not locked")
	}
	delete(it.pending, key)
	return nil
}

func (it *physItem) PublishMetadata(ctx context.Context) error {
	if it.pending == nil {
		return &BackendError{Op: "publish_metadata", Name: it.rec.Name, Err: errors.New("metadata is not locked")}
	}
	defer func() {
		it.pending = nil
		<-it.st.meta
	}()
	var err error
	if it.stored {
		err = it.p.d.SetItemMetadata(ctx, it.rec.ID, it.pending)
	} else {
		err = it.p.d.InsertItem(ctx, it.rec, it.pending)
		it.stored = err == nil
	}
	if err != nil {
		return wrapErr("publish_metadata", it.rec.Name, err)
	}
	it.meta = it.pending
	return nil
}

// storedRevision is a committed revision.
type storedRevision struct {
	*bytes.Reader
	item Item
	rd   *RevisionData
}

func newStoredRevision(item Item, rd *RevisionData) *storedRevision {
	return &storedRevision{
		Reader: bytes.NewReader(rd.Data),
		item:   item,
		rd:     rd,
	}
}

func (r *storedRevision) Item() Item           { return r.item }
func (r *storedRevision) Revno() int           { return r.rd.Revno }
func (r *storedRevision) Timestamp() time.Time { return r.rd.Timestamp }
func (r *storedRevision) Size() int64          { return int64(len(r.rd.Data)) }
func (r *storedRevision) Metadata() Metadata   { return r.rd.Metadata.Copy() }

// newRevision buffers a revision until it is committed.
type newRevision struct {
	item      *physItem
	revno     int
	ts        time.Time
	meta      Metadata
	buf       bytes.Buffer
	off       int64
	committed bool
}

func (r *newRevision) Item() Item           { return r.item }
func (r *newRevision) Revno() int           { return r.revno }
func (r *newRevision) Timestamp() time.Time { return r.ts }
func (r *newRevision) Size() int64          { return int64(r.buf.Len()) }
func (r *newRevision) Metadata() Metadata   { return r.meta.Copy() }

func (r *newRevision) Read(p []byte) (int, error) {
	rd := bytes.NewReader(r.buf.Bytes())
	rd.Seek(r.off, 0)
	n, err := rd.Read(p)
	r.off += int64(n)
	return n, err
}

func (r *newRevision) Seek(offset int64, whence int) (int64, error) {
	rd := bytes.NewReader(r.buf.Bytes())
	rd.Seek(r.off, 0)
	off, err := rd.Seek(offset, whence)
	if err == nil {
		r.off = off
	}
	return off, err
}

func (r *newRevision) Write(p []byte) (int, error) {
	if r.committed {
		return 0, ErrImmutable
	}
	return r.buf.Write(p)
}

func (r *newRevision) SetMetadata(key, value string) error {
	if r.committed {
		return ErrImmutable
	}
	r.meta[key] = value
	return nil
}

func (r *newRevision) DeleteMetadata(key string) error {
	if r.committed {
		return ErrImmutable
	}
	delete(r.meta, key)
	return nil
}

func (r *newRevision) SetTimestamp(t time.Time) {
	if !r.committed {
		r.ts = t
	}
}
