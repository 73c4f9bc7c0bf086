package acl

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/backend"
)

// Rights checked by the backend wrapper.
const (
	Read    = "read"
	Write   = "write"
	Create  = "create"
	Destroy = "destroy"
	Admin   = "admin"
)

// AccessDeniedError reports a failed permission check. It matches
// backend.ErrAccessDenied with errors.Is.
type AccessDeniedError struct {
	User  string
	Right string
	Item  string
}

func (e *AccessDeniedError) Error() string {
	user := e.User
	if user == "" {
		user = "anonymous"
	}
	return fmt.Sprintf("%s may not %s %q", user, e.Right, e.Item)
}

func (e *AccessDeniedError) Unwrap() error { return backend.ErrAccessDenied }

// Backend enforces ACLs on the backend it wraps. The principal is taken
// from the context of each call.
//
// Reading an item needs read, creating one needs create, changing it needs
// write, and destroying it needs destroy. Renaming needs write on both
// names. Committing a revision whose acl differs from the one in force,
// including one that drops the acl, also needs admin.
// HasItem does not hide the existence of items, and listings silently skip
// items that may not be read.
type Backend struct {
	b backend.Backend
	c *Checker
}

var _ backend.Backend = &Backend{}

// Wrap returns b guarded by c.
func Wrap(b backend.Backend, c *Checker) *Backend {
	return &Backend{b: b, c: c}
}

// Unguarded returns the wrapped backend.
func (ab *Backend) Unguarded() backend.Backend { return ab.b }

// Checker returns the checker used by ab.
func (ab *Backend) Checker() *Checker { return ab.c }

// Lookup reads the acl metadata of the latest revision of name from the
// unguarded backend.
func (ab *Backend) Lookup(ctx context.Context, name string) (string, bool, error) {
	item, err := ab.b.GetItem(ctx, name)
	if errors.Is(err, backend.ErrNoSuchItem) {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	rev, err := item.GetRevision(ctx, -1)
	if errors.Is(err, backend.ErrNoSuchRevision) {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	s, ok := rev.Metadata()[backend.KeyACL]
	return s, ok, nil
}

// May reports whether the principal in ctx has right on name.
func (ab *Backend) May(ctx context.Context, right, name string) (bool, error) {
	return ab.c.May(ctx, PrincipalFrom(ctx), right, name, ab.Lookup)
}

func (ab *Backend) require(ctx context.Context, right, name string) error {
	ok, err := ab.May(ctx, right, name)
	if err != nil {
		return err
	}
	if !ok {
		return &AccessDeniedError{User: PrincipalFrom(ctx).Name, Right: right, Item: name}
	}
	return nil
}

func (ab *Backend) CreateItem(ctx context.Context, name string) (backend.Item, error) {
	if err := ab.require(ctx, Create, name); err != nil {
		return nil, err
	}
	item, err := ab.b.CreateItem(ctx, name)
	if err != nil {
		return nil, err
	}
	return &guardedItem{Item: item, ab: ab}, nil
}

func (ab *Backend) GetItem(ctx context.Context, name string) (backend.Item, error) {
	if err := ab.require(ctx, Read, name); err != nil {
		return nil, err
	}
	item, err := ab.b.GetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	return &guardedItem{Item: item, ab: ab}, nil
}

func (ab *Backend) HasItem(ctx context.Context, name string) bool {
	return ab.b.HasItem(ctx, name)
}

func (ab *Backend) IterItems(ctx context.Context) backend.ItemIterator {
	return ab.readable(ctx, ab.b.IterItems(ctx))
}

func (ab *Backend) SearchItems(ctx context.Context, term backend.Term) backend.ItemIterator {
	return ab.readable(ctx, ab.b.SearchItems(ctx, term))
}

func (ab *Backend) readable(ctx context.Context, it backend.ItemIterator) backend.ItemIterator {
	return backend.Map(it, func(item backend.Item) (backend.Item, bool, error) {
		ok, err := ab.May(ctx, Read, item.Name())
		if err != nil || !ok {
			return nil, false, err
		}
		return &guardedItem{Item: item, ab: ab}, true, nil
	})
}

type guardedItem struct {
	backend.Item
	ab *Backend
	// ctx of the last CreateRevision, used by the new revision's
	// SetMetadata which has no context of its own
	ctx     context.Context
	pending *guardedNewRevision
}

func (it *guardedItem) FromUnderlay() bool {
	u, ok := it.Item.(backend.UnderlayItem)
	return ok && u.FromUnderlay()
}

func (it *guardedItem) ListRevisions(ctx context.Context) ([]int, error) {
	if err := it.ab.require(ctx, Read, it.Name()); err != nil {
		return nil, err
	}
	return it.Item.ListRevisions(ctx)
}

func (it *guardedItem) GetRevision(ctx context.Context, revno int) (backend.Revision, error) {
	if err := it.ab.require(ctx, Read, it.Name()); err != nil {
		return nil, err
	}
	rev, err := it.Item.GetRevision(ctx, revno)
	if err != nil {
		return nil, err
	}
	return guardedRevision{Revision: rev, item: it}, nil
}

func (it *guardedItem) CreateRevision(ctx context.Context, revno int) (backend.NewRevision, error) {
	if err := it.ab.require(ctx, Write, it.Name()); err != nil {
		return nil, err
	}
	rev, err := it.Item.CreateRevision(ctx, revno)
	if err != nil {
		return nil, err
	}
	it.ctx = ctx
	it.pending = &guardedNewRevision{NewRevision: rev, item: it}
	return it.pending, nil
}

func (it *guardedItem) Commit(ctx context.Context) error {
	if err := it.ab.require(ctx, Write, it.Name()); err != nil {
		return err
	}
	if it.pending != nil {
		value, ok := it.pending.Metadata()[backend.KeyACL]
		if err := it.requireACL(ctx, value, ok); err != nil {
			return err
		}
	}
	if err := it.Item.Commit(ctx); err != nil {
		return err
	}
	it.pending = nil
	return nil
}

func (it *guardedItem) Rollback(ctx context.Context) error {
	it.pending = nil
	return it.Item.Rollback(ctx)
}

// standingACL returns the acl of the latest revision that is not deleted.
func (it *guardedItem) standingACL(ctx context.Context) (string, bool, error) {
	revs, err := it.Item.ListRevisions(ctx)
	if err != nil {
		return "", false, err
	}
	for i := len(revs) - 1; i >= 0; i-- {
		rev, err := it.Item.GetRevision(ctx, revs[i])
		if err != nil {
			return "", false, err
		}
		if backend.IsDeleted(rev) {
			continue
		}
		value, ok := rev.Metadata()[backend.KeyACL]
		return value, ok, nil
	}
	return "", false, nil
}

// requireACL needs admin unless value (present if ok) is the acl in force.
func (it *guardedItem) requireACL(ctx context.Context, value string, ok bool) error {
	last, lastOK, err := it.standingACL(ctx)
	if err != nil {
		return err
	}
	if value == last && ok == lastOK {
		return nil
	}
	return it.ab.require(ctx, Admin, it.Name())
}

func (it *guardedItem) Rename(ctx context.Context, newname string) error {
	if err := it.ab.require(ctx, Write, it.Name()); err != nil {
		return err
	}
	if err := it.ab.require(ctx, Write, newname); err != nil {
		return err
	}
	return it.Item.Rename(ctx, newname)
}

func (it *guardedItem) Destroy(ctx context.Context) error {
	if err := it.ab.require(ctx, Destroy, it.Name()); err != nil {
		return err
	}
	return it.Item.Destroy(ctx)
}

func (it *guardedItem) ChangeMetadata(ctx context.Context) error {
	if err := it.ab.require(ctx, Write, it.Name()); err != nil {
		return err
	}
	it.ctx = ctx
	return it.Item.ChangeMetadata(ctx)
}

func (it *guardedItem) PublishMetadata(ctx context.Context) error {
	if err := it.ab.require(ctx, Write, it.Name()); err != nil {
		return err
	}
	return it.Item.PublishMetadata(ctx)
}

func (it *guardedItem) context() context.Context {
	if it.ctx == nil {
		return context.Background()
	}
	return it.ctx
}

func (it *guardedItem) SetMetadata(key, value string) error {
	if err := it.ab.require(it.context(), Write, it.Name()); err != nil {
		return err
	}
	return it.Item.SetMetadata(key, value)
}

func (it *guardedItem) DeleteMetadata(key string) error {
	if err := it.ab.require(it.context(), Write, it.Name()); err != nil {
		return err
	}
	return it.Item.DeleteMetadata(key)
}

type guardedRevision struct {
	backend.Revision
	item backend.Item
}

func (r guardedRevision) Item() backend.Item { return r.item }

type guardedNewRevision struct {
	backend.NewRevision
	item *guardedItem
}

func (r *guardedNewRevision) Item() backend.Item { return r.item }

// SetMetadata needs admin to change the acl. Keeping the acl of the
// previous revision is allowed. Commit checks again, so a revision that
// never sets the acl cannot drop it either.
func (r *guardedNewRevision) SetMetadata(key, value string) error {
	if key == backend.KeyACL {
		if err := r.item.requireACL(r.item.context(), value, true); err != nil {
			return err
		}
	}
	return r.NewRevision.SetMetadata(key, value)
}

func (r *guardedNewRevision) DeleteMetadata(key string) error {
	if key == backend.KeyACL {
		if err := r.item.requireACL(r.item.context(), "", false); err != nil {
			return err
		}
	}
	return r.NewRevision.DeleteMetadata(key)
}
