package backend

import (
	"context"
)

// ReadOnly wraps b so that every mutating operation fails with
// ErrImmutable. Items it returns report FromUnderlay() == true. It is used to
// mount the pages shipped with the wiki under the user's own data.
func ReadOnly(b Backend) Backend {
	return roBackend{b}
}

type roBackend struct {
	b Backend
}

func (r roBackend) CreateItem(ctx context.Context, name string) (Item, error) {
	return nil, ErrImmutable
}

func (r roBackend) GetItem(ctx context.Context, name string) (Item, error) {
	item, err := r.b.GetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	return roItem{item}, nil
}

func (r roBackend) HasItem(ctx context.Context, name string) bool {
	return r.b.HasItem(ctx, name)
}

func (r roBackend) IterItems(ctx context.Context) ItemIterator {
	return Map(r.b.IterItems(ctx), wrapRO)
}

func (r roBackend) SearchItems(ctx context.Context, term Term) ItemIterator {
	// evaluate against wrapped items so FromUnderlay terms see them
	return Filter(ctx, r.IterItems(ctx), term)
}

func wrapRO(item Item) (Item, bool, error) {
	return roItem{item}, true, nil
}

type roItem struct {
	Item
}

func (i roItem) FromUnderlay() bool { return true }

func (i roItem) GetRevision(ctx context.Context, revno int) (Revision, error) {
	rev, err := i.Item.GetRevision(ctx, revno)
	if err != nil {
		return nil, err
	}
	return roRevision{Revision: rev, item: i}, nil
}

func (i roItem) CreateRevision(ctx context.Context, revno int) (NewRevision, error) {
	return nil, ErrImmutable
}

func (i roItem) Commit(ctx context.Context) error                 { return ErrImmutable }
func (i roItem) Rename(ctx context.Context, newname string) error { return ErrImmutable }
func (i roItem) Destroy(ctx context.Context) error                { return ErrImmutable }
func (i roItem) ChangeMetadata(ctx context.Context) error         { return ErrImmutable }
func (i roItem) SetMetadata(key, value string) error              { return ErrImmutable }
func (i roItem) DeleteMetadata(key string) error                  { return ErrImmutable }
func (i roItem) PublishMetadata(ctx context.Context) error        { return ErrImmutable }

type roRevision struct {
	Revision
	item Item
}

func (r roRevision) Item() Item { return r.item }
