// Package router provides a backend that dispatches to child backends by
// item name prefix.
//
// A wiki typically mounts user data at "", a separate user profile backend
// at "UserProfile", and the pages shipped with the software as a read-only
// underlay.
package router

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/backend"
)

// A Mount attaches Backend at Prefix. Names under the mount reach the child
// with the prefix and the following slash removed. The name equal to the
// prefix itself belongs to the catch-all mount.
type Mount struct {
	Prefix  string
	Backend backend.Backend
}

// Router implements backend.Backend over a list of mounts.
type Router struct {
	mounts   []Mount
	underlay backend.Backend
}

var (
	_ backend.Backend   = &Router{}
	_ backend.Underlaid = &Router{}
)

// ErrMountOrder is returned by New when the catch-all "" mount is missing
// or is not the last one.
var ErrMountOrder = errors.New(`the "" mount must be present and last`)

// New returns a router over mounts. The catch-all mount with an empty prefix
// must be last. If underlay is not nil it is wrapped read-only and consulted
// for items that none of the mounts have.
func New(mounts []Mount, underlay backend.Backend) (*Router, error) {
	if len(mounts) == 0 || mounts[len(mounts)-1].Prefix != "" {
		return nil, ErrMountOrder
	}
	r := &Router{}
	for i, m := range mounts {
		m.Prefix = strings.TrimRight(m.Prefix, "/")
		if m.Prefix == "" && i != len(mounts)-1 {
			return nil, ErrMountOrder
		}
		r.mounts = append(r.mounts, m)
	}
	if underlay != nil {
		r.underlay = backend.ReadOnly(underlay)
	}
	return r, nil
}

// resolve returns the mount responsible for name and the name relative to
// it. The longest matching prefix wins.
func (r *Router) resolve(name string) (Mount, string) {
	best := -1
	for i, m := range r.mounts {
		if m.Prefix == "" {
			if best < 0 {
				best = i
			}
			continue
		}
		if strings.HasPrefix(name, m.Prefix+"/") {
			if best < 0 || len(m.Prefix) > len(r.mounts[best].Prefix) {
				best = i
			}
		}
	}
	m := r.mounts[best]
	if m.Prefix == "" {
		return m, name
	}
	return m, strings.TrimPrefix(name, m.Prefix+"/")
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (r *Router) CreateItem(ctx context.Context, name string) (backend.Item, error) {
	if err := backend.ValidateName(name); err != nil {
		return nil, err
	}
	m, rel := r.resolve(name)
	item, err := m.Backend.CreateItem(ctx, rel)
	if err != nil {
		return nil, err
	}
	return &routedItem{Item: item, r: r, prefix: m.Prefix}, nil
}

func (r *Router) GetItem(ctx context.Context, name string) (backend.Item, error) {
	m, rel := r.resolve(name)
	item, err := m.Backend.GetItem(ctx, rel)
	if errors.Is(err, backend.ErrNoSuchItem) && r.underlay != nil {
		return r.underlay.GetItem(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	return &routedItem{Item: item, r: r, prefix: m.Prefix}, nil
}

func (r *Router) HasItem(ctx context.Context, name string) bool {
	m, rel := r.resolve(name)
	if m.Backend.HasItem(ctx, rel) {
		return true
	}
	return r.underlay != nil && r.underlay.HasItem(ctx, name)
}

// IterItems lists the items of each mount in mount order, then the underlay
// items that are not shadowed by a mounted item.
func (r *Router) IterItems(ctx context.Context) backend.ItemIterator {
	var its []backend.ItemIterator
	for _, m := range r.mounts {
		its = append(its, r.mounted(ctx, m, m.Backend.IterItems(ctx)))
	}
	if r.underlay != nil {
		its = append(its, r.unshadowed(ctx))
	}
	return backend.Concat(its...)
}

// IterUnderlay lists the underlay items that are not shadowed by a mounted
// item.
func (r *Router) IterUnderlay(ctx context.Context) backend.ItemIterator {
	if r.underlay == nil {
		return backend.Concat()
	}
	return r.unshadowed(ctx)
}

func (r *Router) unshadowed(ctx context.Context) backend.ItemIterator {
	return backend.Map(r.underlay.IterItems(ctx), func(item backend.Item) (backend.Item, bool, error) {
		m, rel := r.resolve(item.Name())
		return item, !m.Backend.HasItem(ctx, rel), nil
	})
}

// mounted prefixes the items of it. Items of the catch-all mount whose name
// falls under another mount are hidden, since that mount owns the name.
func (r *Router) mounted(ctx context.Context, m Mount, it backend.ItemIterator) backend.ItemIterator {
	return backend.Map(it, func(item backend.Item) (backend.Item, bool, error) {
		full := join(m.Prefix, item.Name())
		if owner, _ := r.resolve(full); owner.Prefix != m.Prefix {
			return nil, false, nil
		}
		return &routedItem{Item: item, r: r, prefix: m.Prefix}, true, nil
	})
}

// SearchItems lists the matching items in the same order as IterItems.
// Items of the catch-all mount keep their names, so that mount runs the
// search itself and may use its index. Other mounts are searched by name
// after prefixing.
func (r *Router) SearchItems(ctx context.Context, term backend.Term) backend.ItemIterator {
	var its []backend.ItemIterator
	for _, m := range r.mounts {
		if m.Prefix == "" {
			its = append(its, r.mounted(ctx, m, m.Backend.SearchItems(ctx, term)))
			continue
		}
		its = append(its, backend.Filter(ctx, r.mounted(ctx, m, m.Backend.IterItems(ctx)), term))
	}
	if r.underlay != nil {
		its = append(its, backend.Filter(ctx, r.unshadowed(ctx), term))
	}
	return backend.Concat(its...)
}

// routedItem presents a child item under its full name.
type routedItem struct {
	backend.Item
	r      *Router
	prefix string
}

func (it *routedItem) Name() string { return join(it.prefix, it.Item.Name()) }

func (it *routedItem) FromUnderlay() bool {
	u, ok := it.Item.(backend.UnderlayItem)
	return ok && u.FromUnderlay()
}

func (it *routedItem) GetRevision(ctx context.Context, revno int) (backend.Revision, error) {
	rev, err := it.Item.GetRevision(ctx, revno)
	if err != nil {
		return nil, err
	}
	return routedRevision{Revision: rev, item: it}, nil
}

func (it *routedItem) CreateRevision(ctx context.Context, revno int) (backend.NewRevision, error) {
	rev, err := it.Item.CreateRevision(ctx, revno)
	if err != nil {
		return nil, err
	}
	return routedNewRevision{NewRevision: rev, item: it}, nil
}

// Rename moves the item within its mount. Moving an item to a name owned by
// another mount is not supported.
func (it *routedItem) Rename(ctx context.Context, newname string) error {
	if err := backend.ValidateName(newname); err != nil {
		return err
	}
	m, rel := it.r.resolve(newname)
	if m.Prefix != it.prefix {
		return &backend.BackendError{Op: "rename", Name: it.Name(),
			Err: errors.Errorf("%q belongs to another mount", newname)}
	}
	return it.Item.Rename(ctx, rel)
}

type routedRevision struct {
	backend.Revision
	item backend.Item
}

func (r routedRevision) Item() backend.Item { return r.item }

type routedNewRevision struct {
	backend.NewRevision
	item backend.Item
}

func (r routedNewRevision) Item() backend.Item { return r.item }
