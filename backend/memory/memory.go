// Package memory provides a physical backend that keeps everything in
// process memory. It is used for tests and throw-away wikis.
package memory

import (
	"context"
	"sync"

	"github.com/ndlib/wikistore/backend"
)

// New returns an empty in-memory backend.
func New() *backend.Physical {
	return backend.NewPhysical(NewDriver())
}

// Driver implements backend.Driver with maps.
type Driver struct {
	m     sync.RWMutex
	names map[string]string // name -> id
	items map[string]*item  // id -> item
}

type item struct {
	name string
	meta backend.Metadata
	revs map[int]*backend.RevisionData
}

var _ backend.Driver = &Driver{}

func NewDriver() *Driver {
	return &Driver{
		names: make(map[string]string),
		items: make(map[string]*item),
	}
}

func (d *Driver) LookupItem(ctx context.Context, name string) (string, error) {
	d.m.RLock()
	defer d.m.RUnlock()
	id, ok := d.names[name]
	if !ok {
		return "", backend.ErrNoSuchItem
	}
	return id, nil
}

func (d *Driver) ListItems(ctx context.Context) ([]backend.ItemRecord, error) {
	d.m.RLock()
	defer d.m.RUnlock()
	result := make([]backend.ItemRecord, 0, len(d.names))
	for name, id := range d.names {
		result = append(result, backend.ItemRecord{ID: id, Name: name})
	}
	return result, nil
}

func (d *Driver) InsertItem(ctx context.Context, rec backend.ItemRecord, md backend.Metadata) error {
	d.m.Lock()
	defer d.m.Unlock()
	if _, ok := d.names[rec.Name]; ok {
		return backend.ErrItemExists
	}
	d.names[rec.Name] = rec.ID
	d.items[rec.ID] = &item{
		name: rec.Name,
		meta: md.Copy(),
		revs: make(map[int]*backend.RevisionData),
	}
	return nil
}

func (d *Driver) RenameItem(ctx context.Context, id, oldname, newname string) error {
	d.m.Lock()
	defer d.m.Unlock()
	if _, ok := d.names[newname]; ok {
		return backend.ErrItemExists
	}
	it, ok := d.items[id]
	if !ok {
		return backend.ErrNoSuchItem
	}
	delete(d.names, it.name)
	d.names[newname] = id
	it.name = newname
	return nil
}

func (d *Driver) get(id string) (*item, error) {
	it, ok := d.items[id]
	if !ok {
		return nil, backend.ErrNoSuchItem
	}
	return it, nil
}

func (d *Driver) ItemMetadata(ctx context.Context, id string) (backend.Metadata, error) {
	d.m.RLock()
	defer d.m.RUnlock()
	it, err := d.get(id)
	if err != nil {
		return nil, err
	}
	return it.meta.Copy(), nil
}

func (d *Driver) SetItemMetadata(ctx context.Context, id string, md backend.Metadata) error {
	d.m.Lock()
	defer d.m.Unlock()
	it, err := d.get(id)
	if err != nil {
		return err
	}
	it.meta = md.Copy()
	return nil
}

func (d *Driver) RemoveItem(ctx context.Context, rec backend.ItemRecord) error {
	d.m.Lock()
	defer d.m.Unlock()
	it, err := d.get(rec.ID)
	if err != nil {
		return err
	}
	delete(d.names, it.name)
	delete(d.items, rec.ID)
	return nil
}

func (d *Driver) ListRevisions(ctx context.Context, id string) ([]int, error) {
	d.m.RLock()
	defer d.m.RUnlock()
	it, err := d.get(id)
	if err != nil {
		return nil, err
	}
	result := make([]int, 0, len(it.revs))
	for n := range it.revs {
		result = append(result, n)
	}
	return result, nil
}

func (d *Driver) LoadRevision(ctx context.Context, id string, revno int) (*backend.RevisionData, error) {
	d.m.RLock()
	defer d.m.RUnlock()
	it, err := d.get(id)
	if err != nil {
		return nil, err
	}
	rd, ok := it.revs[revno]
	if !ok {
		return nil, backend.ErrNoSuchRevision
	}
	return rd, nil
}

func (d *Driver) StoreRevision(ctx context.Context, id string, rd *backend.RevisionData) error {
	d.m.Lock()
	defer d.m.Unlock()
	it, err := d.get(id)
	if err != nil {
		return err
	}
	if _, ok := it.revs[rd.Revno]; ok {
		return backend.ErrRevisionExists
	}
	it.revs[rd.Revno] = rd
	return nil
}
