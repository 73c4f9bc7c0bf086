// Package blob provides a physical backend that keeps items in a
// store.Store, so a wiki can live in a directory tree or an S3 bucket.
//
// Layout, for an item with id U and name N:
//
//	U.item            JSON item record: name and item metadata
//	H.name            id of the item called N, where H is the hex SHA-1 of N
//	U.r00000003.P     revision 3 payload, compressed, P is unique per writer
//	U.r00000003.rev   JSON revision record: timestamp, metadata, codec, P
//
// A revision is visible once its .rev record exists. The payload is written
// first under a key no other writer uses, so writers racing for the same
// revision never touch each other's payload. The loser removes its own
// payload. A crash between the two steps leaves an orphan payload that
// Destroy removes with the item.
package blob

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/backend"
	"github.com/ndlib/wikistore/compress"
	"github.com/ndlib/wikistore/store"
)

// New returns a backend keeping its data in s, compressing new revisions
// with codec.
func New(s store.Store, codec compress.Codec) *backend.Physical {
	return backend.NewPhysical(NewDriver(s, codec))
}

// Driver implements backend.Driver on a store.Store.
type Driver struct {
	s     jsonStore
	codec compress.Codec
	m     sync.Mutex // serializes changes to the name keys
}

var _ backend.Driver = &Driver{}

func NewDriver(s store.Store, codec compress.Codec) *Driver {
	if codec == nil {
		codec = compress.NewNop()
	}
	return &Driver{s: jsonStore{s}, codec: codec}
}

type itemRecord struct {
	Name     string           `json:"name"`
	Metadata backend.Metadata `json:"metadata"`
}

type revRecord struct {
	Timestamp time.Time        `json:"timestamp"`
	Metadata  backend.Metadata `json:"metadata"`
	Codec     string           `json:"codec"`
	Size      int              `json:"size"`
	Payload   string           `json:"payload"`
}

func nameKey(name string) string {
	sum := sha1.Sum([]byte(name))
	return hex.EncodeToString(sum[:]) + ".name"
}

func itemKey(id string) string { return id + ".item" }

func revKey(id string, revno int) string {
	return fmt.Sprintf("%s.r%08d", id, revno)
}

func (d *Driver) LookupItem(ctx context.Context, name string) (string, error) {
	data, err := store.ReadAll(d.s.Store, nameKey(name))
	if err == store.ErrNotExist {
		return "", backend.ErrNoSuchItem
	} else if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *Driver) ListItems(ctx context.Context) ([]backend.ItemRecord, error) {
	var result []backend.ItemRecord
	for key := range d.s.List() {
		if !strings.HasSuffix(key, ".item") {
			continue
		}
		var rec itemRecord
		id := strings.TrimSuffix(key, ".item")
		if err := d.s.load(key, &rec); err != nil {
			if err == store.ErrNotExist {
				continue
			}
			return nil, err
		}
		result = append(result, backend.ItemRecord{ID: id, Name: rec.Name})
	}
	return result, nil
}

func (d *Driver) InsertItem(ctx context.Context, rec backend.ItemRecord, md backend.Metadata) error {
	d.m.Lock()
	defer d.m.Unlock()
	err := store.WriteAll(d.s.Store, nameKey(rec.Name), []byte(rec.ID))
	if err == store.ErrKeyExists {
		return backend.ErrItemExists
	} else if err != nil {
		return err
	}
	err = d.s.create(itemKey(rec.ID), itemRecord{Name: rec.Name, Metadata: md})
	if err != nil {
		d.s.Delete(nameKey(rec.Name))
	}
	return err
}

func (d *Driver) RenameItem(ctx context.Context, id, oldname, newname string) error {
	d.m.Lock()
	defer d.m.Unlock()
	var rec itemRecord
	if err := d.s.load(itemKey(id), &rec); err != nil {
		return d.notFound(err)
	}
	err := store.WriteAll(d.s.Store, nameKey(newname), []byte(id))
	if err == store.ErrKeyExists {
		return backend.ErrItemExists
	} else if err != nil {
		return err
	}
	rec.Name = newname
	if err = d.s.save(itemKey(id), rec); err != nil {
		d.s.Delete(nameKey(newname))
		return err
	}
	return d.s.Delete(nameKey(oldname))
}

func (d *Driver) notFound(err error) error {
	if err == store.ErrNotExist {
		return backend.ErrNoSuchItem
	}
	return err
}

func (d *Driver) ItemMetadata(ctx context.Context, id string) (backend.Metadata, error) {
	var rec itemRecord
	if err := d.s.load(itemKey(id), &rec); err != nil {
		return nil, d.notFound(err)
	}
	if rec.Metadata == nil {
		rec.Metadata = make(backend.Metadata)
	}
	return rec.Metadata, nil
}

func (d *Driver) SetItemMetadata(ctx context.Context, id string, md backend.Metadata) error {
	d.m.Lock()
	defer d.m.Unlock()
	var rec itemRecord
	if err := d.s.load(itemKey(id), &rec); err != nil {
		return d.notFound(err)
	}
	rec.Metadata = md
	return d.s.save(itemKey(id), rec)
}

func (d *Driver) RemoveItem(ctx context.Context, rec backend.ItemRecord) error {
	d.m.Lock()
	defer d.m.Unlock()
	keys, err := d.s.ListPrefix(rec.ID + ".r")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := d.s.Delete(key); err != nil {
			return err
		}
	}
	if err := d.s.Delete(itemKey(rec.ID)); err != nil {
		return err
	}
	return d.s.Delete(nameKey(rec.Name))
}

func (d *Driver) ListRevisions(ctx context.Context, id string) ([]int, error) {
	keys, err := d.s.ListPrefix(id + ".r")
	if err != nil {
		return nil, err
	}
	var result []int
	for _, key := range keys {
		if !strings.HasSuffix(key, ".rev") {
			continue
		}
		s := strings.TrimSuffix(strings.TrimPrefix(key, id+".r"), ".rev")
		n, err := strconv.Atoi(s)
		if err != nil {
			continue
		}
		result = append(result, n)
	}
	return result, nil
}

func (d *Driver) LoadRevision(ctx context.Context, id string, revno int) (*backend.RevisionData, error) {
	var rec revRecord
	key := revKey(id, revno)
	if err := d.s.load(key+".rev", &rec); err != nil {
		if err == store.ErrNotExist {
			return nil, backend.ErrNoSuchRevision
		}
		return nil, err
	}
	payload, err := store.ReadAll(d.s.Store, key+"."+rec.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "payload of %s", key)
	}
	codec, err := compress.Lookup(rec.Codec)
	if err != nil {
		return nil, err
	}
	data, err := codec.Decode(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", key)
	}
	if rec.Metadata == nil {
		rec.Metadata = make(backend.Metadata)
	}
	return &backend.RevisionData{
		Revno:     revno,
		Timestamp: rec.Timestamp,
		Metadata:  rec.Metadata,
		Data:      data,
	}, nil
}

func (d *Driver) StoreRevision(ctx context.Context, id string, rd *backend.RevisionData) error {
	key := revKey(id, rd.Revno)
	if r, _, err := d.s.Open(key + ".rev"); err == nil {
		r.Close()
		return backend.ErrRevisionExists
	}
	payload, err := d.codec.Encode(rd.Data)
	if err != nil {
		return err
	}
	tag := uuid.NewString()
	if err := store.WriteAll(d.s.Store, key+"."+tag, payload); err != nil {
		return err
	}
	err = d.s.create(key+".rev", revRecord{
		Timestamp: rd.Timestamp,
		Metadata:  rd.Metadata,
		Codec:     d.codec.Name(),
		Size:      len(rd.Data),
		Payload:   tag,
	})
	if err != nil {
		d.s.Delete(key + "." + tag)
	}
	if err == store.ErrKeyExists {
		return backend.ErrRevisionExists
	}
	return err
}
