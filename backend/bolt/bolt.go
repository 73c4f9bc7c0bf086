// Package bolt provides a physical backend kept in a single bbolt database
// file.
//
// Buckets:
//
//	names            item name -> item id
//	items/<id>       "record" -> JSON item record
//	items/<id>/revs  big endian revno -> JSON revision record (with payload)
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/ndlib/wikistore/backend"
)

const (
	bucketNames = "names"
	bucketItems = "items"
	bucketRevs  = "revs"
	keyRecord   = "record"
)

var initDB = map[string]func(*bolt.Tx) error{
	"initialize name table": func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketNames))
		return err
	},
	"initialize item table": func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketItems))
		return err
	},
}

// Driver implements backend.Driver on a bbolt database.
type Driver struct {
	db *bolt.DB
}

var _ backend.Driver = &Driver{}

// Open opens (creating if needed) the database at path and returns a
// backend on it, along with the driver so the caller can Close it.
func Open(path string) (*backend.Physical, *Driver, error) {
	d, err := NewDriver(path)
	if err != nil {
		return nil, nil, err
	}
	return backend.NewPhysical(d), d, nil
}

func NewDriver(path string) (*Driver, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for name, fn := range initDB {
			if err := fn(tx); err != nil {
				return errors.Wrap(err, name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Driver{db: db}, nil
}

// Close closes the database file.
func (d *Driver) Close() error {
	return d.db.Close()
}

type itemRecord struct {
	Name     string           `json:"name"`
	Metadata backend.Metadata `json:"metadata"`
}

type revRecord struct {
	Timestamp time.Time        `json:"timestamp"`
	Metadata  backend.Metadata `json:"metadata"`
	Data      []byte           `json:"data"`
}

func marshalRevno(revno int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(revno))
	return b
}

func unmarshalRevno(key []byte) int {
	return int(binary.BigEndian.Uint64(key))
}

func itemBucket(tx *bolt.Tx, id string) *bolt.Bucket {
	return tx.Bucket([]byte(bucketItems)).Bucket([]byte(id))
}

func loadRecord(b *bolt.Bucket) (itemRecord, error) {
	var rec itemRecord
	err := json.Unmarshal(b.Get([]byte(keyRecord)), &rec)
	if rec.Metadata == nil {
		rec.Metadata = make(backend.Metadata)
	}
	return rec, err
}

func putRecord(b *bolt.Bucket, rec itemRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(keyRecord), v)
}

func (d *Driver) LookupItem(ctx context.Context, name string) (string, error) {
	var id string
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketNames)).Get([]byte(name))
		if v == nil {
			return backend.ErrNoSuchItem
		}
		id = string(v)
		return nil
	})
	return id, err
}

func (d *Driver) ListItems(ctx context.Context) ([]backend.ItemRecord, error) {
	var result []backend.ItemRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketNames)).ForEach(func(k, v []byte) error {
			result = append(result, backend.ItemRecord{ID: string(v), Name: string(k)})
			return nil
		})
	})
	return result, err
}

func (d *Driver) InsertItem(ctx context.Context, rec backend.ItemRecord, md backend.Metadata) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket([]byte(bucketNames))
		if names.Get([]byte(rec.Name)) != nil {
			return backend.ErrItemExists
		}
		if err := names.Put([]byte(rec.Name), []byte(rec.ID)); err != nil {
			return err
		}
		b, err := tx.Bucket([]byte(bucketItems)).CreateBucket([]byte(rec.ID))
		if err != nil {
			return err
		}
		if _, err = b.CreateBucket([]byte(bucketRevs)); err != nil {
			return err
		}
		return putRecord(b, itemRecord{Name: rec.Name, Metadata: md})
	})
}

func (d *Driver) RenameItem(ctx context.Context, id, oldname, newname string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket([]byte(bucketNames))
		if names.Get([]byte(newname)) != nil {
			return backend.ErrItemExists
		}
		b := itemBucket(tx, id)
		if b == nil {
			return backend.ErrNoSuchItem
		}
		rec, err := loadRecord(b)
		if err != nil {
			return err
		}
		if err = names.Delete([]byte(rec.Name)); err != nil {
			return err
		}
		if err = names.Put([]byte(newname), []byte(id)); err != nil {
			return err
		}
		rec.Name = newname
		return putRecord(b, rec)
	})
}

func (d *Driver) ItemMetadata(ctx context.Context, id string) (backend.Metadata, error) {
	var md backend.Metadata
	err := d.db.View(func(tx *bolt.Tx) error {
		b := itemBucket(tx, id)
		if b == nil {
			return backend.ErrNoSuchItem
		}
		rec, err := loadRecord(b)
		md = rec.Metadata
		return err
	})
	return md, err
}

func (d *Driver) SetItemMetadata(ctx context.Context, id string, md backend.Metadata) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := itemBucket(tx, id)
		if b == nil {
			return backend.ErrNoSuchItem
		}
		rec, err := loadRecord(b)
		if err != nil {
			return err
		}
		rec.Metadata = md
		return putRecord(b, rec)
	})
}

func (d *Driver) RemoveItem(ctx context.Context, rec backend.ItemRecord) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket([]byte(bucketItems))
		b := items.Bucket([]byte(rec.ID))
		if b == nil {
			return backend.ErrNoSuchItem
		}
		stored, err := loadRecord(b)
		if err != nil {
			return err
		}
		if err = tx.Bucket([]byte(bucketNames)).Delete([]byte(stored.Name)); err != nil {
			return err
		}
		return items.DeleteBucket([]byte(rec.ID))
	})
}

func (d *Driver) ListRevisions(ctx context.Context, id string) ([]int, error) {
	var result []int
	err := d.db.View(func(tx *bolt.Tx) error {
		b := itemBucket(tx, id)
		if b == nil {
			return backend.ErrNoSuchItem
		}
		return b.Bucket([]byte(bucketRevs)).ForEach(func(k, v []byte) error {
			result = append(result, unmarshalRevno(k))
			return nil
		})
	})
	return result, err
}

func (d *Driver) LoadRevision(ctx context.Context, id string, revno int) (*backend.RevisionData, error) {
	var rec revRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		b := itemBucket(tx, id)
		if b == nil {
			return backend.ErrNoSuchItem
		}
		v := b.Bucket([]byte(bucketRevs)).Get(marshalRevno(revno))
		if v == nil {
			return backend.ErrNoSuchRevision
		}
		// v is only valid inside the transaction; Unmarshal copies it
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	if rec.Metadata == nil {
		rec.Metadata = make(backend.Metadata)
	}
	return &backend.RevisionData{
		Revno:     revno,
		Timestamp: rec.Timestamp,
		Metadata:  rec.Metadata,
		Data:      rec.Data,
	}, nil
}

func (d *Driver) StoreRevision(ctx context.Context, id string, rd *backend.RevisionData) error {
	v, err := json.Marshal(revRecord{
		Timestamp: rd.Timestamp,
		Metadata:  rd.Metadata,
		Data:      rd.Data,
	})
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := itemBucket(tx, id)
		if b == nil {
			return backend.ErrNoSuchItem
		}
		revs := b.Bucket([]byte(bucketRevs))
		key := marshalRevno(rd.Revno)
		if revs.Get(key) != nil {
			return backend.ErrRevisionExists
		}
		return revs.Put(key, v)
	})
}
