// Package backend defines the item and revision contract the rest of the wiki
// programs against, and a generic engine that turns a simple Driver into a
// full physical backend.
//
// An Item is a named, versioned object. Its revisions are numbered 0, 1, 2...
// without gaps, and a committed revision never changes. Higher layers (the
// router, the indexing and ACL wrappers) implement the same interfaces and
// delegate to the backend they wrap.
//
// Every blocking call takes a context. The request principal used by the ACL
// wrapper travels in that context too.
package backend

import (
	"context"
	"io"
	"sort"
	"time"
)

// Well known metadata keys.
const (
	KeyAction   = "action"
	KeyAddr     = "addr"
	KeyHostname = "hostname"
	KeyUserID   = "userid"
	KeyExtra    = "extra"
	KeyComment  = "comment"
	KeyMimetype = "mimetype"
	KeyACL      = "acl"
	KeyDeleted  = "deleted"
	KeyName     = "name"
	KeyOldName  = "old_name"
	KeyEditLock = "edit_lock"
)

// Metadata maps string keys to string values. Tuple values are encoded by
// their owner, e.g. the edit lock record is tab separated.
type Metadata map[string]string

// Copy returns a shallow copy of m. The copy of a nil map is an empty map.
func (m Metadata) Copy() Metadata {
	c := make(Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Keys returns the keys of m in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Backend is the storage contract.
type Backend interface {
	// CreateItem returns a new item with the given name. The item is not
	// stored until its first revision is committed or its metadata is
	// published. Fails with ErrItemExists if the name is taken.
	CreateItem(ctx context.Context, name string) (Item, error)

	// GetItem fails with ErrNoSuchItem.
	GetItem(ctx context.Context, name string) (Item, error)

	HasItem(ctx context.Context, name string) bool

	// IterItems lists the items present when the iteration starts.
	// Changes made during the iteration may or may not be seen.
	IterItems(ctx context.Context) ItemIterator

	// SearchItems lists the items matching term.
	SearchItems(ctx context.Context, term Term) ItemIterator
}

// Item is a named, versioned object.
type Item interface {
	Name() string
	UUID() string

	// ListRevisions returns the committed revision numbers in ascending order.
	ListRevisions(ctx context.Context) ([]int, error)

	// GetRevision returns a committed revision. A revno of -1 means the
	// latest one.
	GetRevision(ctx context.Context, revno int) (Revision, error)

	// CreateRevision reserves revno, which must be one past the latest
	// committed revision. A revno that is committed or reserved by another
	// writer fails with ErrRevisionExists.
	CreateRevision(ctx context.Context, revno int) (NewRevision, error)

	// Commit stores the reserved revision together with any pending item
	// metadata.
	Commit(ctx context.Context) error

	// Rollback drops the reserved revision.
	Rollback(ctx context.Context) error

	Rename(ctx context.Context, newname string) error

	// Destroy removes the item and all of its revisions.
	Destroy(ctx context.Context) error

	// Metadata returns a copy of the item metadata, including uncommitted
	// changes made by this handle.
	Metadata() Metadata

	// ChangeMetadata takes the exclusive metadata lock. SetMetadata and
	// DeleteMetadata are only allowed while it is held, and
	// PublishMetadata stores the changes and releases it.
	ChangeMetadata(ctx context.Context) error
	SetMetadata(key, value string) error
	DeleteMetadata(key string) error
	PublishMetadata(ctx context.Context) error
}

// Revision is an immutable snapshot of an item. Reading consumes the body;
// Seek back to read it again.
type Revision interface {
	io.ReadSeeker
	Item() Item
	Revno() int
	Timestamp() time.Time
	Size() int64
	Metadata() Metadata
}

// NewRevision is a reserved revision that has not been committed.
type NewRevision interface {
	Revision
	io.Writer
	SetMetadata(key, value string) error
	DeleteMetadata(key string) error
	SetTimestamp(t time.Time)
}

// Term is a search predicate. Evaluate may remember its result for the
// item it saw last until Reset is called.
type Term interface {
	Evaluate(ctx context.Context, item Item) (bool, error)
	Reset()
}

// UnderlayItem is implemented by items served from a read-only underlay.
type UnderlayItem interface {
	FromUnderlay() bool
}

// Underlaid is implemented by backends that serve items from a read-only
// underlay. Those items are never written through the backend, so wrappers
// keeping derived data cannot see them change.
type Underlaid interface {
	// IterUnderlay lists the underlay items not shadowed by other items.
	IterUnderlay(ctx context.Context) ItemIterator
}

// ReadAll returns the whole body of rev, starting from the beginning.
func ReadAll(rev Revision) ([]byte, error) {
	if _, err := rev.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(rev)
}

// IsDeleted reports whether rev is a tombstone.
func IsDeleted(rev Revision) bool {
	return rev.Metadata()[KeyDeleted] == "true"
}

// Latest returns the latest revision of item, or ErrNoSuchRevision.
func Latest(ctx context.Context, item Item) (Revision, error) {
	return item.GetRevision(ctx, -1)
}
