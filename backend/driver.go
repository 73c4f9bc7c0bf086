package backend

import (
	"context"
	"time"
)

// A Driver is the persistence layer under a Physical backend. It only stores
// and loads records; reservation of revision numbers, metadata locking and
// per-item serialization are done by Physical.
//
// Drivers must return the sentinel errors of this package where noted and
// must make StoreRevision atomic: after it returns, either the whole revision
// is visible or none of it is.
type Driver interface {
	// LookupItem returns the id of the item called name, or ErrNoSuchItem.
	LookupItem(ctx context.Context, name string) (string, error)

	// ListItems returns every stored item.
	ListItems(ctx context.Context) ([]ItemRecord, error)

	// InsertItem stores a new item. Fails with ErrItemExists if the name is
	// taken.
	InsertItem(ctx context.Context, rec ItemRecord, md Metadata) error

	// RenameItem changes the name of item id. Fails with ErrItemExists if
	// newname is taken.
	RenameItem(ctx context.Context, id, oldname, newname string) error

	ItemMetadata(ctx context.Context, id string) (Metadata, error)
	SetItemMetadata(ctx context.Context, id string, md Metadata) error

	// RemoveItem deletes the item and all of its revisions.
	RemoveItem(ctx context.Context, rec ItemRecord) error

	// ListRevisions returns the stored revision numbers in any order.
	ListRevisions(ctx context.Context, id string) ([]int, error)

	// LoadRevision fails with ErrNoSuchRevision.
	LoadRevision(ctx context.Context, id string, revno int) (*RevisionData, error)

	// StoreRevision fails with ErrRevisionExists if the revision is already
	// stored.
	StoreRevision(ctx context.Context, id string, rd *RevisionData) error
}

// ItemRecord identifies a stored item.
type ItemRecord struct {
	ID   string
	Name string
}

// RevisionData is a complete revision as a driver stores it.
type RevisionData struct {
	Revno     int
	Timestamp time.Time
	Metadata  Metadata
	Data      []byte
}
