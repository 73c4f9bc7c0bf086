package backend

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoSuchItem means there is no live item with the requested name.
	ErrNoSuchItem = errors.New("no such item")

	// ErrNoSuchRevision means the item has no committed revision with the
	// requested number.
	ErrNoSuchRevision = errors.New("no such revision")

	// ErrItemExists is returned when creating or renaming onto a name that
	// is already taken.
	ErrItemExists = errors.New("item already exists")

	// ErrRevisionExists is returned when a revision number is already
	// committed or reserved by another writer.
	ErrRevisionExists = errors.New("revision already exists")

	// ErrAccessDenied is the root of every permission failure. The ACL
	// wrapper returns it wrapped with the user, right and item name.
	ErrAccessDenied = errors.New("access denied")

	// ErrImmutable is returned on attempts to modify committed revisions,
	// unlocked item metadata, or items of a read-only backend.
	ErrImmutable = errors.New("immutable")

	// ErrInvalidName is returned for item and user names that may not be
	// stored.
	ErrInvalidName = errors.New("invalid name")
)

// A BackendError reports any other failure of a storage operation.
type BackendError struct {
	Op   string // the operation, e.g. "commit"
	Name string // item name, if known
	Err  error
}

func (e *BackendError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backend %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Cause lets errors.Cause see through a BackendError.
func (e *BackendError) Cause() error { return e.Err }

// wrapErr passes the sentinel errors through unchanged and turns anything
// else into a BackendError.
func wrapErr(op, name string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNoSuchItem),
		errors.Is(err, ErrNoSuchRevision),
		errors.Is(err, ErrItemExists),
		errors.Is(err, ErrRevisionExists),
		errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrImmutable),
		errors.Is(err, ErrInvalidName):
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Name: name, Err: err}
}
