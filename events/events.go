// Package events carries notifications about changes to the wiki.
//
// Events are dispatched synchronously to listeners in registration order.
// A listener that fails is logged and skipped. The one exception is an
// Abort returned for a PagePreSave event, which cancels the save.
package events

import (
	"strconv"
)

// Event is something that happened in the wiki.
type Event interface {
	// Name is the type name used in subscriptions and the event log.
	Name() string
	// Values returns the fields written to the event log.
	Values() map[string]string
}

// Actor identifies who caused an event.
type Actor struct {
	User string // user name, empty for anonymous
	Addr string // remote address
}

func (a Actor) values(m map[string]string) map[string]string {
	if a.User != "" {
		m["username"] = a.User
	}
	if a.Addr != "" {
		m["addr"] = a.Addr
	}
	return m
}

// Event type names.
const (
	NamePagePreSave      = "PagePreSave"
	NamePageSaved        = "PageSaved"
	NameTrivialPageSaved = "TrivialPageSaved"
	NamePageDeleted      = "PageDeleted"
	NamePageRenamed      = "PageRenamed"
	NamePageCopied       = "PageCopied"
	NamePageReverted     = "PageReverted"
	NameFileAttached     = "FileAttached"
	NameUserCreated      = "UserCreated"
	NameUserChanged      = "UserChanged"
	NameSubscribedToPage = "SubscribedToPage"
)

// PagePreSave is sent before a new revision is stored. Listeners may
// return an Abort to refuse it.
type PagePreSave struct {
	Actor
	Item    string
	Text    string
	Comment string
}

func (e *PagePreSave) Name() string { return NamePagePreSave }
func (e *PagePreSave) Values() map[string]string {
	return e.Actor.values(map[string]string{"pagename": e.Item})
}

// PageSaved is sent after a revision was stored.
type PageSaved struct {
	Actor
	Item    string
	Revno   int
	Comment string
	Trivial bool
}

func (e *PageSaved) Name() string {
	if e.Trivial {
		return NameTrivialPageSaved
	}
	return NamePageSaved
}

func (e *PageSaved) Values() map[string]string {
	return e.Actor.values(map[string]string{
		"pagename": e.Item,
		"rev":      strconv.Itoa(e.Revno),
	})
}

// PageDeleted is sent after an item got a deleted revision.
type PageDeleted struct {
	Actor
	Item    string
	Revno   int
	Comment string
}

func (e *PageDeleted) Name() string { return NamePageDeleted }
func (e *PageDeleted) Values() map[string]string {
	return e.Actor.values(map[string]string{"pagename": e.Item, "rev": strconv.Itoa(e.Revno)})
}

// PageRenamed is sent once for every renamed item.
type PageRenamed struct {
	Actor
	Item    string
	OldName string
	Comment string
}

func (e *PageRenamed) Name() string { return NamePageRenamed }
func (e *PageRenamed) Values() map[string]string {
	return e.Actor.values(map[string]string{"pagename": e.Item, "old_name": e.OldName})
}

// PageCopied is sent after Item was created as a copy of Source.
type PageCopied struct {
	Actor
	Item    string
	Source  string
	Comment string
}

func (e *PageCopied) Name() string { return NamePageCopied }
func (e *PageCopied) Values() map[string]string {
	return e.Actor.values(map[string]string{"pagename": e.Item, "old_name": e.Source})
}

// PageReverted is sent after the content of revision Restored was saved
// again as revision Revno.
type PageReverted struct {
	Actor
	Item     string
	Revno    int
	Restored int
}

func (e *PageReverted) Name() string { return NamePageReverted }
func (e *PageReverted) Values() map[string]string {
	return e.Actor.values(map[string]string{
		"pagename": e.Item,
		"rev":      strconv.Itoa(e.Revno),
		"restored": strconv.Itoa(e.Restored),
	})
}

// FileAttached is sent after an attachment was stored below Item.
type FileAttached struct {
	Actor
	Item       string
	Attachment string
	Size       int64
}

func (e *FileAttached) Name() string { return NameFileAttached }
func (e *FileAttached) Values() map[string]string {
	return e.Actor.values(map[string]string{
		"pagename": e.Item,
		"name":     e.Attachment,
		"size":     strconv.FormatInt(e.Size, 10),
	})
}

// UserCreated is sent after an account was created.
type UserCreated struct {
	Actor
	Email string
}

func (e *UserCreated) Name() string { return NameUserCreated }
func (e *UserCreated) Values() map[string]string {
	return e.Actor.values(map[string]string{})
}

// UserChanged is sent after a user changed their settings.
type UserChanged struct {
	Actor
}

func (e *UserChanged) Name() string { return NameUserChanged }
func (e *UserChanged) Values() map[string]string {
	return e.Actor.values(map[string]string{})
}

// SubscribedToPage is sent when a user subscribes to an item.
type SubscribedToPage struct {
	Actor
	Item string
}

func (e *SubscribedToPage) Name() string { return NameSubscribedToPage }
func (e *SubscribedToPage) Values() map[string]string {
	return e.Actor.values(map[string]string{"pagename": e.Item})
}

// PageChange reports whether e changes the content or name of an item,
// and returns the item names it touches.
func PageChange(e Event) ([]string, bool) {
	switch e := e.(type) {
	case *PageSaved:
		return []string{e.Item}, true
	case *PageDeleted:
		return []string{e.Item}, true
	case *PageReverted:
		return []string{e.Item}, true
	case *PageRenamed:
		return []string{e.Item, e.OldName}, true
	case *PageCopied:
		return []string{e.Item}, true
	case *FileAttached:
		return []string{e.Item}, true
	}
	return nil, false
}
