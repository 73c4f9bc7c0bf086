// Package editor implements interactive editing on top of a backend: the
// save protocol with three-way merge, edit locks, drafts, and the item
// operations that write revisions (delete, rename, revert, copy and
// attachments).
//
// Every operation acts as the principal and origin carried by its context,
// see acl.WithPrincipal and WithOrigin.
package editor

import (
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/facebookgo/clock"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/acl"
	"github.com/ndlib/wikistore/backend"
	"github.com/ndlib/wikistore/editlog"
	"github.com/ndlib/wikistore/events"
)

var (
	// ErrEmptyPage is returned when saving text without content. Use
	// Delete to remove a page.
	ErrEmptyPage = errors.New("page is empty")

	// ErrUnchanged is returned when the text equals the latest revision.
	ErrUnchanged = errors.New("text is unchanged")

	// ErrNoAdmin is returned when the text changes the ACL of an item and
	// the user lacks the admin right.
	ErrNoAdmin = errors.New("changing the acl needs the admin right")

	// ErrEditConflict is returned when someone else saved the item since
	// the edit started and the changes could not be merged.
	ErrEditConflict = errors.New("edit conflict")
)

// EditConflictError carries the merge result the editor should continue
// from. Saving Merged with OrigRev set to Current stores it.
type EditConflictError struct {
	Current   int
	Merged    string
	Conflicts int
}

func (e *EditConflictError) Error() string {
	return fmt.Sprintf("edit conflict with revision %d (%d conflicting regions)", e.Current, e.Conflicts)
}

func (e *EditConflictError) Unwrap() error { return ErrEditConflict }

// DefaultMimetype is the type of wiki text.
const DefaultMimetype = "text/x.moin.wiki"

// DefaultTemplateRE matches the names of template and form items, whose
// variables are not expanded.
var DefaultTemplateRE = regexp.MustCompile(`\S+(Template|Form)$`)

// Perms answers permission questions for the principal in ctx. The ACL
// wrapper implements it.
type Perms interface {
	May(ctx context.Context, right, name string) (bool, error)
}

// Editor writes revisions on behalf of users.
type Editor struct {
	Backend backend.Backend
	Perms   Perms // nil allows everything
	Bus     *events.Bus
	Drafts  *Drafts // nil disables drafts
	Locks   *EditLocks
	Log     *editlog.EditLog // nil disables the edit-log
	Clock   clock.Clock

	StripSpaces bool
	TemplateRE  *regexp.Regexp
	Mimetype    string

	// Email and UserVars feed variable expansion. Either may be nil.
	Email    func(user string) string
	UserVars func(user string) map[string]string
}

// New returns an editor for b without locking, drafts or edit-log.
func New(b backend.Backend) *Editor {
	return &Editor{
		Backend:    b,
		Bus:        events.NewBus(),
		Locks:      NewEditLocks(b, Policy{Mode: ModeNone}),
		Clock:      clock.New(),
		TemplateRE: DefaultTemplateRE,
		Mimetype:   DefaultMimetype,
	}
}

// SaveRequest is a text submitted from the editor.
type SaveRequest struct {
	Name     string
	Text     string
	OrigRev  int // the revision the edit started from, -1 for a new item
	Comment  string
	Extra    string
	Trivial  bool
	Mimetype string
}

// SaveResult describes a stored revision.
type SaveResult struct {
	Revno      int
	Merged     bool // the text was merged with a concurrent change
	Recipients mapset.Set[string]
}

// Session is the state shown when the editor is opened.
type Session struct {
	Name  string
	Revno int // -1 for a new item
	Text  string
	Lock  *LockStatus
	Draft *Draft // a draft whose text differs from Text
}

func (e *Editor) may(ctx context.Context, right, name string) error {
	if e.Perms == nil {
		return nil
	}
	ok, err := e.Perms.May(ctx, right, name)
	if err != nil {
		return err
	}
	if !ok {
		return &acl.AccessDeniedError{User: userID(ctx), Right: right, Item: name}
	}
	return nil
}

func actor(ctx context.Context) events.Actor {
	return events.Actor{User: userID(ctx), Addr: OriginFrom(ctx).Addr}
}

// latest returns the latest revision of item and its text, or a nil
// revision and -1 if there is none. A deleted revision has no text.
func latest(ctx context.Context, item backend.Item) (backend.Revision, int, string, error) {
	rev, err := backend.Latest(ctx, item)
	if errors.Is(err, backend.ErrNoSuchRevision) {
		return nil, -1, "", nil
	} else if err != nil {
		return nil, -1, "", err
	}
	if backend.IsDeleted(rev) {
		return rev, rev.Revno(), "", nil
	}
	text, err := revisionText(rev)
	return rev, rev.Revno(), text, err
}

// standingACL returns the acl of the latest revision of item that is not
// deleted.
func standingACL(ctx context.Context, item backend.Item) (string, bool, error) {
	revs, err := item.ListRevisions(ctx)
	if err != nil {
		return "", false, err
	}
	for i := len(revs) - 1; i >= 0; i-- {
		rev, err := item.GetRevision(ctx, revs[i])
		if err != nil {
			return "", false, err
		}
		if !backend.IsDeleted(rev) {
			s, ok := rev.Metadata()[backend.KeyACL]
			return s, ok, nil
		}
	}
	return "", false, nil
}

func revisionText(rev backend.Revision) (string, error) {
	data, err := backend.ReadAll(rev)
	return string(data), err
}

// meta returns the revision metadata describing the request in ctx.
func (e *Editor) meta(ctx context.Context, action, comment, extra string) backend.Metadata {
	o := OriginFrom(ctx)
	m := backend.Metadata{
		backend.KeyAction:   action,
		backend.KeyAddr:     o.Addr,
		backend.KeyHostname: o.Hostname,
		backend.KeyUserID:   userID(ctx),
	}
	if comment != "" {
		m[backend.KeyComment] = comment
	}
	if extra != "" {
		m[backend.KeyExtra] = extra
	}
	return m
}

// commit stores body as revision revno of item.
func (e *Editor) commit(ctx context.Context, item backend.Item, revno int, body []byte, md backend.Metadata) error {
	rev, err := item.CreateRevision(ctx, revno)
	if err != nil {
		return err
	}
	err = func() error {
		if _, err := rev.Write(body); err != nil {
			return err
		}
		for _, k := range md.Keys() {
			if err := rev.SetMetadata(k, md[k]); err != nil {
				return err
			}
		}
		rev.SetTimestamp(e.Clock.Now().UTC())
		return item.Commit(ctx)
	}()
	if err != nil {
		item.Rollback(ctx)
	}
	return err
}

// logEdit appends to the edit-log. The revision is already stored, so a
// failure is only reported.
func (e *Editor) logEdit(ctx context.Context, page string, revno int, action, extra, comment string) {
	if e.Log == nil {
		return
	}
	o := OriginFrom(ctx)
	err := e.Log.Add(editlog.Record{
		PageName: page,
		Addr:     o.Addr,
		Time:     e.Clock.Now(),
		Revno:    revno,
		Hostname: o.Hostname,
		UserID:   userID(ctx),
		Extra:    extra,
		Action:   action,
		Comment:  comment,
	})
	if err != nil {
		log.Printf("editor: edit-log %s: %s", page, err)
		raven.CaptureError(err, map[string]string{"page": page})
	}
}

func (e *Editor) send(ctx context.Context, ev events.Event) ([]events.Result, error) {
	if e.Bus == nil {
		return nil, nil
	}
	return e.Bus.Send(ctx, ev)
}

func recipients(results []events.Result) mapset.Set[string] {
	all := mapset.NewSet[string]()
	for _, r := range results {
		if s, ok := r.(*events.Success); ok && s.Recipients != nil {
			all = all.Union(s.Recipients)
		}
	}
	return all
}

func (e *Editor) saveDraft(ctx context.Context, name string, revno int, text string) {
	user := userID(ctx)
	if e.Drafts == nil || user == "" {
		return
	}
	if err := e.Drafts.Save(ctx, user, name, revno, text); err != nil {
		log.Printf("editor: draft %s of %s: %s", name, user, err)
	}
}

func (e *Editor) discardDraft(ctx context.Context, name string) {
	user := userID(ctx)
	if e.Drafts == nil || user == "" {
		return
	}
	if err := e.Drafts.Discard(ctx, user, name); err != nil {
		log.Printf("editor: draft %s of %s: %s", name, user, err)
	}
}

func (e *Editor) expand(ctx context.Context, name, text string) string {
	if e.TemplateRE != nil && e.TemplateRE.MatchString(name) {
		return text
	}
	user := userID(ctx)
	v := Vars{Page: name, User: user, Time: e.Clock.Now()}
	if e.Email != nil && user != "" {
		v.Email = e.Email(user)
	}
	if e.UserVars != nil && user != "" {
		v.Extra = e.UserVars(user)
	}
	return Expand(text, v)
}

// Open starts an edit of the item called name. It takes the edit lock and
// offers the draft of the user if it differs from the current text.
func (e *Editor) Open(ctx context.Context, name string) (*Session, error) {
	if err := backend.ValidateName(name); err != nil {
		return nil, err
	}
	if err := e.may(ctx, acl.Write, name); err != nil {
		return nil, err
	}
	s := &Session{Name: name, Revno: -1}
	item, err := e.Backend.GetItem(ctx, name)
	if err == nil {
		_, s.Revno, s.Text, err = latest(ctx, item)
	} else if errors.Is(err, backend.ErrNoSuchItem) {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if s.Lock, err = e.Locks.Acquire(ctx, name); err != nil {
		return nil, err
	}
	if user := userID(ctx); e.Drafts != nil && user != "" {
		d, err := e.Drafts.Load(ctx, user, name)
		if err != nil {
			log.Printf("editor: draft %s of %s: %s", name, user, err)
		} else if d != nil && d.Text != s.Text {
			s.Draft = d
		}
	}
	return s, nil
}

// Preview keeps text as the draft of the user.
func (e *Editor) Preview(ctx context.Context, name string, origrev int, text string) string {
	e.saveDraft(ctx, name, origrev, text)
	return e.expand(ctx, name, Normalize(text, e.StripSpaces))
}

// Cancel ends an edit without saving. The text is kept as a draft and the
// edit lock of the user is released.
func (e *Editor) Cancel(ctx context.Context, name string, origrev int, text string) error {
	e.saveDraft(ctx, name, origrev, text)
	return e.Locks.Release(ctx, name, false)
}

// Save stores a new revision of req.Name with the submitted text. If the
// item changed since req.OrigRev the changes are merged, and overlapping
// changes fail with an EditConflictError.
func (e *Editor) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	return e.save(ctx, req, editlog.ActionSave)
}

func (e *Editor) save(ctx context.Context, req SaveRequest, action string) (*SaveResult, error) {
	name := req.Name
	if err := backend.ValidateName(name); err != nil {
		return nil, err
	}
	if err := e.may(ctx, acl.Write, name); err != nil {
		return nil, err
	}
	if err := e.Locks.check(ctx, name); err != nil {
		return nil, err
	}
	// kept until the save succeeds
	e.saveDraft(ctx, name, req.OrigRev, req.Text)

	text := Normalize(req.Text, e.StripSpaces)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyPage
	}
	item, err := e.Backend.GetItem(ctx, name)
	if errors.Is(err, backend.ErrNoSuchItem) {
		item, err = e.Backend.CreateItem(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	cur, head, curText, err := latest(ctx, item)
	if err != nil {
		return nil, err
	}
	if cur != nil && !backend.IsDeleted(cur) && text == curText {
		return nil, ErrUnchanged
	}
	text = e.expand(ctx, name, text)

	res := &SaveResult{Revno: head + 1}
	if req.OrigRev != head {
		base, err := e.baseText(ctx, item, req.OrigRev)
		if err != nil {
			return nil, err
		}
		merged, conflicts := Merge(base, curText, text)
		if conflicts > 0 || strings.TrimSpace(merged) == "" {
			return nil, &EditConflictError{Current: head, Merged: merged, Conflicts: conflicts}
		}
		if merged == curText {
			return nil, ErrUnchanged
		}
		text, res.Merged = merged, true
	}

	newACL, hasACL := ACLFromText(text)
	oldACL, hadACL, err := standingACL(ctx, item)
	if err != nil {
		return nil, err
	}
	if newACL != oldACL || hasACL != hadACL {
		if err := e.may(ctx, acl.Admin, name); err != nil {
			if errors.Is(err, backend.ErrAccessDenied) {
				return nil, errors.Wrapf(ErrNoAdmin, "%s", name)
			}
			return nil, err
		}
	}

	_, err = e.send(ctx, &events.PagePreSave{Actor: actor(ctx), Item: name, Text: text, Comment: req.Comment})
	if err != nil {
		return nil, err
	}

	if cur == nil || backend.IsDeleted(cur) {
		if action == editlog.ActionSave {
			action = editlog.ActionSaveNew
		}
	}
	md := e.meta(ctx, action, req.Comment, req.Extra)
	md[backend.KeyName] = name
	md[backend.KeyMimetype] = e.Mimetype
	if req.Mimetype != "" {
		md[backend.KeyMimetype] = req.Mimetype
	}
	if hasACL {
		md[backend.KeyACL] = newACL
	}
	err = e.commit(ctx, item, res.Revno, []byte(text), md)
	if errors.Is(err, backend.ErrRevisionExists) {
		return nil, &EditConflictError{Current: res.Revno, Merged: text}
	} else if err != nil {
		return nil, err
	}

	e.discardDraft(ctx, name)
	if err := e.Locks.releaseSaved(ctx, name); err != nil {
		log.Printf("editor: release lock of %s: %s", name, err)
	}
	e.logEdit(ctx, name, res.Revno, action, req.Extra, req.Comment)
	results, _ := e.send(ctx, &events.PageSaved{
		Actor:   actor(ctx),
		Item:    name,
		Revno:   res.Revno,
		Comment: req.Comment,
		Trivial: req.Trivial,
	})
	res.Recipients = recipients(results)
	return res, nil
}

// baseText returns the text the edit started from. An edit of an item
// that did not exist starts from nothing.
func (e *Editor) baseText(ctx context.Context, item backend.Item, revno int) (string, error) {
	if revno < 0 {
		return "", nil
	}
	rev, err := item.GetRevision(ctx, revno)
	if err != nil {
		return "", err
	}
	if backend.IsDeleted(rev) {
		return "", nil
	}
	return revisionText(rev)
}

// Delete stores a deleted revision of the item called name and returns its
// number.
func (e *Editor) Delete(ctx context.Context, name, comment string) (int, error) {
	if err := e.may(ctx, acl.Write, name); err != nil {
		return 0, err
	}
	item, err := e.Backend.GetItem(ctx, name)
	if err != nil {
		return 0, err
	}
	cur, head, _, err := latest(ctx, item)
	if err != nil {
		return 0, err
	}
	if cur == nil || backend.IsDeleted(cur) {
		return 0, errors.Wrapf(backend.ErrNoSuchItem, "%s is deleted", name)
	}
	md := e.meta(ctx, editlog.ActionSave, comment, "")
	md[backend.KeyDeleted] = "true"
	md[backend.KeyName] = name
	md[backend.KeyMimetype] = cur.Metadata()[backend.KeyMimetype]
	if s, ok := cur.Metadata()[backend.KeyACL]; ok {
		md[backend.KeyACL] = s
	}
	if err := e.commit(ctx, item, head+1, nil, md); err != nil {
		return 0, err
	}
	if err := e.Locks.Release(ctx, name, true); err != nil {
		log.Printf("editor: release lock of %s: %s", name, err)
	}
	e.logEdit(ctx, name, head+1, editlog.ActionSave, "", comment)
	e.send(ctx, &events.PageDeleted{Actor: actor(ctx), Item: name, Revno: head + 1, Comment: comment})
	return head + 1, nil
}

// unguarded is implemented by backends that hide items from listings.
type unguarded interface {
	Unguarded() backend.Backend
}

// family returns the item called name followed by its sub items, whose
// names start with name + "/". A sub item hidden from the principal in ctx
// fails the whole family, so a cascade never leaves part of it behind.
func (e *Editor) family(ctx context.Context, name string) ([]backend.Item, error) {
	item, err := e.Backend.GetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	prefix := name + "/"
	below := func(it backend.Item) (backend.Item, bool, error) {
		return it, strings.HasPrefix(it.Name(), prefix), nil
	}
	children, err := backend.Collect(backend.Map(e.Backend.IterItems(ctx), below))
	if err != nil {
		return nil, err
	}
	if u, ok := e.Backend.(unguarded); ok {
		all, err := backend.Names(backend.Map(u.Unguarded().IterItems(ctx), below))
		if err != nil {
			return nil, err
		}
		seen := mapset.NewThreadUnsafeSet[string]()
		for _, c := range children {
			seen.Add(c.Name())
		}
		for _, n := range all {
			if !seen.Contains(n) {
				return nil, &acl.AccessDeniedError{User: userID(ctx), Right: acl.Read, Item: n}
			}
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })
	return append([]backend.Item{item}, children...), nil
}

// moved returns the name of an item of the family of from below to.
func moved(name, from, to string) string {
	return to + strings.TrimPrefix(name, from)
}

// Rename renames the item called from and all of its sub items. Each
// renamed item gets a revision recording the old name. A failure part way
// leaves the items renamed so far; running the rename again completes it.
func (e *Editor) Rename(ctx context.Context, from, to, comment string) error {
	if err := backend.ValidateName(to); err != nil {
		return err
	}
	if to == from || strings.HasPrefix(to, from+"/") {
		return errors.Wrapf(backend.ErrInvalidName, "cannot rename %s to %s", from, to)
	}
	items, err := e.family(ctx, from)
	if err != nil {
		return err
	}
	for _, item := range items {
		newname := moved(item.Name(), from, to)
		if err := e.may(ctx, acl.Write, item.Name()); err != nil {
			return err
		}
		if err := e.may(ctx, acl.Write, newname); err != nil {
			return err
		}
		if e.Backend.HasItem(ctx, newname) {
			return errors.Wrapf(backend.ErrItemExists, "%s", newname)
		}
	}
	for _, item := range items {
		oldname := item.Name()
		newname := moved(oldname, from, to)
		if err := e.renameOne(ctx, item, newname, comment); err != nil {
			return errors.Wrapf(err, "rename %s to %s", oldname, newname)
		}
	}
	return nil
}

func (e *Editor) renameOne(ctx context.Context, item backend.Item, newname, comment string) error {
	oldname := item.Name()
	if err := item.Rename(ctx, newname); err != nil {
		return err
	}
	cur, head, _, err := latest(ctx, item)
	if err != nil {
		return err
	}
	if cur != nil {
		body, err := backend.ReadAll(cur)
		if err != nil {
			return err
		}
		md := e.meta(ctx, editlog.ActionRename, comment, oldname)
		md[backend.KeyName] = newname
		md[backend.KeyOldName] = oldname
		prev := cur.Metadata()
		for _, k := range []string{backend.KeyMimetype, backend.KeyACL, backend.KeyDeleted} {
			if v, ok := prev[k]; ok {
				md[k] = v
			}
		}
		if err := e.commit(ctx, item, head+1, body, md); err != nil {
			return err
		}
		e.logEdit(ctx, newname, head+1, editlog.ActionRename, oldname, comment)
	}
	e.send(ctx, &events.PageRenamed{Actor: actor(ctx), Item: newname, OldName: oldname, Comment: comment})
	return nil
}

// Revert saves the content of revision revno as the newest revision.
func (e *Editor) Revert(ctx context.Context, name string, revno int, comment string) (*SaveResult, error) {
	item, err := e.Backend.GetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	rev, err := item.GetRevision(ctx, revno)
	if err != nil {
		return nil, err
	}
	if backend.IsDeleted(rev) {
		return nil, errors.Wrapf(backend.ErrNoSuchRevision, "revision %d of %s is deleted", revno, name)
	}
	text, err := revisionText(rev)
	if err != nil {
		return nil, err
	}
	_, head, _, err := latest(ctx, item)
	if err != nil {
		return nil, err
	}
	res, err := e.save(ctx, SaveRequest{
		Name:     name,
		Text:     text,
		OrigRev:  head,
		Comment:  comment,
		Extra:    fmt.Sprintf("%08d", revno),
		Mimetype: rev.Metadata()[backend.KeyMimetype],
	}, editlog.ActionRevert)
	if err != nil {
		return nil, err
	}
	e.send(ctx, &events.PageReverted{Actor: actor(ctx), Item: name, Revno: res.Revno, Restored: revno})
	return res, nil
}

// Copy copies the item called from and its sub items, with their history,
// to new items below to. Each copy gets a new revision noting its source.
func (e *Editor) Copy(ctx context.Context, from, to, comment string) error {
	if err := backend.ValidateName(to); err != nil {
		return err
	}
	if to == from || strings.HasPrefix(to, from+"/") {
		return errors.Wrapf(backend.ErrInvalidName, "cannot copy %s to %s", from, to)
	}
	items, err := e.family(ctx, from)
	if err != nil {
		return err
	}
	for _, item := range items {
		newname := moved(item.Name(), from, to)
		if err := e.may(ctx, acl.Read, item.Name()); err != nil {
			return err
		}
		if err := e.may(ctx, acl.Write, newname); err != nil {
			return err
		}
		if e.Backend.HasItem(ctx, newname) {
			return errors.Wrapf(backend.ErrItemExists, "%s", newname)
		}
	}
	for _, item := range items {
		newname := moved(item.Name(), from, to)
		if err := e.copyOne(ctx, item, newname, comment); err != nil {
			return errors.Wrapf(err, "copy %s to %s", item.Name(), newname)
		}
	}
	return nil
}

func (e *Editor) copyOne(ctx context.Context, src backend.Item, newname, comment string) error {
	dst, err := e.Backend.CreateItem(ctx, newname)
	if err != nil {
		return err
	}
	revs, err := src.ListRevisions(ctx)
	if err != nil {
		return err
	}
	var last backend.Revision
	for _, revno := range revs {
		rev, err := src.GetRevision(ctx, revno)
		if err != nil {
			return err
		}
		body, err := backend.ReadAll(rev)
		if err != nil {
			return err
		}
		nr, err := dst.CreateRevision(ctx, revno)
		if err != nil {
			return err
		}
		err = func() error {
			if _, err := nr.Write(body); err != nil {
				return err
			}
			md := rev.Metadata()
			for _, k := range md.Keys() {
				if err := nr.SetMetadata(k, md[k]); err != nil {
					return err
				}
			}
			nr.SetTimestamp(rev.Timestamp())
			return dst.Commit(ctx)
		}()
		if err != nil {
			dst.Rollback(ctx)
			return err
		}
		last = rev
	}
	head := -1
	var body []byte
	md := e.meta(ctx, editlog.ActionSaveNew, comment, src.Name())
	md[backend.KeyName] = newname
	if last != nil {
		head = last.Revno()
		prev := last.Metadata()
		for _, k := range []string{backend.KeyMimetype, backend.KeyACL, backend.KeyDeleted} {
			if v, ok := prev[k]; ok {
				md[k] = v
			}
		}
		if body, err = backend.ReadAll(last); err != nil {
			return err
		}
	}
	if err := e.commit(ctx, dst, head+1, body, md); err != nil {
		return err
	}
	e.logEdit(ctx, newname, head+1, editlog.ActionSaveNew, src.Name(), comment)
	e.send(ctx, &events.PageCopied{Actor: actor(ctx), Item: newname, Source: src.Name(), Comment: comment})
	return nil
}

// Attach stores the content of r as the attachment filename of page. An
// existing attachment is only replaced with overwrite.
func (e *Editor) Attach(ctx context.Context, page, filename string, r io.Reader, mimetype string, overwrite bool) (int, error) {
	name := page + "/" + filename
	if strings.Contains(filename, "/") {
		return 0, errors.Wrapf(backend.ErrInvalidName, "attachment %q", filename)
	}
	if err := backend.ValidateName(name); err != nil {
		return 0, err
	}
	if err := e.may(ctx, acl.Write, name); err != nil {
		return 0, err
	}
	item, err := e.Backend.GetItem(ctx, name)
	if errors.Is(err, backend.ErrNoSuchItem) {
		item, err = e.Backend.CreateItem(ctx, name)
	}
	if err != nil {
		return 0, err
	}
	cur, head, _, err := latest(ctx, item)
	if err != nil {
		return 0, err
	}
	if cur != nil && !backend.IsDeleted(cur) && !overwrite {
		return 0, errors.Wrapf(backend.ErrItemExists, "%s", name)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}
	oldACL, hadACL, err := standingACL(ctx, item)
	if err != nil {
		return 0, err
	}
	md := e.meta(ctx, editlog.ActionAttNew, "", filename)
	md[backend.KeyName] = name
	md[backend.KeyMimetype] = mimetype
	if hadACL {
		md[backend.KeyACL] = oldACL
	}
	if err := e.commit(ctx, item, head+1, body, md); err != nil {
		return 0, err
	}
	e.logEdit(ctx, page, editlog.AttachmentRevno, editlog.ActionAttNew, filename, "")
	e.send(ctx, &events.FileAttached{Actor: actor(ctx), Item: page, Attachment: filename, Size: int64(len(body))})
	return head + 1, nil
}

// DeleteAttachment stores a deleted revision of the attachment filename of
// page.
func (e *Editor) DeleteAttachment(ctx context.Context, page, filename string) error {
	name := page + "/" + filename
	if err := e.may(ctx, acl.Write, name); err != nil {
		return err
	}
	item, err := e.Backend.GetItem(ctx, name)
	if err != nil {
		return err
	}
	cur, head, _, err := latest(ctx, item)
	if err != nil {
		return err
	}
	if cur == nil || backend.IsDeleted(cur) {
		return errors.Wrapf(backend.ErrNoSuchItem, "%s is deleted", name)
	}
	md := e.meta(ctx, editlog.ActionAttDelete, "", filename)
	md[backend.KeyName] = name
	md[backend.KeyDeleted] = "true"
	md[backend.KeyMimetype] = cur.Metadata()[backend.KeyMimetype]
	if s, ok := cur.Metadata()[backend.KeyACL]; ok {
		md[backend.KeyACL] = s
	}
	if err := e.commit(ctx, item, head+1, nil, md); err != nil {
		return err
	}
	e.logEdit(ctx, page, editlog.AttachmentRevno, editlog.ActionAttDelete, filename, "")
	e.send(ctx, &events.PageDeleted{Actor: actor(ctx), Item: name, Revno: head + 1})
	return nil
}
