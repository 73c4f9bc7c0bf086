package events

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/ndlib/wikistore/backend"
)

// Subscriber is a user who wants to hear about changes.
type Subscriber struct {
	Name  string
	Email string
	JID   string
	// Pages are patterns matched against the whole item name.
	Pages []*regexp.Regexp
	// EmailEvents and JabberEvents hold the event names the user
	// subscribed to on each channel.
	EmailEvents  mapset.Set[string]
	JabberEvents mapset.Set[string]
}

// Wants reports whether s subscribed to item.
func (s Subscriber) Wants(item string) bool {
	for _, re := range s.Pages {
		if loc := re.FindStringIndex(item); loc != nil && loc[0] == 0 && loc[1] == len(item) {
			return true
		}
	}
	return false
}

// A Mailer sends mail. It reports whether the message was accepted and a
// message for the log.
type Mailer interface {
	Sendmail(ctx context.Context, to []string, subject, body, from string) (bool, string)
}

// A Jabber delivers instant messages through a notification bot.
type Jabber interface {
	Notify(ctx context.Context, jids []string, payload map[string]string) error
}

// Notifier tells subscribers about changed items by mail and jabber.
type Notifier struct {
	Backend     backend.Backend
	Subscribers func(ctx context.Context) ([]Subscriber, error)
	Mail        Mailer // nil disables mail
	Jabber      Jabber // nil disables jabber
	From        string
	SiteName    string
	BaseURL     string
}

// Listener returns the notification listener.
func (n *Notifier) Listener() Listener {
	return n.handle
}

func (n *Notifier) handle(ctx context.Context, e Event) (Result, error) {
	item, ok := subject(e)
	if !ok || n.Subscribers == nil {
		return nil, nil
	}
	subs, err := n.Subscribers(ctx)
	if err != nil {
		return nil, err
	}
	var mailTo, jids []string
	var mailNames, jidNames []string
	for _, s := range subs {
		if !s.Wants(item) {
			continue
		}
		if n.Mail != nil && s.Email != "" && s.EmailEvents != nil && s.EmailEvents.Contains(e.Name()) {
			mailTo = append(mailTo, s.Email)
			mailNames = append(mailNames, s.Name)
		}
		if n.Jabber != nil && s.JID != "" && s.JabberEvents != nil && s.JabberEvents.Contains(e.Name()) {
			jids = append(jids, s.JID)
			jidNames = append(jidNames, s.Name)
		}
	}
	if len(mailTo) == 0 && len(jids) == 0 {
		return nil, nil
	}
	msg, err := n.message(ctx, e, item)
	if err != nil {
		return nil, err
	}
	recipients := mapset.NewSet[string]()
	if len(mailTo) > 0 {
		body := msg.text + msg.link + msg.comment + msg.diff
		if ok, status := n.Mail.Sendmail(ctx, mailTo, msg.subject, body, n.From); ok {
			recipients.Append(mailNames...)
		} else {
			return &Failure{Reason: status}, nil
		}
	}
	if len(jids) > 0 {
		if err := n.Jabber.Notify(ctx, jids, msg.payload()); err != nil {
			return &Failure{Reason: err.Error()}, nil
		}
		recipients.Append(jidNames...)
	}
	return &Success{Recipients: recipients}, nil
}

// subject returns the item an event is about, for the events people
// subscribe to.
func subject(e Event) (string, bool) {
	switch e := e.(type) {
	case *PageSaved:
		return e.Item, true
	case *PageDeleted:
		return e.Item, true
	case *PageRenamed:
		return e.Item, true
	case *PageReverted:
		return e.Item, true
	case *PageCopied:
		return e.Item, true
	case *FileAttached:
		return e.Item, true
	}
	return "", false
}

type message struct {
	action   string
	subject  string
	text     string
	link     string
	comment  string
	diff     string
	editor   string
	oldName  string
	pageName string
	revision string
}

// payload returns the fixed set of keys the notification bot expects.
func (m *message) payload() map[string]string {
	return map[string]string{
		"action":    m.action,
		"subject":   m.subject,
		"text":      m.text,
		"url_list":  strings.TrimSpace(m.link),
		"diff":      m.diff,
		"comment":   strings.TrimSpace(m.comment),
		"editor":    m.editor,
		"old_name":  m.oldName,
		"page_name": m.pageName,
		"revision":  m.revision,
	}
}

func (n *Notifier) message(ctx context.Context, e Event, item string) (*message, error) {
	site := n.SiteName
	if site == "" {
		site = "Wiki"
	}
	m := &message{pageName: item, link: n.BaseURL + "/" + item + "\n\n"}
	var who, comment string
	switch e := e.(type) {
	case *PageSaved:
		m.action = "page_changed"
		who, comment = e.User, e.Comment
		m.revision = strconv.Itoa(e.Revno)
		trivial := ""
		if e.Trivial {
			trivial = "Trivial "
		}
		m.subject = fmt.Sprintf("[%s] %sUpdate of %q by %s", site, trivial, item, name(who))
		m.text = fmt.Sprintf("Dear Wiki user,\n\nYou have subscribed to a wiki page or wiki category on %q for change notification.\n\nThe %q page has been changed by %s:\n", site, item, name(who))
		diff, err := n.lastDiff(ctx, item)
		if err != nil {
			return nil, err
		}
		m.diff = diff
	case *PageDeleted:
		m.action = "page_deleted"
		who, comment = e.User, e.Comment
		m.revision = strconv.Itoa(e.Revno)
		m.subject = fmt.Sprintf("[%s] %q deleted by %s", site, item, name(who))
		m.text = fmt.Sprintf("The %q page has been deleted by %s:\n", item, name(who))
	case *PageRenamed:
		m.action = "page_renamed"
		who, comment = e.User, e.Comment
		m.oldName = e.OldName
		m.subject = fmt.Sprintf("[%s] %q renamed to %q by %s", site, e.OldName, item, name(who))
		m.text = fmt.Sprintf("The %q page has been renamed to %q by %s:\n", e.OldName, item, name(who))
	case *PageReverted:
		m.action = "page_changed"
		who = e.User
		m.revision = strconv.Itoa(e.Revno)
		m.subject = fmt.Sprintf("[%s] %q reverted to revision %d by %s", site, item, e.Restored, name(who))
		m.text = fmt.Sprintf("The %q page has been reverted to revision %d by %s:\n", item, e.Restored, name(who))
	case *PageCopied:
		m.action = "page_copied"
		who, comment = e.User, e.Comment
		m.oldName = e.Source
		m.subject = fmt.Sprintf("[%s] %q copied to %q by %s", site, e.Source, item, name(who))
		m.text = fmt.Sprintf("The %q page has been copied to %q by %s:\n", e.Source, item, name(who))
	case *FileAttached:
		m.action = "file_attached"
		who = e.User
		m.subject = fmt.Sprintf("[%s] New attachment added to page %q", site, item)
		m.text = fmt.Sprintf("%s attached %q (%d bytes) to %q.\n", name(who), e.Attachment, e.Size, item)
	}
	m.editor = name(who)
	if comment != "" {
		m.comment = "Comment:\n" + comment + "\n\n"
	}
	return m, nil
}

func name(user string) string {
	if user == "" {
		return "anonymous"
	}
	return user
}

// lastDiff returns a unified diff between the two latest revisions of
// item, or its whole text if it has only one.
func (n *Notifier) lastDiff(ctx context.Context, item string) (string, error) {
	if n.Backend == nil {
		return "", nil
	}
	it, err := n.Backend.GetItem(ctx, item)
	if err != nil {
		return "", err
	}
	revs, err := it.ListRevisions(ctx)
	if err != nil || len(revs) == 0 {
		return "", err
	}
	newText, err := revisionText(ctx, it, revs[len(revs)-1])
	if err != nil {
		return "", err
	}
	if len(revs) == 1 {
		return newText, nil
	}
	oldText, err := revisionText(ctx, it, revs[len(revs)-2])
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: fmt.Sprintf("%s@%d", item, revs[len(revs)-2]),
		ToFile:   fmt.Sprintf("%s@%d", item, revs[len(revs)-1]),
		Context:  3,
	})
}

func revisionText(ctx context.Context, item backend.Item, revno int) (string, error) {
	rev, err := item.GetRevision(ctx, revno)
	if err != nil {
		return "", err
	}
	data, err := backend.ReadAll(rev)
	return string(data), err
}
