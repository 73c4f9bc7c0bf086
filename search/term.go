// Package search provides the terms used to query a backend.
//
// A term is a tree of boolean nodes over predicates. Every backend can
// evaluate a term item by item with backend.Filter; the index package
// translates the predicates it knows into SQL and uses item evaluation only
// for the rest.
//
// Terms remember their result for the item they evaluated last, so a term
// shared by several branches of a tree is evaluated once per item. Call
// Reset before reusing a term for a new search. A term is not safe for
// concurrent use.
package search

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/backend"
)

// memo holds the result for the last item evaluated.
type memo struct {
	key    string
	result bool
	valid  bool
}

func itemKey(item backend.Item) string {
	return item.UUID() + "\x00" + item.Name()
}

func (m *memo) evaluate(item backend.Item, fn func() (bool, error)) (bool, error) {
	key := itemKey(item)
	if m.valid && m.key == key {
		return m.result, nil
	}
	result, err := fn()
	if err != nil {
		return false, err
	}
	m.key, m.result, m.valid = key, result, true
	return result, nil
}

func (m *memo) Reset() { m.valid = false }

// And matches items matching every one of Terms.
type And struct {
	memo
	Terms []backend.Term
}

func (t *And) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		for _, sub := range t.Terms {
			ok, err := sub.Evaluate(ctx, item)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

func (t *And) Reset() {
	t.memo.Reset()
	for _, sub := range t.Terms {
		sub.Reset()
	}
}

func (t *And) String() string { return join("AND", t.Terms) }

// Or matches items matching at least one of Terms.
type Or struct {
	memo
	Terms []backend.Term
}

func (t *Or) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		for _, sub := range t.Terms {
			ok, err := sub.Evaluate(ctx, item)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	})
}

func (t *Or) Reset() {
	t.memo.Reset()
	for _, sub := range t.Terms {
		sub.Reset()
	}
}

func (t *Or) String() string { return join("OR", t.Terms) }

// Xor matches items matching an odd number of Terms.
type Xor struct {
	memo
	Terms []backend.Term
}

func (t *Xor) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		var result bool
		for _, sub := range t.Terms {
			ok, err := sub.Evaluate(ctx, item)
			if err != nil {
				return false, err
			}
			result = result != ok
		}
		return result, nil
	})
}

func (t *Xor) Reset() {
	t.memo.Reset()
	for _, sub := range t.Terms {
		sub.Reset()
	}
}

func (t *Xor) String() string { return join("XOR", t.Terms) }

// Not inverts Term.
type Not struct {
	memo
	Term backend.Term
}

func (t *Not) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		ok, err := t.Term.Evaluate(ctx, item)
		return !ok, err
	})
}

func (t *Not) Reset() {
	t.memo.Reset()
	t.Term.Reset()
}

func (t *Not) String() string { return fmt.Sprintf("NOT(%v)", t.Term) }

func join(op string, terms []backend.Term) string {
	parts := make([]string, len(terms))
	for i, sub := range terms {
		parts[i] = fmt.Sprint(sub)
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

// latestBody returns the body of the latest revision of item, or nil if it
// has none or is deleted.
func latestBody(ctx context.Context, item backend.Item) ([]byte, error) {
	rev, err := latest(ctx, item)
	if rev == nil || err != nil {
		return nil, err
	}
	return backend.ReadAll(rev)
}

// latest returns the latest live revision of item, or nil.
func latest(ctx context.Context, item backend.Item) (backend.Revision, error) {
	rev, err := backend.Latest(ctx, item)
	if errors.Is(err, backend.ErrNoSuchRevision) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if backend.IsDeleted(rev) {
		return nil, nil
	}
	return rev, nil
}

// Text matches items whose latest revision contains Needle.
type Text struct {
	memo
	Needle        string
	CaseSensitive bool
}

func (t *Text) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		body, err := latestBody(ctx, item)
		if err != nil {
			return false, err
		}
		if t.CaseSensitive {
			return bytes.Contains(body, []byte(t.Needle)), nil
		}
		return bytes.Contains(bytes.ToLower(body), []byte(strings.ToLower(t.Needle))), nil
	})
}

func (t *Text) String() string { return fmt.Sprintf("Text(%q)", t.Needle) }

// TextRE matches items whose latest revision matches Re.
type TextRE struct {
	memo
	Re *regexp.Regexp
}

func (t *TextRE) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		body, err := latestBody(ctx, item)
		if err != nil {
			return false, err
		}
		return body != nil && t.Re.Match(body), nil
	})
}

func (t *TextRE) String() string { return fmt.Sprintf("TextRE(%q)", t.Re) }

// Name matches items whose name contains Needle.
type Name struct {
	memo
	Needle        string
	CaseSensitive bool
}

func (t *Name) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		if t.CaseSensitive {
			return strings.Contains(item.Name(), t.Needle), nil
		}
		return strings.Contains(strings.ToLower(item.Name()), strings.ToLower(t.Needle)), nil
	})
}

func (t *Name) String() string { return fmt.Sprintf("Name(%q)", t.Needle) }

// NameRE matches items whose name matches Re.
type NameRE struct {
	memo
	Re *regexp.Regexp
}

func (t *NameRE) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		return t.Re.MatchString(item.Name()), nil
	})
}

func (t *NameRE) String() string { return fmt.Sprintf("NameRE(%q)", t.Re) }

// NameFn matches items for which Fn returns true.
type NameFn struct {
	memo
	Fn func(name string) bool
}

func (t *NameFn) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		return t.Fn(item.Name()), nil
	})
}

// ItemName matches the item called exactly Name.
type ItemName struct {
	memo
	Name string
}

func (t *ItemName) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		return item.Name() == t.Name, nil
	})
}

func (t *ItemName) String() string { return fmt.Sprintf("ItemName(%q)", t.Name) }

// MetaDataMatch matches items whose item metadata has Key set to Value.
type MetaDataMatch struct {
	memo
	Key, Value string
}

func (t *MetaDataMatch) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		v, ok := item.Metadata()[t.Key]
		return ok && v == t.Value, nil
	})
}

func (t *MetaDataMatch) String() string { return fmt.Sprintf("MetaDataMatch(%s=%q)", t.Key, t.Value) }

// HasMetaDataKey matches items whose item metadata has Key.
type HasMetaDataKey struct {
	memo
	Key string
}

func (t *HasMetaDataKey) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		_, ok := item.Metadata()[t.Key]
		return ok, nil
	})
}

func (t *HasMetaDataKey) String() string { return fmt.Sprintf("HasMetaDataKey(%s)", t.Key) }

// LastRevisionMetaDataMatch matches items whose latest revision has Key set
// to Value. Deleted items never match.
type LastRevisionMetaDataMatch struct {
	memo
	Key, Value string
}

func (t *LastRevisionMetaDataMatch) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		rev, err := latest(ctx, item)
		if rev == nil || err != nil {
			return false, err
		}
		v, ok := rev.Metadata()[t.Key]
		return ok && v == t.Value, nil
	})
}

func (t *LastRevisionMetaDataMatch) String() string {
	return fmt.Sprintf("LastRevisionMetaDataMatch(%s=%q)", t.Key, t.Value)
}

// LastRevisionHasMetaDataKey matches items whose latest revision has Key.
type LastRevisionHasMetaDataKey struct {
	memo
	Key string
}

func (t *LastRevisionHasMetaDataKey) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		rev, err := latest(ctx, item)
		if rev == nil || err != nil {
			return false, err
		}
		_, ok := rev.Metadata()[t.Key]
		return ok, nil
	})
}

func (t *LastRevisionHasMetaDataKey) String() string {
	return fmt.Sprintf("LastRevisionHasMetaDataKey(%s)", t.Key)
}

// FromUnderlay matches items served by a read-only underlay.
type FromUnderlay struct {
	memo
}

func (t *FromUnderlay) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return t.evaluate(item, func() (bool, error) {
		u, ok := item.(backend.UnderlayItem)
		return ok && u.FromUnderlay(), nil
	})
}

func (t *FromUnderlay) String() string { return "FromUnderlay" }
