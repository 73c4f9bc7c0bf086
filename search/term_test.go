package search

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/wikistore/backend"
	"github.com/ndlib/wikistore/backend/backendtest"
	"github.com/ndlib/wikistore/backend/memory"
	"github.com/ndlib/wikistore/router"
)

func fixture(t *testing.T) backend.Backend {
	ctx := context.Background()
	b := memory.New()
	backendtest.Put(t, ctx, b, "FrontPage", "Welcome to the wiki\n", backend.Metadata{backend.KeyMimetype: "text/x.moin.wiki"})
	backendtest.Put(t, ctx, b, "HelpOnEditing", "How to edit\n", backend.Metadata{backend.KeyMimetype: "text/x.moin.wiki"})
	backendtest.Put(t, ctx, b, "logo.png", "\x89PNG", backend.Metadata{backend.KeyMimetype: "image/png"})
	backendtest.Put(t, ctx, b, "Gone", "old text", nil)
	backendtest.Put(t, ctx, b, "Gone", "", backend.Metadata{backend.KeyDeleted: "true"})

	item, err := b.GetItem(ctx, "HelpOnEditing")
	require.NoError(t, err)
	require.NoError(t, item.ChangeMetadata(ctx))
	require.NoError(t, item.SetMetadata("category", "help"))
	require.NoError(t, item.PublishMetadata(ctx))

	underlay := memory.New()
	backendtest.Put(t, ctx, underlay, "HelpContents", "shipped help\n", nil)
	r, err := router.New([]router.Mount{{Prefix: "", Backend: b}}, underlay)
	require.NoError(t, err)
	return r
}

var termTable = []struct {
	term   backend.Term
	expect []string
}{
	{&Name{Needle: "help"}, []string{"HelpContents", "HelpOnEditing"}},
	{&Name{Needle: "help", CaseSensitive: true}, nil},
	{&NameRE{Re: regexp.MustCompile(`^Help`)}, []string{"HelpContents", "HelpOnEditing"}},
	{&NameFn{Fn: func(s string) bool { return strings.HasSuffix(s, ".png") }}, []string{"logo.png"}},
	{&ItemName{Name: "FrontPage"}, []string{"FrontPage"}},
	{&Text{Needle: "WIKI"}, []string{"FrontPage"}},
	{&Text{Needle: "old"}, nil},
	{&TextRE{Re: regexp.MustCompile(`ed.t`)}, []string{"HelpOnEditing"}},
	{&MetaDataMatch{Key: "category", Value: "help"}, []string{"HelpOnEditing"}},
	{&HasMetaDataKey{Key: "category"}, []string{"HelpOnEditing"}},
	{&LastRevisionMetaDataMatch{Key: backend.KeyMimetype, Value: "image/png"}, []string{"logo.png"}},
	{&LastRevisionHasMetaDataKey{Key: backend.KeyMimetype}, []string{"FrontPage", "HelpOnEditing", "logo.png"}},
	{&FromUnderlay{}, []string{"HelpContents"}},
	{&And{Terms: []backend.Term{&Name{Needle: "help"}, &Not{Term: &FromUnderlay{}}}}, []string{"HelpOnEditing"}},
	{&Or{Terms: []backend.Term{&ItemName{Name: "Gone"}, &ItemName{Name: "logo.png"}}}, []string{"Gone", "logo.png"}},
	{&Xor{Terms: []backend.Term{&Name{Needle: "Help"}, &Name{Needle: "Editing"}}}, []string{"HelpContents"}},
}

func TestTerms(t *testing.T) {
	ctx := context.Background()
	b := fixture(t)
	for _, tab := range termTable {
		names, err := backend.Names(b.SearchItems(ctx, tab.term))
		require.NoError(t, err)
		assert.ElementsMatch(t, tab.expect, names, "%v", tab.term)
	}
}

type counter struct {
	memo
	n int
}

func (c *counter) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	return c.evaluate(item, func() (bool, error) {
		c.n++
		return true, nil
	})
}

func TestMemo(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	backendtest.Put(t, ctx, b, "A", "a", nil)
	item, err := b.GetItem(ctx, "A")
	require.NoError(t, err)

	c := &counter{}
	term := &And{Terms: []backend.Term{c, &Or{Terms: []backend.Term{c}}}}
	ok, err := term.Evaluate(ctx, item)
	require.NoError(t, err)
	assert.True(t, ok)
	term.Evaluate(ctx, item)
	assert.Equal(t, 1, c.n)

	term.Reset()
	term.Evaluate(ctx, item)
	assert.Equal(t, 2, c.n)
}

var queryTable = []struct {
	query  string
	expect string
}{
	{`{"name": "Help", "case": true}`, `Name("Help")`},
	{`{"and": [{"item_name": "A"}, {"not": {"underlay": true}}]}`, `AND(ItemName("A"), NOT(FromUnderlay))`},
	{`{"or": [{"has_meta": "acl"}, {"last_meta": {"key": "mimetype", "value": "image/png"}}]}`,
		`OR(HasMetaDataKey(acl), LastRevisionMetaDataMatch(mimetype="image/png"))`},
	{`{"text_re": "fo+"}`, `TextRE("fo+")`},
}

func TestParseQuery(t *testing.T) {
	for _, tab := range queryTable {
		term, err := ParseQuery([]byte(tab.query))
		require.NoError(t, err, tab.query)
		assert.Equal(t, tab.expect, term.(interface{ String() string }).String())
	}

	name, err := ParseQuery([]byte(`{"name": "x", "case": true}`))
	require.NoError(t, err)
	assert.True(t, name.(*Name).CaseSensitive)

	for _, bad := range []string{`{}`, `{"bogus": 1}`, `{"and": 3}`, `{"or": [{"name": "x"}, 7]}`, `{"name_re": "("}`, `{"meta": {"key": "k"}}`, `not json`} {
		_, err := ParseQuery([]byte(bad))
		assert.ErrorIs(t, err, ErrBadQuery, bad)
	}
}
