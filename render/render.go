// Package render turns revisions into output formats, e.g. HTML.
//
// Results are kept in the item scope of the cache, tagged with the uuid and
// revision number they were made from, so a new revision makes the cached
// copy stale. Concurrent requests for the same rendering are collapsed
// into one.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log"
	"strings"

	"github.com/getsentry/raven-go"
	"github.com/golang/groupcache/singleflight"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ndlib/wikistore/backend"
	"github.com/ndlib/wikistore/cache"
)

// HTML is the output mimetype of the built in converters.
const HTML = "text/html"

var (
	// ErrNoConverter means no converter is registered for the pair of
	// mimetypes.
	ErrNoConverter = errors.New("no converter for mimetype")

	// ErrDeleted is returned for a deleted revision.
	ErrDeleted = errors.New("revision is deleted")
)

// A Converter turns the body of a revision into some output format.
type Converter func(src []byte) ([]byte, error)

// Renderer is the render façade. The zero value is not usable; use New.
type Renderer struct {
	// Cache keeps rendered output. If nil, nothing is cached.
	Cache *cache.Store

	converters map[string]Converter // keyed by "input output"
	group      singleflight.Group
}

// New returns a renderer with the built in converters: markdown and wiki
// text through goldmark, and plain text in a pre block.
func New(c *cache.Store) *Renderer {
	r := &Renderer{
		Cache:      c,
		converters: make(map[string]Converter),
	}
	md := goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))
	markdown := func(src []byte) ([]byte, error) {
		var buf bytes.Buffer
		err := md.Convert(src, &buf)
		return buf.Bytes(), err
	}
	r.Register("text/markdown", HTML, markdown)
	r.Register("text/x-markdown", HTML, markdown)
	r.Register("text/x.moin.wiki", HTML, func(src []byte) ([]byte, error) {
		return markdown(stripInstructions(src))
	})
	r.Register("text/plain", HTML, plain)
	return r
}

// Register adds or replaces the converter from mimetype in to out.
func (r *Renderer) Register(in, out string, c Converter) {
	r.converters[in+" "+out] = c
}

func (r *Renderer) converter(in, out string) (Converter, error) {
	if i := strings.IndexByte(in, ';'); i >= 0 {
		in = strings.TrimSpace(in[:i])
	}
	if c, ok := r.converters[in+" "+out]; ok {
		return c, nil
	}
	if strings.HasPrefix(in, "text/") && out == HTML {
		return plain, nil
	}
	return nil, errors.Wrapf(ErrNoConverter, "%s to %s", in, out)
}

// Render returns rev of item converted to the out mimetype. A nil rev
// means the latest revision.
func (r *Renderer) Render(ctx context.Context, item backend.Item, rev backend.Revision, out string) ([]byte, error) {
	if rev == nil {
		var err error
		rev, err = backend.Latest(ctx, item)
		if err != nil {
			return nil, err
		}
	}
	if backend.IsDeleted(rev) {
		return nil, ErrDeleted
	}
	conv, err := r.converter(rev.Metadata()[backend.KeyMimetype], out)
	if err != nil {
		return nil, err
	}
	source := fmt.Sprintf("%s:%d", item.UUID(), rev.Revno())
	v, err := r.group.Do(source+" "+out, func() (interface{}, error) {
		return r.render(ctx, item.Name(), source, rev, out, conv)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (r *Renderer) render(ctx context.Context, name, source string, rev backend.Revision, out string, conv Converter) ([]byte, error) {
	var entry *cache.Entry
	if r.Cache != nil {
		var err error
		entry, err = r.Cache.Entry(cache.Item, name, "render "+out)
		if err != nil {
			return nil, err
		}
		if !entry.NeedsUpdate(source) {
			content, err := entry.Content(ctx)
			if err == nil {
				return content, nil
			}
			log.Printf("render: %s: %s", name, err)
		}
	}
	src, err := backend.ReadAll(rev)
	if err != nil {
		return nil, err
	}
	result, err := conv(src)
	if err != nil {
		return nil, errors.Wrapf(err, "render %s", name)
	}
	if entry != nil {
		if err := entry.Update(ctx, result, source); err != nil {
			log.Printf("render: cache %s: %s", name, err)
			raven.CaptureError(err, map[string]string{"item": name})
		}
	}
	return result, nil
}

func plain(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("<pre>")
	buf.WriteString(html.EscapeString(string(src)))
	buf.WriteString("</pre>\n")
	return buf.Bytes(), nil
}

// stripInstructions drops the processing instruction lines, such as #acl
// or #format, at the top of wiki text. Lines starting with ## are comments.
func stripInstructions(src []byte) []byte {
	for len(src) > 0 && src[0] == '#' {
		i := bytes.IndexByte(src, '\n')
		if i < 0 {
			return nil
		}
		src = src[i+1:]
	}
	return src
}
