package server

import (
	"context"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/acl"
	"github.com/ndlib/wikistore/backend"
	"github.com/ndlib/wikistore/backend/blob"
	"github.com/ndlib/wikistore/backend/bolt"
	"github.com/ndlib/wikistore/backend/memory"
	"github.com/ndlib/wikistore/cache"
	"github.com/ndlib/wikistore/compress"
	"github.com/ndlib/wikistore/config"
	"github.com/ndlib/wikistore/editlog"
	"github.com/ndlib/wikistore/editor"
	"github.com/ndlib/wikistore/events"
	"github.com/ndlib/wikistore/index"
	"github.com/ndlib/wikistore/render"
	"github.com/ndlib/wikistore/router"
	"github.com/ndlib/wikistore/store"
)

// Wiki is one wiki assembled from its configuration.
//
// Storage is the router over the configured mounts, with the index layered
// on top if there is one. Backend adds the ACL checks and is what requests
// go through. Maintenance jobs use Storage directly.
type Wiki struct {
	Config   *config.Config
	Storage  backend.Backend
	Backend  *acl.Backend
	Index    *index.Index // nil if the wiki has no index
	Cache    *cache.Store
	Editor   *editor.Editor
	Renderer *render.Renderer
	EditLog  *editlog.EditLog
	EventLog *editlog.EventLog
	Groups   *config.Groups
	Dicts    *config.Dicts
	Clock    clock.Clock

	// Subscribers is nil when no subscription file is configured.
	Subscribers *config.Subscribers

	router  *router.Router
	closers []io.Closer
}

// Open builds the wiki described by cfg.
func Open(cfg *config.Config) (*Wiki, error) {
	w := &Wiki{Config: cfg, Clock: clock.New()}
	if err := w.open(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Wiki) open() error {
	cfg := w.Config
	codec, err := compress.Lookup(cfg.Compression)
	if err != nil {
		return err
	}

	var mounts []router.Mount
	for _, m := range cfg.Mounts {
		b, err := w.openBackend(m.Kind, m.Path, m.Bucket, codec)
		if err != nil {
			return errors.Wrapf(err, "mount %s", m.Prefix)
		}
		mounts = append(mounts, router.Mount{Prefix: m.Prefix, Backend: b})
	}
	root, err := w.openBackend(cfg.Backend, cfg.DataDir, cfg.Bucket, codec)
	if err != nil {
		return err
	}
	mounts = append(mounts, router.Mount{Prefix: "", Backend: root})

	var underlay backend.Backend
	if cfg.UnderlayDir != "" {
		underlay = blob.New(store.NewFileSystem(cfg.UnderlayDir), codec)
	}
	w.router, err = router.New(mounts, underlay)
	if err != nil {
		return err
	}
	w.Storage = w.router

	if cfg.Index != "" {
		w.Index, err = index.Open(cfg.Index)
		if err != nil {
			return err
		}
		w.closers = append(w.closers, w.Index)
		if err := w.fillIndex(context.Background()); err != nil {
			return err
		}
		w.Storage = index.Wrap(w.router, w.Index)
	}

	checker, err := w.checker()
	if err != nil {
		return err
	}
	w.Backend = acl.Wrap(w.Storage, checker)

	w.Cache = cache.New(cfg.CacheDir, cfg.FarmDir, cfg.Secret)
	w.Cache.LockTimeout = cfg.Cache.LockTimeout.Duration
	w.Cache.ReadLockTimeout = cfg.Cache.ReadLockTimeout.Duration
	w.Cache.Clock = w.Clock
	w.Renderer = render.New(w.Cache)

	if cfg.EditLog != "" {
		w.EditLog = editlog.Open(cfg.EditLog)
	}
	if cfg.EventLog != "" {
		w.EventLog = editlog.OpenEvents(cfg.EventLog)
	}
	if cfg.DictsFile != "" {
		w.Dicts, err = config.LoadDicts(cfg.DictsFile)
		if err != nil {
			return err
		}
	}
	return w.openEditor()
}

func (w *Wiki) checker() (*acl.Checker, error) {
	a := w.Config.ACL
	c := acl.NewChecker(a.Before, a.Default, a.After, a.ValidRights)
	c.Hierarchic = a.Hierarchic
	c.TrustedMethods = mapset.NewSet(a.TrustedMethods...)
	if re := w.Config.PageGroupRegex; re != "" {
		var err error
		c.GroupRE, err = regexp.Compile(re)
		if err != nil {
			return nil, err
		}
	}
	if w.Config.GroupsFile != "" {
		var err error
		w.Groups, err = config.LoadGroups(w.Config.GroupsFile)
		if err != nil {
			return nil, err
		}
		c.Groups = w.Groups
	}
	return c, nil
}

func (w *Wiki) openEditor() error {
	cfg := w.Config
	policy, err := editor.ParsePolicy(cfg.EditLocking)
	if err != nil {
		return err
	}
	ed := editor.New(w.Backend)
	ed.Perms = w.Backend
	ed.Clock = w.Clock
	ed.Drafts = editor.NewDrafts(w.Cache)
	ed.Drafts.Clock = w.Clock
	ed.Locks = editor.NewEditLocks(w.Backend, policy)
	ed.Locks.Clock = w.Clock
	ed.Log = w.EditLog
	ed.StripSpaces = cfg.StripSpaces
	if cfg.TemplateRegex != "" {
		ed.TemplateRE, err = regexp.Compile(cfg.TemplateRegex)
		if err != nil {
			return err
		}
	}
	if w.Dicts != nil {
		ed.UserVars = w.Dicts.Dict
	}
	ed.Bus.Subscribe(events.InvalidateCache(w.Cache))
	if w.EventLog != nil {
		ed.Bus.Subscribe(events.RecordTo(w.EventLog, w.Clock))
	}
	if err := w.openNotifier(ed.Bus); err != nil {
		return err
	}
	w.Editor = ed
	return nil
}

// openNotifier subscribes change notifications when a subscription file
// and at least one delivery channel are configured.
func (w *Wiki) openNotifier(bus *events.Bus) error {
	cfg := w.Config
	if cfg.SubscribersFile == "" || (cfg.Mail.SMTP == "" && cfg.Mail.JabberURL == "") {
		return nil
	}
	var err error
	w.Subscribers, err = config.LoadSubscribers(cfg.SubscribersFile)
	if err != nil {
		return err
	}
	n := &events.Notifier{
		Backend:     w.Storage,
		Subscribers: w.Subscribers.List,
		From:        cfg.Mail.From,
		SiteName:    cfg.Sitename,
		BaseURL:     cfg.BaseURL,
	}
	if cfg.Mail.SMTP != "" {
		n.Mail = smtpMailer{addr: cfg.Mail.SMTP}
	}
	if cfg.Mail.JabberURL != "" {
		n.Jabber = newJabberHook(cfg.Mail.JabberURL)
	}
	bus.Subscribe(n.Listener())
	return nil
}

// openBackend returns a physical backend of the given kind. For fs and
// bolt, location is a directory or file, and bucket is a key prefix for fs.
// For s3 location is an optional endpoint host and bucket is
// "bucket/prefix".
func (w *Wiki) openBackend(kind, location, bucket string, codec compress.Codec) (backend.Backend, error) {
	switch kind {
	case "memory":
		return memory.New(), nil
	case "fs":
		if err := os.MkdirAll(location, 0755); err != nil {
			return nil, err
		}
		var s store.Store = store.NewFileSystem(location)
		if bucket != "" {
			// mounts sharing a directory keep their keys apart
			s = store.NewWithPrefix(s, bucket)
		}
		return blob.New(s, codec), nil
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(location), 0755); err != nil {
			return nil, err
		}
		b, d, err := bolt.Open(location)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, d)
		return b, nil
	case "s3":
		s, err := newS3(location, bucket)
		if err != nil {
			return nil, err
		}
		return blob.New(s, codec), nil
	}
	return nil, errors.Errorf("unknown backend kind %q", kind)
}

func newS3(endpoint, location string) (*store.S3, error) {
	conf := &aws.Config{}
	if endpoint != "" {
		conf.Endpoint = aws.String(endpoint)
		conf.Region = aws.String("us-east-1")
		// local development servers speak plain http
		if strings.Contains(endpoint, "localhost") {
			conf.DisableSSL = aws.Bool(true)
			conf.S3ForcePathStyle = aws.Bool(true)
		}
	}
	bucket, prefix := splitBucketPrefix(location)
	if bucket == "" {
		return nil, errors.Errorf("no bucket name in %q", location)
	}
	sess, err := session.NewSession(conf)
	if err != nil {
		return nil, err
	}
	return store.NewS3(bucket, prefix, sess), nil
}

// splitBucketPrefix separates the bucket name from the key prefix. The
// prefix returned is either empty or ends with a slash.
//
//	"bucket"              -> ("bucket", "")
//	"bucket/wiki/pages"   -> ("bucket", "wiki/pages/")
func splitBucketPrefix(location string) (bucket, prefix string) {
	location = strings.TrimPrefix(location, "/")
	if location == "" {
		return
	}
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		prefix = path.Clean(v[1])
	}
	if prefix == "." {
		prefix = ""
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return
}

// Watch reloads the group, dictionary and subscription files when they
// change, until ctx is done.
func (w *Wiki) Watch(ctx context.Context) error {
	if w.Groups != nil {
		if _, err := config.Watch(ctx, w.Config.GroupsFile, w.Groups); err != nil {
			return err
		}
	}
	if w.Dicts != nil {
		if _, err := config.Watch(ctx, w.Config.DictsFile, w.Dicts); err != nil {
			return err
		}
	}
	if w.Subscribers != nil {
		if _, err := config.Watch(ctx, w.Config.SubscribersFile, w.Subscribers); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the databases held by the wiki.
func (w *Wiki) Close() error {
	var first error
	for _, c := range w.closers {
		if err := c.Close(); err != nil {
			log.Printf("wiki: close: %s", err)
			if first == nil {
				first = err
			}
		}
	}
	w.closers = nil
	return first
}
