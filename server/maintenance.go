package server

import (
	"context"
	"log"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"github.com/robfig/cron"

	"github.com/ndlib/wikistore/editor"
)

// staleLockAge is how long after expiry an edit lock is left in place, so
// the next editor can still be told about the takeover.
const staleLockAge = 3 * time.Hour

// ErrNoIndex is returned by the index jobs of a wiki without an index.
var ErrNoIndex = errors.New("wiki has no index")

// SweepEditLocks removes edit locks that expired long ago.
func (w *Wiki) SweepEditLocks(ctx context.Context) (int, error) {
	policy, err := editor.ParsePolicy(w.Config.EditLocking)
	if err != nil {
		return 0, err
	}
	if policy.Mode == editor.ModeNone {
		policy.Timeout = editor.DefaultLockTimeout
	}
	locks := editor.NewEditLocks(w.Storage, policy)
	locks.Clock = w.Clock
	return locks.Sweep(ctx, staleLockAge)
}

// SweepDrafts removes drafts older than the configured age.
func (w *Wiki) SweepDrafts(ctx context.Context) (int, error) {
	return w.Editor.Drafts.Sweep(ctx, w.Config.Maintenance.DraftMaxAge.Duration)
}

// SweepCache removes cache entries not written within the configured age.
func (w *Wiki) SweepCache(ctx context.Context) (int, error) {
	return w.Cache.Sweep(ctx, w.Config.Maintenance.CacheMaxAge.Duration)
}

// Reindex rebuilds the index from the mounted backends.
func (w *Wiki) Reindex(ctx context.Context) (int, error) {
	if w.Index == nil {
		return 0, ErrNoIndex
	}
	return w.Index.Reindex(ctx, w.router)
}

// fillIndex builds an empty index from the mounted backends, so items
// stored before the index existed are found by searches.
func (w *Wiki) fillIndex(ctx context.Context) error {
	empty, err := w.Index.Empty(ctx)
	if err != nil || !empty {
		return err
	}
	n, err := w.Index.Reindex(ctx, w.router)
	if err != nil {
		return errors.Wrap(err, "filling the index")
	}
	if n > 0 {
		log.Printf("wiki: indexed %d existing items", n)
	}
	return nil
}

// CheckIndex compares the index with the mounted backends and returns the
// number of disagreeing items. Each one is logged.
func (w *Wiki) CheckIndex(ctx context.Context) (int, error) {
	if w.Index == nil {
		return 0, ErrNoIndex
	}
	problems, err := w.Index.Check(ctx, w.router)
	for _, p := range problems {
		log.Printf("index: %s", p)
	}
	return len(problems), err
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int, error)
}

// scheduler runs the maintenance jobs. A job still running when it is due
// again is skipped.
type scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	m       sync.Mutex
	running mapset.Set[string]
}

func (s *RESTServer) startMaintenance(ctx context.Context) error {
	w := s.Wiki
	m := w.Config.Maintenance
	jobs := []job{
		{"edit locks", m.EditLocks, w.SweepEditLocks},
		{"drafts", m.Drafts, w.SweepDrafts},
		{"cache", m.CacheSweep, w.SweepCache},
	}
	if w.Index != nil {
		jobs = append(jobs, job{"index check", m.IndexCheck, w.CheckIndex})
	}
	sc := &scheduler{
		cron:    cron.New(),
		ctx:     ctx,
		running: mapset.NewSet[string](),
	}
	for _, j := range jobs {
		if j.schedule == "" {
			continue
		}
		j := j
		if err := sc.cron.AddFunc(j.schedule, func() { sc.run(j) }); err != nil {
			return errors.Wrapf(err, "maintenance %s", j.name)
		}
		log.Printf("maintenance: %s at %q", j.name, j.schedule)
	}
	sc.cron.Start()
	s.scheduler = sc
	return nil
}

func (sc *scheduler) run(j job) {
	sc.m.Lock()
	if sc.running.Contains(j.name) {
		sc.m.Unlock()
		log.Printf("maintenance: %s is still running", j.name)
		return
	}
	sc.running.Add(j.name)
	sc.m.Unlock()
	defer func() {
		sc.m.Lock()
		sc.running.Remove(j.name)
		sc.m.Unlock()
	}()

	start := time.Now()
	n, err := j.run(sc.ctx)
	if err != nil {
		log.Printf("maintenance: %s: %s", j.name, err)
		raven.CaptureError(err, map[string]string{"job": j.name})
		return
	}
	log.Printf("maintenance: %s: %d in %s", j.name, n, time.Since(start))
}

func (sc *scheduler) stop() {
	if sc != nil {
		sc.cron.Stop()
	}
}
