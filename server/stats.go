package server

import (
	"expvar"
	"time"

	"github.com/facebookgo/clock"
	"github.com/facebookgo/stats"
)

// expvarStats is a stats.Client that publishes through expvar, so the
// numbers show up under /debug/vars. Averages are kept as a running total
// and a count.
type expvarStats struct {
	m     *expvar.Map
	clock clock.Clock
}

var _ stats.Client = &expvarStats{}

var serverStats = &expvarStats{m: expvar.NewMap("wikistore"), clock: clock.New()}

func (s *expvarStats) BumpAvg(key string, val float64) {
	s.m.AddFloat(key+".total", val)
	s.m.Add(key+".count", 1)
}

func (s *expvarStats) BumpSum(key string, val float64) {
	s.m.AddFloat(key, val)
}

func (s *expvarStats) BumpHistogram(key string, val float64) {
	s.BumpAvg(key, val)
}

func (s *expvarStats) BumpTime(key string) interface {
	End()
} {
	return &timer{s: s, key: key, start: s.clock.Now()}
}

type timer struct {
	s     *expvarStats
	key   string
	start time.Time
}

// End records the elapsed time in milliseconds.
func (t *timer) End() {
	elapsed := t.s.clock.Now().Sub(t.start)
	t.s.BumpAvg(t.key+".ms", float64(elapsed)/float64(time.Millisecond))
}
