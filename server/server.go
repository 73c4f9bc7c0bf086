// Package server is a thin HTTP shell around a wiki. It maps requests onto
// the editor, the ACL guarded backend and the renderer, and runs the
// maintenance jobs in the background.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/facebookgo/stats"
	"github.com/rs/cors"
)

// RESTServer serves one wiki.
//
// Set the public fields and then call Run. Do not change any fields after
// calling Run.
type RESTServer struct {
	// Port number to listen on. Defaults to 14000.
	PortNumber string

	// Wiki is the wiki being served. Run will panic if it is nil.
	Wiki *Wiki

	// Validator decodes the API tokens. If nil, every request is
	// anonymous.
	Validator TokenDecoder

	// CORSOrigins lists the origins allowed to make cross site requests.
	// No CORS headers are sent if it is empty.
	CORSOrigins []string

	// Stats receives the request timings. Defaults to counters published
	// through expvar.
	Stats stats.Client

	server    httpdown.Server
	scheduler *scheduler
	cancel    context.CancelFunc
}

// New returns a server for w configured from w's configuration.
func New(w *Wiki) (*RESTServer, error) {
	s := &RESTServer{
		PortNumber:  w.Config.Port,
		Wiki:        w,
		CORSOrigins: w.Config.CORSOrigins,
	}
	if w.Config.TokensFile != "" {
		var err error
		s.Validator, err = NewListDecoderFile(w.Config.TokensFile)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *RESTServer) init() {
	if s.Wiki == nil {
		panic("no wiki given")
	}
	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}
	if s.Validator == nil {
		log.Println("No Validator given")
		s.Validator = NewAnonymousDecoder()
	}
	if s.Stats == nil {
		s.Stats = serverStats
	}
}

// Run starts the maintenance jobs and the file watchers. It then blocks
// listening for and handling http requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting wiki server for %q", s.Wiki.Config.Sitename)
	s.init()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if err := s.Wiki.Watch(ctx); err != nil {
		log.Println(err)
	}
	if err := s.startMaintenance(ctx); err != nil {
		cancel()
		return err
	}

	log.Println("Listening on", s.PortNumber)
	h := httpdown.HTTP{
		StopTimeout: 10 * time.Second,
		KillTimeout: time.Minute,
		Stats:       s.Stats,
		Clock:       s.Wiki.Clock,
	}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.Handler(),
	})
	if err != nil {
		log.Println(err)
		s.scheduler.stop()
		cancel()
		return err
	}
	return s.server.Wait()
}

// Stop stops the maintenance jobs and then closes the listening socket,
// waiting for requests in progress.
func (s *RESTServer) Stop() error {
	s.scheduler.stop()
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Stop()
}

// Handler returns the routes of the server, wrapped for CORS if any
// origins are configured.
func (s *RESTServer) Handler() http.Handler {
	s.init()
	h := s.addRoutes()
	if len(s.CORSOrigins) == 0 {
		return h
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"X-Api-Key", "Content-Type"},
	})
	return c.Handler(h)
}
