package server

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/wikistore/acl"
	"github.com/ndlib/wikistore/editor"
)

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		{"GET", "/item/*name", RoleUnknown, s.GetItemHandler},
		{"HEAD", "/item/*name", RoleUnknown, s.GetItemHandler},
		{"PUT", "/item/*name", RoleUnknown, s.SaveHandler},
		{"DELETE", "/item/*name", RoleUnknown, s.DeleteHandler},
		{"GET", "/revisions/*name", RoleUnknown, s.RevisionsHandler},
		{"POST", "/rename/*name", RoleUnknown, s.RenameHandler},
		{"POST", "/copy/*name", RoleUnknown, s.CopyHandler},
		{"POST", "/revert/*name", RoleUnknown, s.RevertHandler},
		{"PUT", "/attachment/*name", RoleUnknown, s.AttachHandler},
		{"DELETE", "/attachment/*name", RoleUnknown, s.DeleteAttachmentHandler},

		// edit locks and drafts
		{"POST", "/lock/*name", RoleUnknown, s.AcquireLockHandler},
		{"DELETE", "/lock/*name", RoleUnknown, s.ReleaseLockHandler},
		{"GET", "/draft/*name", RoleKnown, s.GetDraftHandler},
		{"PUT", "/draft/*name", RoleKnown, s.SaveDraftHandler},
		{"DELETE", "/draft/*name", RoleKnown, s.DiscardDraftHandler},

		{"GET", "/render/*name", RoleUnknown, s.RenderHandler},
		{"POST", "/search", RoleUnknown, s.SearchHandler},
		{"GET", "/editlog", RoleKnown, s.EditLogHandler},

		// maintenance
		{"POST", "/admin/reindex", RoleAdmin, s.ReindexHandler},
		{"GET", "/admin/check", RoleAdmin, s.CheckHandler},

		// other
		{"GET", "/", RoleUnknown, s.WelcomeHandler},
		{"GET", "/debug/vars", RoleUnknown, VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			s.logWrapper(route.method+" "+route.route,
				s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// VarHandler adapts the expvar default handler to the httprouter three
// parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	expvar.Handler().ServeHTTP(w, r)
}

// WelcomeHandler names the wiki.
func (s *RESTServer) WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "%s\n", s.Wiki.Config.Sitename)
}

// authzWrapper returns a Handler which will first verify the user token as
// having at least the given Role. The request context then carries the
// principal and the origin of the request.
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.Header.Get("X-Api-Key")
		user, role, err := s.Validator.TokenDecode(token)
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintln(w, err.Error())
			return
		}

		if role < leastRole {
			w.WriteHeader(401)
			fmt.Fprintln(w, "Forbidden")
			return
		}

		ctx := acl.WithPrincipal(r.Context(), principal(user, role))
		ctx = editor.WithOrigin(ctx, origin(r))
		ctx = context.WithValue(ctx, roleKey{}, role)
		handler(w, r.WithContext(ctx), ps)
	}
}

type roleKey struct{}

func roleFrom(ctx context.Context) Role {
	role, _ := ctx.Value(roleKey{}).(Role)
	return role
}

// origin returns the remote address of r without the port.
func origin(r *http.Request) editor.Origin {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return editor.Origin{Addr: host}
}

// logWrapper takes a handler and returns a handler which does the same
// thing, after first logging the request URL. The time spent is recorded
// under the route name.
func (s *RESTServer) logWrapper(name string, handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		defer s.Stats.BumpTime("route." + name).End()
		handler(w, r, ps)
	}
}

// intParam parses the query parameter key, returning def if it is absent.
func intParam(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func boolParam(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
