package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/backend"
	"github.com/ndlib/wikistore/editor"
	"github.com/ndlib/wikistore/events"
	"github.com/ndlib/wikistore/render"
)

// errorStatus maps an error from the core onto an HTTP status code.
func errorStatus(err error) int {
	var abort *events.Abort
	switch {
	case errors.Is(err, backend.ErrNoSuchItem),
		errors.Is(err, backend.ErrNoSuchRevision),
		errors.Is(err, render.ErrDeleted):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrItemExists),
		errors.Is(err, backend.ErrRevisionExists),
		errors.Is(err, editor.ErrEditConflict),
		errors.Is(err, editor.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, backend.ErrAccessDenied),
		errors.Is(err, backend.ErrImmutable),
		errors.Is(err, editor.ErrNoAdmin):
		return http.StatusForbidden
	case errors.Is(err, editor.ErrEmptyPage),
		errors.Is(err, editor.ErrUnchanged),
		errors.Is(err, backend.ErrInvalidName),
		errors.As(err, &abort):
		return http.StatusBadRequest
	case errors.Is(err, render.ErrNoConverter):
		return http.StatusUnsupportedMediaType
	}
	return http.StatusInternalServerError
}

// writeError reports err to the client. Server side failures are also
// logged and sent to sentry.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("server: %s %s: %s", r.Method, r.URL, err)
		raven.CaptureError(err, map[string]string{"path": r.URL.Path})
	}
	var conflict *editor.EditConflictError
	if errors.As(err, &conflict) {
		// the client continues editing from the merged text
		writeJSON(w, status, map[string]interface{}{
			"error":     err.Error(),
			"current":   conflict.Current,
			"merged":    conflict.Merged,
			"conflicts": conflict.Conflicts,
		})
		return
	}
	var locked *editor.LockedError
	if errors.As(err, &locked) {
		writeJSON(w, status, map[string]interface{}{
			"error": err.Error(),
			"owner": locked.Owner,
			"until": locked.Until,
		})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(val)
}
