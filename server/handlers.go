package server

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/acl"
	"github.com/ndlib/wikistore/backend"
	"github.com/ndlib/wikistore/editlog"
	"github.com/ndlib/wikistore/editor"
	"github.com/ndlib/wikistore/render"
	"github.com/ndlib/wikistore/search"
)

// maxBody limits the size of item and query uploads.
const maxBody = 32 << 20

// itemName returns the item name of a /route/*name request. The star
// parameter in httprouter includes the leading slash.
func itemName(ps httprouter.Params) string {
	return strings.TrimPrefix(ps.ByName("name"), "/")
}

func readBody(r *http.Request) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	return string(data), err
}

// revision returns the revision of name asked for by the rev query
// parameter, or the latest one.
func (s *RESTServer) revision(r *http.Request, name string) (backend.Item, backend.Revision, error) {
	revno, err := intParam(r, "rev", -1)
	if err != nil {
		return nil, nil, errors.Wrap(backend.ErrNoSuchRevision, err.Error())
	}
	item, err := s.Wiki.Backend.GetItem(r.Context(), name)
	if err != nil {
		return nil, nil, err
	}
	rev, err := item.GetRevision(r.Context(), revno)
	if err != nil {
		return nil, nil, err
	}
	return item, rev, nil
}

// GetItemHandler returns the body of a revision. The revision metadata is
// sent in X-Meta- headers.
func (s *RESTServer) GetItemHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	item, rev, err := s.revision(r, itemName(ps))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if backend.IsDeleted(rev) && r.URL.Query().Get("rev") == "" {
		writeError(w, r, errors.Wrap(backend.ErrNoSuchItem, "deleted"))
		return
	}
	md := rev.Metadata()
	h := w.Header()
	for _, k := range md.Keys() {
		h.Set("X-Meta-"+k, md[k])
	}
	if mt := md[backend.KeyMimetype]; mt != "" {
		h.Set("Content-Type", mt)
	}
	h.Set("ETag", fmt.Sprintf(`"%s:%d"`, item.UUID(), rev.Revno()))
	h.Set("X-Revision", fmt.Sprint(rev.Revno()))
	h.Set("Last-Modified", rev.Timestamp().UTC().Format(http.TimeFormat))
	if r.Method == "HEAD" {
		return
	}
	io.Copy(w, rev)
}

// RevisionsHandler lists the revision numbers of an item.
func (s *RESTServer) RevisionsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	item, err := s.Wiki.Backend.GetItem(r.Context(), itemName(ps))
	if err != nil {
		writeError(w, r, err)
		return
	}
	revs, err := item.ListRevisions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

type saveResponse struct {
	Revno      int      `json:"revno"`
	Merged     bool     `json:"merged,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

func newSaveResponse(res *editor.SaveResult) saveResponse {
	resp := saveResponse{Revno: res.Revno, Merged: res.Merged}
	if res.Recipients != nil {
		resp.Recipients = res.Recipients.ToSlice()
		sort.Strings(resp.Recipients)
	}
	return resp
}

// SaveHandler stores the request body as a new revision. The origrev
// parameter names the revision the edit started from; leave it out for a
// new item.
func (s *RESTServer) SaveHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	text, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	origrev, err := intParam(r, "origrev", -1)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "bad origrev")
		return
	}
	q := r.URL.Query()
	res, err := s.Wiki.Editor.Save(r.Context(), editor.SaveRequest{
		Name:     itemName(ps),
		Text:     text,
		OrigRev:  origrev,
		Comment:  q.Get("comment"),
		Trivial:  boolParam(r, "trivial"),
		Mimetype: q.Get("mimetype"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSaveResponse(res))
}

// DeleteHandler stores a deleted revision.
func (s *RESTServer) DeleteHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	revno, err := s.Wiki.Editor.Delete(r.Context(), itemName(ps), r.URL.Query().Get("comment"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{Revno: revno})
}

// RenameHandler renames an item and its subitems to the to parameter.
func (s *RESTServer) RenameHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	to := r.URL.Query().Get("to")
	err := s.Wiki.Editor.Rename(r.Context(), itemName(ps), to, r.URL.Query().Get("comment"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/item/"+to)
	w.WriteHeader(http.StatusNoContent)
}

// CopyHandler copies an item and its subitems to the to parameter.
func (s *RESTServer) CopyHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	to := r.URL.Query().Get("to")
	err := s.Wiki.Editor.Copy(r.Context(), itemName(ps), to, r.URL.Query().Get("comment"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/item/"+to)
	w.WriteHeader(http.StatusCreated)
}

// RevertHandler makes the text of revision rev current again.
func (s *RESTServer) RevertHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	revno, err := intParam(r, "rev", -1)
	if err != nil || revno < 0 {
		w.WriteHeader(400)
		fmt.Fprintln(w, "bad rev")
		return
	}
	res, err := s.Wiki.Editor.Revert(r.Context(), itemName(ps), revno, r.URL.Query().Get("comment"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSaveResponse(res))
}

// AttachHandler stores the body as the attachment named by the file
// parameter.
func (s *RESTServer) AttachHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	q := r.URL.Query()
	body := io.LimitReader(r.Body, maxBody)
	revno, err := s.Wiki.Editor.Attach(r.Context(), itemName(ps), q.Get("file"), body,
		r.Header.Get("Content-Type"), boolParam(r, "overwrite"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{Revno: revno})
}

// DeleteAttachmentHandler deletes the attachment named by the file
// parameter.
func (s *RESTServer) DeleteAttachmentHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.Wiki.Editor.DeleteAttachment(r.Context(), itemName(ps), r.URL.Query().Get("file"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcquireLockHandler opens an edit session: it takes the edit lock and
// returns the current text together with any draft the user left.
func (s *RESTServer) AcquireLockHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	session, err := s.Wiki.Editor.Open(r.Context(), itemName(ps))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ReleaseLockHandler drops the edit lock of the user. With force=true an
// admin token removes anybody's lock.
func (s *RESTServer) ReleaseLockHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	force := boolParam(r, "force")
	if force && roleFrom(r.Context()) < RoleAdmin {
		w.WriteHeader(401)
		fmt.Fprintln(w, "Forbidden")
		return
	}
	if err := s.Wiki.Editor.Locks.Release(r.Context(), itemName(ps), force); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *RESTServer) drafts(w http.ResponseWriter) (*editor.Drafts, bool) {
	d := s.Wiki.Editor.Drafts
	if d == nil {
		NotImplementedHandler(w, nil, nil)
	}
	return d, d != nil
}

// GetDraftHandler returns the draft the user left for an item.
func (s *RESTServer) GetDraftHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	d, ok := s.drafts(w)
	if !ok {
		return
	}
	user := acl.PrincipalFrom(r.Context()).Name
	draft, err := d.Load(r.Context(), user, itemName(ps))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if draft == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, "no draft")
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// SaveDraftHandler keeps the body as the user's draft of an item.
func (s *RESTServer) SaveDraftHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	d, ok := s.drafts(w)
	if !ok {
		return
	}
	text, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	origrev, err := intParam(r, "origrev", -1)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "bad origrev")
		return
	}
	user := acl.PrincipalFrom(r.Context()).Name
	if err := d.Save(r.Context(), user, itemName(ps), origrev, text); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DiscardDraftHandler removes the user's draft of an item.
func (s *RESTServer) DiscardDraftHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	d, ok := s.drafts(w)
	if !ok {
		return
	}
	user := acl.PrincipalFrom(r.Context()).Name
	if err := d.Discard(r.Context(), user, itemName(ps)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenderHandler returns a revision converted to HTML.
func (s *RESTServer) RenderHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	item, rev, err := s.revision(r, itemName(ps))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.Wiki.Renderer.Render(r.Context(), item, rev, render.HTML)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(out)
}

// SearchHandler runs the JSON query in the request body and returns the
// names of the matching items the user may read.
func (s *RESTServer) SearchHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, r, err)
		return
	}
	term, err := search.ParseQuery(data)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	names, err := backend.Names(s.Wiki.Backend.SearchItems(r.Context(), term))
	if err != nil {
		writeError(w, r, err)
		return
	}
	sort.Strings(names)
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// EditLogHandler returns the most recent edit-log records, newest first.
func (s *RESTServer) EditLogHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.Wiki.EditLog == nil {
		NotImplementedHandler(w, r, ps)
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "bad limit")
		return
	}
	records, err := s.Wiki.EditLog.Tail(limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []editlog.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ReindexHandler rebuilds the index.
func (s *RESTServer) ReindexHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	n, err := s.Wiki.Reindex(r.Context())
	if errors.Is(err, ErrNoIndex) {
		NotImplementedHandler(w, r, ps)
		return
	} else if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"items": n})
}

// CheckHandler compares the index with the stored items.
func (s *RESTServer) CheckHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.Wiki.Index == nil {
		NotImplementedHandler(w, r, ps)
		return
	}
	problems, err := s.Wiki.Index.Check(r.Context(), s.Wiki.router)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]string, len(problems))
	for i, p := range problems {
		out[i] = p.String()
	}
	writeJSON(w, http.StatusOK, out)
}

// NotImplementedHandler will return a 501 not implemented error.
func NotImplementedHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.WriteHeader(http.StatusNotImplemented)
	fmt.Fprintf(w, "Not Implemented\n")
}
