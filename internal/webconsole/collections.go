// ABOUTME: Collection page handlers: load, filter, paginate, select, edit and act
// ABOUTME: Every mutation redirects back to the collection page

package webconsole

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/2389/pymemap-console/internal/console"
	"github.com/2389/pymemap-console/internal/grid"
	"github.com/2389/pymemap-console/internal/resource"
)

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	name := r.PathValue("name")

	active := ws.Console.Active()
	if active == nil || active.Name() != name {
		if err := ws.Console.SelectResource(r.Context(), name); err != nil {
			if errors.Is(err, resource.ErrUnknownResource) {
				http.NotFound(w, r)
				return
			}
			if s.expired(w, r) {
				return
			}
		}
	}

	b := ws.Console.Active()
	field, value := ws.Console.Filter()
	data := collectionData{
		layout:       s.layoutFor(r, b.Title(), collectionPath(name)),
		Resource:     name,
		Metrics:      ws.Console.Metrics(),
		FilterFields: b.FilterFields(),
		FilterField:  field,
		FilterValue:  value,
		Filtering:    field != "",
		Detail:       detailFields(ws.Console.Detail()),
		Stale:        ws.Console.Stale(),
		Grid:         s.gridHTML(ws.Console.Grid(), collectionPath(name), getCSRFToken(r)),
	}
	s.render(w, http.StatusOK, "collection", data)
}

// activeGrid returns the grid of the named collection. It redirects to the
// collection page and returns nil when another collection is active.
func (s *Server) activeGrid(w http.ResponseWriter, r *http.Request) *grid.Grid {
	ws := getWorkspace(r)
	name := r.PathValue("name")
	b := ws.Console.Active()
	g := ws.Console.Grid()
	if b == nil || b.Name() != name || g == nil {
		http.Redirect(w, r, collectionPath(name), http.StatusSeeOther)
		return nil
	}
	return g
}

func (s *Server) handleCollectionFilter(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	name := r.PathValue("name")
	if s.activeGrid(w, r) == nil {
		return
	}
	// Failures are reported through the inbox.
	_, _ = ws.Console.ApplyFreeTextFilter(r.FormValue("field"), r.FormValue("value"))
	s.finish(w, r, collectionPath(name))
}

func (s *Server) handleCollectionFilterClear(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	if s.activeGrid(w, r) == nil {
		return
	}
	ws.Console.ClearFilter()
	s.finish(w, r, collectionPath(r.PathValue("name")))
}

func (s *Server) handleCollectionGrid(w http.ResponseWriter, r *http.Request) {
	g := s.activeGrid(w, r)
	if g == nil {
		return
	}
	s.applyGridForm(r, g)
	s.finish(w, r, collectionPath(r.PathValue("name")))
}

func (s *Server) handleCollectionSelect(w http.ResponseWriter, r *http.Request) {
	g := s.activeGrid(w, r)
	if g == nil {
		return
	}
	s.applySelect(r, g)
	s.finish(w, r, collectionPath(r.PathValue("name")))
}

func (s *Server) handleCollectionSelectAll(w http.ResponseWriter, r *http.Request) {
	g := s.activeGrid(w, r)
	if g == nil {
		return
	}
	s.applySelectAll(r, g)
	s.finish(w, r, collectionPath(r.PathValue("name")))
}

func (s *Server) handleCollectionEdit(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	g := s.activeGrid(w, r)
	if g == nil {
		return
	}
	if err := g.EnterEdit(r.PathValue("id")); err != nil {
		ws.Inbox.Notify(console.NewNotice(console.LevelWarning, "%s", editMessage(err)))
	}
	s.finish(w, r, collectionPath(r.PathValue("name")))
}

func editMessage(err error) string {
	switch {
	case errors.Is(err, grid.ErrEditInProgress):
		return "Finish editing the current row first"
	case errors.Is(err, grid.ErrUnknownRecord):
		return "That record is no longer in the list"
	default:
		return err.Error()
	}
}

func (s *Server) handleCollectionSave(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	g := s.activeGrid(w, r)
	if g == nil {
		return
	}
	id := r.PathValue("id")
	original, ok := g.Record(id)
	if !ok || g.Editing() != id {
		ws.Inbox.Notify(console.NewNotice(console.LevelWarning, "That row is not being edited"))
		s.finish(w, r, collectionPath(r.PathValue("name")))
		return
	}
	values := grid.ParseEditForm(g.Columns(), original, r.PostForm)
	if err := g.SaveEdit(r.Context(), values); err != nil {
		s.logger.Debug("save failed", "id", id, "error", err)
	}
	s.finish(w, r, collectionPath(r.PathValue("name")))
}

func (s *Server) handleCollectionCancel(w http.ResponseWriter, r *http.Request) {
	g := s.activeGrid(w, r)
	if g == nil {
		return
	}
	g.CancelEdit()
	s.finish(w, r, collectionPath(r.PathValue("name")))
}

func (s *Server) handleCollectionAction(w http.ResponseWriter, r *http.Request) {
	g := s.activeGrid(w, r)
	if g == nil {
		return
	}
	s.dispatch(r, g)
	s.finish(w, r, collectionPath(r.PathValue("name")))
}

func (s *Server) handleCollectionDetailClose(w http.ResponseWriter, r *http.Request) {
	getWorkspace(r).Console.CloseDetail()
	s.finish(w, r, collectionPath(r.PathValue("name")))
}

// applyGridForm applies search, filter, page size and page fields present in
// the form. Page is applied last since the others reset it.
func (s *Server) applyGridForm(r *http.Request, g *grid.Grid) {
	ws := getWorkspace(r)
	form := r.PostForm
	warn := func(err error) {
		ws.Inbox.Notify(console.NewNotice(console.LevelWarning, "%s", strings.TrimPrefix(err.Error(), "grid: ")))
	}

	if form.Has("search") {
		if err := g.SetSearch(form.Get("search")); err != nil {
			warn(err)
		}
	}
	for key := range form {
		if col, ok := strings.CutPrefix(key, "filter."); ok {
			if err := g.SetFilter(col, form.Get(key)); err != nil {
				warn(err)
			}
		}
	}
	if form.Has("per_page") {
		n, err := strconv.Atoi(form.Get("per_page"))
		if err == nil {
			err = g.SetPerPage(n)
		}
		if err != nil {
			warn(err)
		}
	}
	if form.Has("page") {
		if n, err := strconv.Atoi(form.Get("page")); err == nil {
			g.SetPage(n)
		}
	}
}

func (s *Server) applySelect(r *http.Request, g *grid.Grid) {
	if err := g.SetSelected(r.PostFormValue("id"), r.PostFormValue("checked") == "1"); err != nil {
		s.logger.Debug("selection ignored", "grid", g.ID(), "error", err)
	}
}

func (s *Server) applySelectAll(r *http.Request, g *grid.Grid) {
	if err := g.ToggleAll(r.PostFormValue("checked") == "1"); err != nil {
		s.logger.Debug("select all ignored", "grid", g.ID(), "error", err)
	}
}

// dispatch fires the action named in the path with the operator's
// confirmation from the form.
func (s *Server) dispatch(r *http.Request, g *grid.Grid) {
	ws := getWorkspace(r)
	key := r.PathValue("key")
	ctx := console.WithConfirmed(r.Context(), r.PostFormValue("confirmed") == "1")
	err := g.Dispatch(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, grid.ErrActionDisabled):
		ws.Inbox.Notify(console.NewNotice(console.LevelWarning, "Select records for this action first"))
	case errors.Is(err, grid.ErrUnknownAction):
		ws.Inbox.Notify(console.NewNotice(console.LevelWarning, "Unknown action %q", key))
	default:
		s.logger.Debug("action finished with errors", "grid", g.ID(), "action", key, "error", err)
	}
}
