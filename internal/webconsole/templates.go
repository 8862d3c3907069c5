// ABOUTME: Template loading and page data for the console UI
// ABOUTME: Pages are parsed once from the embedded filesystem and rendered with notices

package webconsole

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"slices"

	"github.com/2389/pymemap-console/internal/assets"
	"github.com/2389/pymemap-console/internal/console"
	"github.com/2389/pymemap-console/internal/grid"
	"github.com/2389/pymemap-console/internal/moderation"
	"github.com/2389/pymemap-console/internal/resource"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"login", "collection", "reports", "chats"}

var funcs = template.FuncMap{"asset": assets.Path}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

// Template data types
type navItem struct {
	Label  string
	Href   string
	Active bool
}

type layout struct {
	Title     string
	Nav       []navItem
	Notices   []console.Notice
	CSRFToken string
	SignedIn  bool
	// Path is where dismiss forms return to.
	Path string
}

type loginData struct {
	layout
	Error     string
	Email     string
	CSRFToken string
}

type field struct {
	Key   string
	Value string
}

type collectionData struct {
	layout
	Resource     string
	Metrics      []resource.Metric
	FilterFields []grid.Column
	FilterField  string
	FilterValue  string
	Filtering    bool
	Detail       []field
	Stale        bool
	Grid         template.HTML
}

type reportsData struct {
	layout
	Summary moderation.Summary
	Detail  []field
	// DetailID is the id of the report shown in Detail.
	DetailID string
	States   []stateOption
	Grid     template.HTML
}

type stateOption struct {
	Value    string
	Label    string
	Selected bool
}

type chatsData struct {
	layout
	Chats    []moderation.ChatSummary
	Open     *moderation.OpenChat
	Messages []moderation.MessageView
}

func (s *Server) render(w http.ResponseWriter, status int, page string, data any) {
	var buf bytes.Buffer
	if err := s.pages[page].ExecuteTemplate(&buf, "base", data); err != nil {
		s.logger.Error("failed to render page", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderLogin(w http.ResponseWriter, status int, data loginData) {
	data.layout = layout{Title: "Sign in", CSRFToken: data.CSRFToken}
	s.render(w, status, "login", data)
}

// layoutFor builds the shared page frame. Pending notices are shown once,
// except sticky ones which stay until dismissed.
func (s *Server) layoutFor(r *http.Request, title, active string) layout {
	ws := getWorkspace(r)
	notices := ws.Inbox.Pending()
	var shown []string
	for _, n := range notices {
		if !n.Sticky() {
			shown = append(shown, n.ID)
		}
	}
	ws.Inbox.Dismiss(shown...)

	l := layout{
		Title:     title,
		Notices:   notices,
		CSRFToken: getCSRFToken(r),
		SignedIn:  true,
		Path:      r.URL.Path,
	}
	for _, b := range ws.Console.Registry().Bindings() {
		href := "/collections/" + b.Name()
		l.Nav = append(l.Nav, navItem{Label: b.Title(), Href: href, Active: active == href})
	}
	l.Nav = append(l.Nav,
		navItem{Label: "Reports", Href: "/reports", Active: active == "/reports"},
		navItem{Label: "Chats", Href: "/chats", Active: active == "/chats"},
	)
	return l
}

// gridHTML renders a grid partial for embedding in a page.
func (s *Server) gridHTML(g *grid.Grid, basePath, csrfToken string) template.HTML {
	if g == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := g.RenderHTML(&buf, grid.RenderOptions{BasePath: basePath, CSRFToken: csrfToken}); err != nil {
		s.logger.Error("failed to render grid", "grid", g.ID(), "error", err)
		return template.HTML(`<p class="error">` + template.HTMLEscapeString(grid.EmptyText) + `</p>`)
	}
	return template.HTML(buf.String())
}

// detailFields lists a record's fields in key order.
func detailFields(rec grid.Record) []field {
	if rec == nil {
		return nil
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]field, 0, len(keys))
	for _, k := range keys {
		out = append(out, field{Key: k, Value: grid.FormatValue(rec[k])})
	}
	return out
}
