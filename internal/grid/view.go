// ABOUTME: Render model for a grid and the embedded HTML table partial
// ABOUTME: Rendering is computed only from dataset, descriptors and state

package grid

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"slices"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var tableTmpl = template.Must(template.New("grid").ParseFS(templateFS, "templates/*.html"))

// EmptyText is shown when the current view has no rows.
const EmptyText = "No data to display"

// View is everything needed to draw one grid.
type View struct {
	ID             string
	Headers        []Header
	Rows           []Row
	Actions        []ActionView
	Filters        []FilterView
	ShowSearch     bool
	Search         string
	Page           int
	PerPage        int
	PerPageOptions []int
	TotalPages     int
	Total          int
	Pages          []int
	AllChecked     bool
	Indeterminate  bool
	Editing        string
	// Editable reports whether any column accepts inline edits.
	Editable bool
}

// Empty reports whether the current page has no rows.
func (v View) Empty() bool { return len(v.Rows) == 0 }

// ShowPagination reports whether more than one page exists.
func (v View) ShowPagination() bool { return v.TotalPages > 1 }

// HasPrev reports whether a previous page exists.
func (v View) HasPrev() bool { return v.Page > 1 }

// HasNext reports whether a next page exists.
func (v View) HasNext() bool { return v.Page < v.TotalPages }

// PrevPage is the page before the current one.
func (v View) PrevPage() int { return max(v.Page-1, 1) }

// NextPage is the page after the current one.
func (v View) NextPage() int { return min(v.Page+1, v.TotalPages) }

// ColumnSpan counts the table columns including selection and row controls.
func (v View) ColumnSpan() int { return len(v.Headers) + 2 }

// Header is one column heading.
type Header struct {
	Key   string
	Label string
}

// Row is one rendered record.
type Row struct {
	ID       string
	Selected bool
	Editing  bool
	Cells    []Cell
}

// Cell is one rendered value. Editable cells of the row being edited carry
// an input description instead of display HTML.
type Cell struct {
	Key  string
	HTML template.HTML
	// Text is the plain stringified value, for non-HTML surfaces.
	Text      string
	Input     string
	InputName string
	Value     string
	Checked   bool
}

// ActionView is one action button.
type ActionView struct {
	Key      string
	Label    string
	Multiple bool
	Enabled  bool
	Confirm  string
}

// FilterView is one column filter select.
type FilterView struct {
	Key      string
	Label    string
	Selected string
	Options  []string
}

// Render builds the view model for the current state.
func (g *Grid) Render() View {
	g.mu.Lock()
	defer g.mu.Unlock()

	page, total := g.view()
	checked, indeterminate := g.selectAllState()
	v := View{
		ID:             g.cfg.ID,
		ShowSearch:     !g.cfg.ExternalFiltering,
		Search:         g.state.Search,
		Page:           g.state.Page,
		PerPage:        g.state.PerPage,
		PerPageOptions: slices.Clone(g.cfg.PerPageOptions),
		TotalPages:     g.totalPages(total),
		Total:          total,
		AllChecked:     checked,
		Indeterminate:  indeterminate,
		Editing:        g.state.Editing,
	}
	for i := 1; i <= v.TotalPages; i++ {
		v.Pages = append(v.Pages, i)
	}
	for _, c := range g.cfg.Columns {
		v.Headers = append(v.Headers, Header{Key: c.Key, Label: c.Label})
		v.Editable = v.Editable || c.Editable
		if c.Filterable && !g.cfg.ExternalFiltering {
			v.Filters = append(v.Filters, FilterView{
				Key:      c.Key,
				Label:    c.Label,
				Selected: g.state.Filters[c.Key],
				Options:  g.distinct(c.Key),
			})
		}
	}
	for _, r := range page {
		v.Rows = append(v.Rows, g.row(r))
	}
	for _, a := range g.cfg.Actions {
		v.Actions = append(v.Actions, ActionView{
			Key:      a.Key,
			Label:    a.Label,
			Multiple: a.Multiple,
			Enabled:  g.enabled(a),
			Confirm:  a.Confirm,
		})
	}
	return v
}

func (g *Grid) row(r Record) Row {
	id := r.ID()
	row := Row{
		ID:       id,
		Selected: g.state.Selected[id],
		Editing:  id != "" && id == g.state.Editing,
	}
	for _, c := range g.cfg.Columns {
		cell := Cell{Key: c.Key, Text: FormatValue(r[c.Key])}
		if row.Editing && c.Editable {
			cell.InputName = EditInputName(c.Key)
			if b, ok := r[c.Key].(bool); ok {
				cell.Input = "checkbox"
				cell.Checked = b
			} else {
				cell.Input = "text"
				cell.Value = cell.Text
			}
		} else {
			cell.HTML = c.Cell(r)
		}
		row.Cells = append(row.Cells, cell)
	}
	return row
}

func (g *Grid) distinct(key string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range g.records {
		s := FormatValue(r[key])
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// EditInputName is the form field name used for an editable column.
func EditInputName(key string) string { return "edit." + key }

// ParseEditForm gathers edit inputs for the editable columns of original.
// Boolean fields follow checkbox rules: absent means false.
func ParseEditForm(columns []Column, original Record, form url.Values) Record {
	values := Record{}
	for _, c := range columns {
		if !c.Editable {
			continue
		}
		name := EditInputName(c.Key)
		if _, isBool := original[c.Key].(bool); isBool {
			v := form.Get(name)
			values[c.Key] = v == "on" || v == "true" || v == "1"
			continue
		}
		if form.Has(name) {
			values[c.Key] = form.Get(name)
		}
	}
	return values
}

// RenderOptions carries the surface details the HTML partial needs.
type RenderOptions struct {
	// BasePath prefixes the form actions of the partial.
	BasePath  string
	CSRFToken string
}

// RenderHTML writes the grid as an HTML table partial.
func (g *Grid) RenderHTML(w io.Writer, opts RenderOptions) error {
	data := struct {
		View
		BasePath  string
		CSRFToken string
		EmptyText string
	}{
		View:      g.Render(),
		BasePath:  strings.TrimRight(opts.BasePath, "/"),
		CSRFToken: opts.CSRFToken,
		EmptyText: EmptyText,
	}
	if err := tableTmpl.ExecuteTemplate(w, "table", data); err != nil {
		return fmt.Errorf("rendering grid %s: %w", g.cfg.ID, err)
	}
	return nil
}
