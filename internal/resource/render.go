// ABOUTME: Cell renderers and label tables shared by the resource bindings
// ABOUTME: Every renderer escapes record values before building markup

package resource

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/2389/pymemap-console/internal/grid"
)

// Label is the display text and tone of an enumerated value.
type Label struct {
	Text string
	Tone string
}

// Roles labels user roles.
var Roles = map[string]Label{
	"client":   {"Client", "info"},
	"business": {"Business", "purple"},
	"admin":    {"Admin", "warning"},
}

// Categories labels business categories.
var Categories = map[string]Label{
	"restaurant": {"Restaurant", "gray"},
	"salon":      {"Salon", "gray"},
	"gym":        {"Gym", "gray"},
	"clinic":     {"Clinic", "gray"},
	"other":      {"Other", "gray"},
}

// BookingStatuses labels booking statuses.
var BookingStatuses = map[string]Label{
	"pending":   {"Pending", "warning"},
	"confirmed": {"Confirmed", "info"},
	"completed": {"Completed", "success"},
	"cancelled": {"Cancelled", "gray"},
	"rejected":  {"Rejected", "danger"},
}

// ReportTypes labels report types.
var ReportTypes = map[string]Label{
	"service_issue":   {"Service issue", "danger"},
	"payment_issue":   {"Payment issue", "warning"},
	"behavior_issue":  {"Behavior issue", "purple"},
	"technical_issue": {"Technical issue", "info"},
	"other":           {"Other", "gray"},
}

// ReportStates labels report states.
var ReportStates = map[string]Label{
	"open":        {"Open", "danger"},
	"in_progress": {"In progress", "warning"},
	"resolved":    {"Resolved", "success"},
	"closed":      {"Closed", "gray"},
}

func esc(v any) string {
	return template.HTMLEscapeString(grid.FormatValue(v))
}

// Text renders the value or fallback when empty.
func Text(fallback string) grid.RenderFunc {
	return func(v any, _ grid.Record) template.HTML {
		if s := esc(v); s != "" {
			return template.HTML(s)
		}
		return template.HTML(template.HTMLEscapeString(fallback))
	}
}

// Ellipsis renders long identifiers shortened in the middle by CSS.
func Ellipsis(v any, _ grid.Record) template.HTML {
	s := esc(v)
	if s == "" {
		s = "N/A"
	}
	return template.HTML(`<span class="middle-ellipsis" title="` + s + `">` + s + `</span>`)
}

// Badge renders an enumerated value with its label.
func Badge(labels map[string]Label, fallback string) grid.RenderFunc {
	return func(v any, _ grid.Record) template.HTML {
		key := grid.FormatValue(v)
		l, ok := labels[key]
		if !ok {
			text := key
			if text == "" {
				text = fallback
			}
			l = Label{Text: text, Tone: "gray"}
		}
		return template.HTML(fmt.Sprintf(`<span class="badge badge-%s">%s</span>`,
			template.HTMLEscapeString(l.Tone), template.HTMLEscapeString(l.Text)))
	}
}

// YesNo renders booleans.
func YesNo(v any, _ grid.Record) template.HTML {
	if b, _ := v.(bool); b {
		return "Yes"
	}
	return "No"
}

// Link renders a URL as an external link.
func Link(text string) grid.RenderFunc {
	return func(v any, _ grid.Record) template.HTML {
		u := grid.FormatValue(v)
		if u == "" || !(strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
			return "N/A"
		}
		return template.HTML(fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener">%s</a>`,
			template.HTMLEscapeString(u), template.HTMLEscapeString(text)))
	}
}

// WithSubtitle renders the value in bold with another field underneath.
func WithSubtitle(subtitleKey, fallbackKey string, maxLen int) grid.RenderFunc {
	return func(v any, rec grid.Record) template.HTML {
		title := esc(v)
		if title == "" && fallbackKey != "" {
			title = esc(rec[fallbackKey])
		}
		if title == "" {
			title = "N/A"
		}
		out := "<strong>" + title + "</strong>"
		if sub := grid.FormatValue(rec[subtitleKey]); sub != "" {
			if maxLen > 0 && len([]rune(sub)) > maxLen {
				sub = string([]rune(sub)[:maxLen]) + "..."
			}
			out += `<br><small class="muted">` + template.HTMLEscapeString(sub) + "</small>"
		}
		return template.HTML(out)
	}
}

// Stars renders a 0-5 rating.
func Stars(v any, _ grid.Record) template.HTML {
	f, ok := toFloat64(v)
	if !ok || f == 0 {
		return grid.Placeholder
	}
	n := max(min(int(f), 5), 0)
	return template.HTML(fmt.Sprintf(`<span title="%.1f stars">%s %.1f</span>`, f, strings.Repeat("★", n), f))
}

// Rating renders an average with one decimal.
func Rating(v any, _ grid.Record) template.HTML {
	f, ok := toFloat64(v)
	if !ok || f == 0 {
		return "No rating"
	}
	return template.HTML(fmt.Sprintf("%.1f", f))
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses the date formats the backend emits.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders a backend date as "Jan 2, 2006"; unparseable values are
// shown as they are.
func FormatDate(s string) string {
	if s == "" {
		return "N/A"
	}
	if t, ok := ParseDate(s); ok {
		return t.Format("Jan 2, 2006")
	}
	return s
}

// Date renders a date field.
func Date(v any, _ grid.Record) template.HTML {
	return template.HTML(template.HTMLEscapeString(FormatDate(grid.FormatValue(v))))
}

// DateWithTime renders a date with another field holding the time underneath.
func DateWithTime(timeKey string) grid.RenderFunc {
	return func(v any, rec grid.Record) template.HTML {
		t := grid.FormatValue(rec[timeKey])
		if t == "" {
			t = "N/A"
		}
		return template.HTML(template.HTMLEscapeString(FormatDate(grid.FormatValue(v))) + "<br>" + template.HTMLEscapeString(t))
	}
}

// Muted renders a value with a muted fallback when empty.
func Muted(fallback string) grid.RenderFunc {
	return func(v any, _ grid.Record) template.HTML {
		if s := esc(v); s != "" {
			return template.HTML(`<div class="clip">` + s + `</div>`)
		}
		return template.HTML(`<span class="muted">` + template.HTMLEscapeString(fallback) + `</span>`)
	}
}
