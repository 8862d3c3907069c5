// ABOUTME: Reports page handlers: list, bulk state changes, responses and chat handoff
// ABOUTME: Uses the moderation desk of the operator's workspace

package webconsole

import (
	"net/http"
	"net/url"

	"github.com/2389/pymemap-console/internal/api"
	"github.com/2389/pymemap-console/internal/grid"
	"github.com/2389/pymemap-console/internal/moderation"
	"github.com/2389/pymemap-console/internal/resource"
)

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	if !ws.Desk.Loaded() {
		if err := ws.Desk.Load(r.Context()); err != nil && s.expired(w, r) {
			return
		}
	}

	detail := ws.Desk.Detail()
	data := reportsData{
		layout:  s.layoutFor(r, "Reports", "/reports"),
		Summary: ws.Desk.Summary(),
		Detail:  detailFields(detail),
		Grid:    s.gridHTML(ws.Desk.Grid(), "/reports", getCSRFToken(r)),
	}
	if detail != nil {
		data.DetailID = detail.ID()
		data.States = stateOptions(grid.FormatValue(detail["state"]))
	}
	s.render(w, http.StatusOK, "reports", data)
}

func stateOptions(current string) []stateOption {
	out := make([]stateOption, 0, len(api.ReportStates))
	for _, st := range api.ReportStates {
		label := st
		if l, ok := resource.ReportStates[st]; ok {
			label = l.Text
		}
		out = append(out, stateOption{Value: st, Label: label, Selected: st == current})
	}
	return out
}

func (s *Server) handleReportsGrid(w http.ResponseWriter, r *http.Request) {
	s.applyGridForm(r, getWorkspace(r).Desk.Grid())
	s.finish(w, r, "/reports")
}

func (s *Server) handleReportsSelect(w http.ResponseWriter, r *http.Request) {
	s.applySelect(r, getWorkspace(r).Desk.Grid())
	s.finish(w, r, "/reports")
}

func (s *Server) handleReportsSelectAll(w http.ResponseWriter, r *http.Request) {
	s.applySelectAll(r, getWorkspace(r).Desk.Grid())
	s.finish(w, r, "/reports")
}

// handleReportsAction dispatches a report action. Opening a chat moves the
// operator to the chat page.
func (s *Server) handleReportsAction(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	openingChat := r.PathValue("key") == moderation.ActionChat
	if openingChat {
		ws.Desk.CloseChat()
	}
	s.dispatch(r, ws.Desk.Grid())
	if chat := ws.Desk.CurrentChat(); openingChat && chat != nil {
		s.finish(w, r, "/chats/"+url.PathEscape(chat.ID))
		return
	}
	s.finish(w, r, "/reports")
}

func (s *Server) handleReportsDetailClose(w http.ResponseWriter, r *http.Request) {
	getWorkspace(r).Desk.CloseDetail()
	s.finish(w, r, "/reports")
}

func (s *Server) handleReportState(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	if err := ws.Desk.ChangeState(r.Context(), r.PathValue("id"), r.PostFormValue("state")); err != nil {
		s.logger.Debug("state change failed", "report", r.PathValue("id"), "error", err)
	}
	s.finish(w, r, "/reports")
}

func (s *Server) handleReportResponse(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	if err := ws.Desk.Respond(r.Context(), r.PathValue("id"), r.PostFormValue("response")); err != nil {
		s.logger.Debug("response failed", "report", r.PathValue("id"), "error", err)
	}
	s.finish(w, r, "/reports")
}
