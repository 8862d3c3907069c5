// ABOUTME: Chat page handlers: chat list, conversation view and sending
// ABOUTME: Message bodies arrive as markdown and are rendered by the desk

package webconsole

import (
	"net/http"
	"net/url"

	"github.com/2389/pymemap-console/internal/moderation"
)

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	var msgs []moderation.MessageView
	if open := ws.Desk.CurrentChat(); open != nil {
		var err error
		if msgs, err = ws.Desk.Messages(r.Context(), open.ID); err != nil && s.expired(w, r) {
			return
		}
	}
	s.renderChats(w, r, msgs)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	id := r.PathValue("id")
	if open := ws.Desk.CurrentChat(); open == nil || open.ID != id {
		title := ""
		if name := r.URL.Query().Get("name"); name != "" {
			title = "Chat with " + name
		}
		ws.Desk.OpenChat(id, title)
	}

	msgs, err := ws.Desk.Messages(r.Context(), id)
	if err != nil && s.expired(w, r) {
		return
	}
	s.renderChats(w, r, msgs)
}

func (s *Server) renderChats(w http.ResponseWriter, r *http.Request, msgs []moderation.MessageView) {
	ws := getWorkspace(r)
	chats, err := ws.Desk.Chats(r.Context())
	if err != nil && s.expired(w, r) {
		return
	}
	s.render(w, http.StatusOK, "chats", chatsData{
		layout:   s.layoutFor(r, "Chats", "/chats"),
		Chats:    chats,
		Open:     ws.Desk.CurrentChat(),
		Messages: msgs,
	})
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	id := r.PathValue("id")
	if err := ws.Desk.Send(r.Context(), id, r.PostFormValue("message")); err != nil {
		s.logger.Debug("send failed", "chat", id, "error", err)
	}
	s.finish(w, r, "/chats/"+url.PathEscape(id))
}

func (s *Server) handleChatClose(w http.ResponseWriter, r *http.Request) {
	getWorkspace(r).Desk.CloseChat()
	s.finish(w, r, "/chats")
}
