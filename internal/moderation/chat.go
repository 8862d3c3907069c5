// ABOUTME: Operator chats with report authors
// ABOUTME: Finds or creates chats, resolves participant names and renders messages

package moderation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/2389/pymemap-console/internal/api"
	"github.com/2389/pymemap-console/internal/console"
	"github.com/2389/pymemap-console/internal/grid"
)

// ErrNoReporter is returned when a report has no author to chat with.
var ErrNoReporter = errors.New("this report has no author to contact")

// Raw HTML in messages is omitted since WithUnsafe is not set.
var markdown = goldmark.New(goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()))

// OpenChat is the chat currently shown to the operator.
type OpenChat struct {
	ID    string
	Title string
}

// ChatSummary is one entry in the operator's chat list.
type ChatSummary struct {
	ID      string
	Name    string
	Preview string
}

// MessageView is a chat message ready for display.
type MessageView struct {
	ID   string
	Sent bool
	// Text is the message as written, HTML its rendering.
	Text string
	HTML template.HTML
	At   string
}

func (d *Desk) currentUser(ctx context.Context) (*api.Profile, error) {
	me, err := d.opts.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching current user: %w", err)
	}
	if me == nil || me.ID == "" {
		return nil, errors.New("current user has no id")
	}
	return me, nil
}

// OpenChatForReport opens the chat between the operator and the report's
// author, creating it when none exists.
func (d *Desk) OpenChatForReport(ctx context.Context, reportID string) (*api.Chat, error) {
	report, ok := d.Report(reportID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReport, reportID)
	}
	author := grid.FormatValue(report["reportedBy"])
	if author == "" {
		d.notify(console.LevelWarning, "%s", ErrNoReporter.Error())
		return nil, ErrNoReporter
	}
	me, err := d.currentUser(ctx)
	if err != nil {
		d.fail("Could not open the chat", err)
		return nil, err
	}

	chat, err := d.backend.ChatByParticipants(ctx, me.ID, author)
	if errors.Is(err, api.ErrUnauthorized) {
		return nil, err
	}
	if err != nil || chat == nil || chat.ID == "" {
		if err != nil {
			d.logger.Debug("no existing chat, creating one", "report", reportID, "error", err)
		}
		chat, err = d.backend.CreateChat(ctx, []string{me.ID, author})
		if err != nil {
			d.fail("Could not open the chat", err)
			return nil, fmt.Errorf("creating chat: %w", err)
		}
		d.logger.Info("chat created", "chat", chat.ID, "report", reportID)
	}

	name := grid.FormatValue(report["reportedByName"])
	if name == "" {
		name = "User"
	}
	d.mu.Lock()
	d.chat = &OpenChat{ID: chat.ID, Title: "Chat with " + name}
	d.mu.Unlock()
	return chat, nil
}

// Chats lists the operator's chats with the other participant's name.
func (d *Desk) Chats(ctx context.Context) ([]ChatSummary, error) {
	me, err := d.currentUser(ctx)
	if err != nil {
		d.fail("Could not load chats", err)
		return nil, err
	}
	chats, err := d.backend.ChatsByUser(ctx, me.ID)
	if err != nil {
		d.fail("Could not load chats", err)
		return nil, fmt.Errorf("listing chats: %w", err)
	}

	names := d.userNames(ctx)
	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		preview := "No messages"
		if c.LastMessage != nil && c.LastMessage.Content != "" {
			preview = c.LastMessage.Content
		}
		out = append(out, ChatSummary{ID: c.ID, Name: chatName(c, me.ID, names), Preview: preview})
	}
	return out, nil
}

func (d *Desk) userNames(ctx context.Context) map[string]string {
	names := map[string]string{}
	if d.opts.CachedUsers == nil {
		return names
	}
	users, err := d.opts.CachedUsers(ctx)
	if err != nil {
		return names
	}
	for _, u := range users {
		if name := grid.FormatValue(u["name"]); name != "" {
			names[u.ID()] = name
		}
	}
	return names
}

// chatName picks the cached user name, then the name sent by the backend,
// then the participant id.
func chatName(c api.Chat, me string, names map[string]string) string {
	var other string
	for _, p := range c.Participants {
		if p != me {
			other = p
			break
		}
	}
	for _, candidate := range []string{names[other], c.OtherUserName, c.OtherUserNameAlt, other} {
		if candidate != "" {
			return candidate
		}
	}
	return "User"
}

// OpenChat makes chatID the current chat.
func (d *Desk) OpenChat(chatID, title string) {
	if title == "" {
		title = "Chat"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chat = &OpenChat{ID: chatID, Title: title}
}

// CloseChat clears the current chat.
func (d *Desk) CloseChat() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chat = nil
}

// CurrentChat returns the open chat, or nil.
func (d *Desk) CurrentChat() *OpenChat {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.chat == nil {
		return nil
	}
	c := *d.chat
	return &c
}

// Messages returns a chat's messages rendered from markdown.
func (d *Desk) Messages(ctx context.Context, chatID string) ([]MessageView, error) {
	me, err := d.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := d.backend.Messages(ctx, chatID)
	if err != nil {
		d.fail("Could not load messages", err)
		return nil, fmt.Errorf("listing messages for %s: %w", chatID, err)
	}
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageView{
			ID:   m.ID,
			Sent: m.SenderID == me.ID,
			Text: m.Content,
			HTML: RenderMarkdown(m.Content),
			At:   m.Timestamp,
		})
	}
	return out, nil
}

// Send posts text to chatID as the operator.
func (d *Desk) Send(ctx context.Context, chatID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		d.notify(console.LevelWarning, "%s", ErrEmptyMessage.Error())
		return ErrEmptyMessage
	}
	me, err := d.currentUser(ctx)
	if err != nil {
		return err
	}
	_, err = d.backend.SendMessage(ctx, api.Message{
		ChatID:    chatID,
		SenderID:  me.ID,
		Content:   text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		d.fail("Could not send the message", err)
		return fmt.Errorf("sending message to %s: %w", chatID, err)
	}
	d.notify(console.LevelSuccess, "Message sent")
	return nil
}

// RenderMarkdown converts message text to HTML. Raw HTML in the source is dropped.
func RenderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}
