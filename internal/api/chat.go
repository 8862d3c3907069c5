// ABOUTME: Chat endpoints consumed by the reports workflow
// ABOUTME: Chats between two participants and their messages

package api

import (
	"context"
	"net/http"
	"net/url"
)

// Chat is a conversation between participants.
type Chat struct {
	ID            string   `json:"_id"`
	Participants  []string `json:"participants"`
	LastMessage   *Message `json:"last_message,omitempty"`
	OtherUserName string   `json:"other_user_name,omitempty"`
	// Some backend versions use camelCase for the name.
	OtherUserNameAlt string `json:"otherUserName,omitempty"`
}

// Message is one chat message.
type Message struct {
	ID        string `json:"_id,omitempty"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ChatsByUser lists the chats a user participates in.
func (c *Client) ChatsByUser(ctx context.Context, userID string) ([]Chat, error) {
	var out []Chat
	q := url.Values{"user_id": {userID}}
	if err := c.do(ctx, http.MethodGet, "/chat/", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChatByParticipants finds the chat between two users. A chat with an empty
// ID means none exists.
func (c *Client) ChatByParticipants(ctx context.Context, user1, user2 string) (*Chat, error) {
	var out Chat
	q := url.Values{"user1_id": {user1}, "user2_id": {user2}}
	if err := c.do(ctx, http.MethodGet, "/chat/participants", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateChat opens a chat between participants.
func (c *Client) CreateChat(ctx context.Context, participants []string) (*Chat, error) {
	var out Chat
	body := map[string]any{"participants": participants}
	if err := c.do(ctx, http.MethodPost, "/chat/", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages lists the messages of a chat.
func (c *Client) Messages(ctx context.Context, chatID string) ([]Message, error) {
	var out []Message
	q := url.Values{"chat_id": {chatID}}
	if err := c.do(ctx, http.MethodGet, "/chat/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a message to a chat.
func (c *Client) SendMessage(ctx context.Context, msg Message) (*Message, error) {
	var out Message
	if err := c.do(ctx, http.MethodPost, "/chat/message/", nil, msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
