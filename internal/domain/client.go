package domain

import (
	"strings"
	"time"
)

// Client is a Telegram user talking to the bot.
type Client struct {
	ID            int64     `db:"id" json:"id"`
	TelegramID    int64     `db:"telegram_id" json:"telegramId"`
	ChatID        int64     `db:"chat_id" json:"chatId"`
	Username      string    `db:"username" json:"username"`
	FirstName     string    `db:"first_name" json:"firstName"`
	LastName      string    `db:"last_name" json:"lastName"`
	Language      string    `db:"language" json:"language"`
	CurrentFlowID *int64    `db:"current_flow_id" json:"currentFlowId,omitempty"`
	IsDialogOpen  bool      `db:"is_dialog_open" json:"isDialogOpen"`
	IsBlocked     bool      `db:"is_blocked" json:"isBlocked"`
	LastSeenAt    time.Time `db:"last_seen_at" json:"lastSeenAt"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// DisplayName returns the best human-readable name for the client.
func (c *Client) DisplayName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name != "" {
		return name
	}
	if c.Username != "" {
		return "@" + c.Username
	}
	return ""
}

// Recipient returns the chat to send messages to; private chats share the user id.
func (c *Client) Recipient() int64 {
	if c.ChatID != 0 {
		return c.ChatID
	}
	return c.TelegramID
}

// Profile is the Telegram-provided identity refreshed on every inbound update.
type Profile struct {
	TelegramID int64
	ChatID     int64
	Username   string
	FirstName  string
	LastName   string
	Language   string
}
