package domain

import "time"

// SenderKind tells who authored a transcript entry.
type SenderKind string

const (
	SenderClient   SenderKind = "client"
	SenderBot      SenderKind = "bot"
	SenderOperator SenderKind = "operator"
	// SenderSystem marks internal notes that are never delivered to Telegram.
	SenderSystem SenderKind = "system"
)

// Message is an append-only transcript entry.
type Message struct {
	ID                int64      `db:"id" json:"id"`
	ClientID          int64      `db:"client_id" json:"clientId"`
	Content           string     `db:"content" json:"content"`
	IsFromBot         bool       `db:"is_from_bot" json:"isFromBot"`
	Sender            SenderKind `db:"sender" json:"sender"`
	FlowID            *int64     `db:"flow_id" json:"flowId,omitempty"`
	FlowStepID        *int64     `db:"flow_step_id" json:"flowStepId,omitempty"`
	TelegramMessageID *int       `db:"telegram_message_id" json:"telegramMessageId,omitempty"`
	IsRead            bool       `db:"is_read" json:"isRead"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
}

// FlowTags links a transcript entry to a flow step.
type FlowTags struct {
	FlowID int64
	StepID int64
}

// Apply copies non-zero tags into m.
func (t FlowTags) Apply(m *Message) {
	if t.FlowID != 0 {
		id := t.FlowID
		m.FlowID = &id
	}
	if t.StepID != 0 {
		id := t.StepID
		m.FlowStepID = &id
	}
}

// FlowResponse is one recorded answer of a survey run.
type FlowResponse struct {
	ID        int64     `db:"id" json:"id"`
	ClientID  int64     `db:"client_id" json:"clientId"`
	FlowID    int64     `db:"flow_id" json:"flowId"`
	StepID    int64     `db:"step_id" json:"stepId"`
	Answer    string    `db:"answer" json:"answer"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
