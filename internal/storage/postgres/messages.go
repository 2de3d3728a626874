package postgres

import (
	"context"
	"fmt"

	"github.com/Nemu-x/botlab/internal/domain"
)

const messageColumns = `id, client_id, content, is_from_bot, sender, flow_id, flow_step_id, telegram_message_id, is_read, created_at`

// InsertMessage appends m to the transcript and fills its id and created_at.
func (s *Store) InsertMessage(ctx context.Context, m *domain.Message) error {
	if m.Sender == "" {
		m.Sender = domain.SenderClient
		if m.IsFromBot {
			m.Sender = domain.SenderBot
		}
	}
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO messages (client_id, content, is_from_bot, sender, flow_id, flow_step_id, telegram_message_id, is_read)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		m.ClientID, m.Content, m.IsFromBot, m.Sender, m.FlowID, m.FlowStepID, m.TelegramMessageID, m.IsRead,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return mapError(fmt.Errorf("insert message for client %d: %w", m.ClientID, err))
	}
	return nil
}

// ListMessages returns up to limit messages of a client older than beforeID (0 = newest), newest first.
func (s *Store) ListMessages(ctx context.Context, clientID int64, beforeID int64, limit int) ([]domain.Message, error) {
	msgs := []domain.Message{}
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages
		 WHERE client_id = $1 AND ($2 = 0 OR id < $2)
		 ORDER BY id DESC LIMIT $3`,
		clientID, beforeID, limit)
	if err != nil {
		return nil, mapError(fmt.Errorf("list messages of client %d: %w", clientID, err))
	}
	return msgs, nil
}

// MarkRead flags every inbound message of the client as read and returns how many changed.
func (s *Store) MarkRead(ctx context.Context, clientID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE WHERE client_id = $1 AND NOT is_read AND NOT is_from_bot`, clientID)
	if err != nil {
		return 0, mapError(fmt.Errorf("mark read for client %d: %w", clientID, err))
	}
	return res.RowsAffected()
}
