package postgres

import (
	"context"
	"fmt"

	"github.com/Nemu-x/botlab/internal/domain"
)

const clientColumns = `id, telegram_id, chat_id, username, first_name, last_name, language,
	current_flow_id, is_dialog_open, is_blocked, last_seen_at, created_at`

// UpsertClient creates the client on first contact or refreshes its profile and last_seen_at.
func (s *Store) UpsertClient(ctx context.Context, p domain.Profile) (*domain.Client, error) {
	var c domain.Client
	err := s.db.GetContext(ctx, &c,
		`INSERT INTO clients (telegram_id, chat_id, username, first_name, last_name, language)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (telegram_id) DO UPDATE SET
		     chat_id = CASE WHEN EXCLUDED.chat_id <> 0 THEN EXCLUDED.chat_id ELSE clients.chat_id END,
		     username = EXCLUDED.username,
		     first_name = EXCLUDED.first_name,
		     last_name = EXCLUDED.last_name,
		     language = CASE WHEN EXCLUDED.language <> '' THEN EXCLUDED.language ELSE clients.language END,
		     last_seen_at = NOW()
		 RETURNING `+clientColumns,
		p.TelegramID, p.ChatID, p.Username, p.FirstName, p.LastName, p.Language,
	)
	if err != nil {
		return nil, mapError(fmt.Errorf("upsert client %d: %w", p.TelegramID, err))
	}
	return &c, nil
}

// GetClient returns a client by id.
func (s *Store) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	var c domain.Client
	if err := s.db.GetContext(ctx, &c, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id); err != nil {
		return nil, mapError(fmt.Errorf("get client %d: %w", id, err))
	}
	return &c, nil
}

// GetClientByTelegramID returns a client by Telegram user id.
func (s *Store) GetClientByTelegramID(ctx context.Context, telegramID int64) (*domain.Client, error) {
	var c domain.Client
	if err := s.db.GetContext(ctx, &c, `SELECT `+clientColumns+` FROM clients WHERE telegram_id = $1`, telegramID); err != nil {
		return nil, mapError(fmt.Errorf("get client by telegram id %d: %w", telegramID, err))
	}
	return &c, nil
}

// ListClients returns clients, most recently seen first.
func (s *Store) ListClients(ctx context.Context, limit, offset int) ([]domain.Client, error) {
	clients := []domain.Client{}
	err := s.db.SelectContext(ctx, &clients,
		`SELECT `+clientColumns+` FROM clients ORDER BY last_seen_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, mapError(fmt.Errorf("list clients: %w", err))
	}
	return clients, nil
}

// SetCurrentFlow stores the flow the client is running; nil clears it.
func (s *Store) SetCurrentFlow(ctx context.Context, clientID int64, flowID *int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET current_flow_id = $2 WHERE id = $1`, clientID, flowID)
	if err != nil {
		return mapError(fmt.Errorf("set current flow of client %d: %w", clientID, err))
	}
	return expectRow(res, "client", clientID)
}

// SetDialogOpen toggles whether the client may talk to the bot.
func (s *Store) SetDialogOpen(ctx context.Context, clientID int64, open bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET is_dialog_open = $2 WHERE id = $1`, clientID, open)
	if err != nil {
		return mapError(fmt.Errorf("set dialog of client %d: %w", clientID, err))
	}
	return expectRow(res, "client", clientID)
}

// SetBlocked toggles whether the client is ignored.
func (s *Store) SetBlocked(ctx context.Context, clientID int64, blocked bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET is_blocked = $2 WHERE id = $1`, clientID, blocked)
	if err != nil {
		return mapError(fmt.Errorf("set blocked of client %d: %w", clientID, err))
	}
	return expectRow(res, "client", clientID)
}
