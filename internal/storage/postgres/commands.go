package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Nemu-x/botlab/internal/domain"
)

const commandColumns = `id, trigger, match_type, response, flow_id, priority, is_active`

// ListCommands returns all commands by descending priority.
func (s *Store) ListCommands(ctx context.Context) ([]domain.Command, error) {
	cmds := []domain.Command{}
	err := s.db.SelectContext(ctx, &cmds, `SELECT `+commandColumns+` FROM commands ORDER BY priority DESC, id`)
	if err != nil {
		return nil, mapError(fmt.Errorf("list commands: %w", err))
	}
	return cmds, nil
}

// ActiveCommands returns the commands used for matching.
func (s *Store) ActiveCommands(ctx context.Context) ([]domain.Command, error) {
	cmds := []domain.Command{}
	err := s.db.SelectContext(ctx, &cmds,
		`SELECT `+commandColumns+` FROM commands WHERE is_active ORDER BY priority DESC, id`)
	if err != nil {
		return nil, mapError(fmt.Errorf("list active commands: %w", err))
	}
	return cmds, nil
}

// GetCommand returns a command by id.
func (s *Store) GetCommand(ctx context.Context, id int64) (*domain.Command, error) {
	var c domain.Command
	if err := s.db.GetContext(ctx, &c, `SELECT `+commandColumns+` FROM commands WHERE id = $1`, id); err != nil {
		return nil, mapError(fmt.Errorf("get command %d: %w", id, err))
	}
	return &c, nil
}

// CreateCommand inserts c.
func (s *Store) CreateCommand(ctx context.Context, c *domain.Command) error {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO commands (trigger, match_type, response, flow_id, priority, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		c.Trigger, c.MatchType, c.Response, c.FlowID, c.Priority, c.IsActive,
	).Scan(&c.ID)
	if err != nil {
		return mapError(fmt.Errorf("insert command: %w", err))
	}
	return nil
}

// UpdateCommand saves c.
func (s *Store) UpdateCommand(ctx context.Context, c *domain.Command) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE commands SET trigger = $2, match_type = $3, response = $4, flow_id = $5, priority = $6, is_active = $7
		 WHERE id = $1`,
		c.ID, c.Trigger, c.MatchType, c.Response, c.FlowID, c.Priority, c.IsActive,
	)
	if err != nil {
		return mapError(fmt.Errorf("update command %d: %w", c.ID, err))
	}
	return expectRow(res, "command", c.ID)
}

// DeleteCommand removes a command.
func (s *Store) DeleteCommand(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE id = $1`, id)
	if err != nil {
		return mapError(fmt.Errorf("delete command %d: %w", id, err))
	}
	return expectRow(res, "command", id)
}

// SeedCommands inserts the given commands, skipping triggers that already exist.
// It returns the number of rows inserted.
func (s *Store) SeedCommands(ctx context.Context, cmds []domain.Command) (int, error) {
	inserted := 0
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, c := range cmds {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO commands (trigger, match_type, response, priority, is_active)
				 VALUES ($1, $2, $3, $4, TRUE)
				 ON CONFLICT (trigger, match_type) DO NOTHING`,
				c.Trigger, c.MatchType, c.Response, c.Priority)
			if err != nil {
				return mapError(fmt.Errorf("seed command %q: %w", c.Trigger, err))
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}
