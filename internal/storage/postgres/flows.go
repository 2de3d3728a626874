package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/storage"
)

const flowColumns = `id, name, description, is_active, is_default, created_at, updated_at`

// ListFlows returns all flows without steps.
func (s *Store) ListFlows(ctx context.Context) ([]domain.Flow, error) {
	flows := []domain.Flow{}
	if err := s.db.SelectContext(ctx, &flows, `SELECT `+flowColumns+` FROM flows ORDER BY id`); err != nil {
		return nil, mapError(fmt.Errorf("list flows: %w", err))
	}
	return flows, nil
}

// GetFlow returns a flow without steps.
func (s *Store) GetFlow(ctx context.Context, id int64) (*domain.Flow, error) {
	var f domain.Flow
	if err := s.db.GetContext(ctx, &f, `SELECT `+flowColumns+` FROM flows WHERE id = $1`, id); err != nil {
		return nil, mapError(fmt.Errorf("get flow %d: %w", id, err))
	}
	return &f, nil
}

// FlowWithSteps returns a flow with its steps sorted by order_index.
func (s *Store) FlowWithSteps(ctx context.Context, id int64) (*domain.Flow, error) {
	f, err := s.GetFlow(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	f.Steps = steps
	return f, nil
}

// DefaultFlow returns the active default flow with its steps.
func (s *Store) DefaultFlow(ctx context.Context) (*domain.Flow, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		`SELECT id FROM flows WHERE is_default AND is_active ORDER BY updated_at DESC LIMIT 1`)
	if err != nil {
		return nil, mapError(fmt.Errorf("default flow: %w", err))
	}
	return s.FlowWithSteps(ctx, id)
}

// CreateFlow inserts f. Marking it default clears the flag on every other flow.
func (s *Store) CreateFlow(ctx context.Context, f *domain.Flow) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if f.IsDefault {
			if err := clearDefault(ctx, tx, 0); err != nil {
				return err
			}
		}
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO flows (name, description, is_active, is_default)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at, updated_at`,
			f.Name, f.Description, f.IsActive, f.IsDefault,
		).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			return mapError(fmt.Errorf("insert flow: %w", err))
		}
		return nil
	})
}

// UpdateFlow saves the mutable fields of f.
func (s *Store) UpdateFlow(ctx context.Context, f *domain.Flow) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if f.IsDefault {
			if err := clearDefault(ctx, tx, f.ID); err != nil {
				return err
			}
		}
		err := tx.QueryRowxContext(ctx,
			`UPDATE flows SET name = $2, description = $3, is_active = $4, is_default = $5, updated_at = NOW()
			 WHERE id = $1
			 RETURNING created_at, updated_at`,
			f.ID, f.Name, f.Description, f.IsActive, f.IsDefault,
		).Scan(&f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			return mapError(fmt.Errorf("update flow %d: %w", f.ID, err))
		}
		return nil
	})
}

// DeleteFlow removes a flow and, by cascade, its steps.
func (s *Store) DeleteFlow(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return mapError(fmt.Errorf("delete flow %d: %w", id, err))
	}
	return expectRow(res, "flow", id)
}

func clearDefault(ctx context.Context, tx *sqlx.Tx, keep int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE flows SET is_default = FALSE WHERE is_default AND id <> $1`, keep); err != nil {
		return fmt.Errorf("clear default flow: %w", err)
	}
	return nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func expectRow(res rowsAffected, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", storage.ErrNotFound, kind, id)
	}
	return nil
}
