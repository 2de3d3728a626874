package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/storage"
)

const stepColumns = `id, flow_id, order_index, question, response_type, options, next_step_id, is_final, conditions, config`

// ListSteps returns the steps of a flow ordered by order_index.
func (s *Store) ListSteps(ctx context.Context, flowID int64) ([]domain.Step, error) {
	steps := []domain.Step{}
	err := s.db.SelectContext(ctx, &steps,
		`SELECT `+stepColumns+` FROM steps WHERE flow_id = $1 ORDER BY order_index, id`, flowID)
	if err != nil {
		return nil, mapError(fmt.Errorf("list steps of flow %d: %w", flowID, err))
	}
	return steps, nil
}

// GetStep returns one step of a flow.
func (s *Store) GetStep(ctx context.Context, flowID, stepID int64) (*domain.Step, error) {
	var st domain.Step
	err := s.db.GetContext(ctx, &st,
		`SELECT `+stepColumns+` FROM steps WHERE flow_id = $1 AND id = $2`, flowID, stepID)
	if err != nil {
		return nil, mapError(fmt.Errorf("get step %d: %w", stepID, err))
	}
	return &st, nil
}

// CreateStep inserts st at its requested position, shifting later steps down.
// An order_index outside 1..n+1 appends the step.
func (s *Store) CreateStep(ctx context.Context, st *domain.Step) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		ids, err := lockFlowSteps(ctx, tx, st.FlowID)
		if err != nil {
			return err
		}
		if err := validateReferences(st, ids); err != nil {
			return err
		}
		st.OrderIndex = clampOrder(st.OrderIndex, len(ids)+1)
		if _, err := tx.ExecContext(ctx,
			`UPDATE steps SET order_index = order_index + 1 WHERE flow_id = $1 AND order_index >= $2`,
			st.FlowID, st.OrderIndex); err != nil {
			return fmt.Errorf("shift steps: %w", err)
		}
		err = tx.QueryRowxContext(ctx,
			`INSERT INTO steps (flow_id, order_index, question, response_type, options, next_step_id, is_final, conditions, config)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id`,
			st.FlowID, st.OrderIndex, st.Question, st.ResponseType, st.Options, st.NextStepID, st.IsFinal, st.Conditions, st.Config,
		).Scan(&st.ID)
		if err != nil {
			return mapError(fmt.Errorf("insert step: %w", err))
		}
		return touchFlow(ctx, tx, st.FlowID)
	})
}

// UpdateStep saves st, moving it when its order_index changed.
func (s *Store) UpdateStep(ctx context.Context, st *domain.Step) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		ids, err := lockFlowSteps(ctx, tx, st.FlowID)
		if err != nil {
			return err
		}
		if _, ok := ids[st.ID]; !ok {
			return fmt.Errorf("%w: step %d in flow %d", storage.ErrNotFound, st.ID, st.FlowID)
		}
		if err := validateReferences(st, ids); err != nil {
			return err
		}

		var current int
		if err := tx.GetContext(ctx, &current, `SELECT order_index FROM steps WHERE id = $1`, st.ID); err != nil {
			return mapError(fmt.Errorf("load step %d: %w", st.ID, err))
		}
		st.OrderIndex = clampOrder(st.OrderIndex, len(ids))
		if err := moveStep(ctx, tx, st.FlowID, current, st.OrderIndex); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE steps SET order_index = $2, question = $3, response_type = $4, options = $5,
			        next_step_id = $6, is_final = $7, conditions = $8, config = $9
			 WHERE id = $1`,
			st.ID, st.OrderIndex, st.Question, st.ResponseType, st.Options, st.NextStepID, st.IsFinal, st.Conditions, st.Config,
		)
		if err != nil {
			return mapError(fmt.Errorf("update step %d: %w", st.ID, err))
		}
		return touchFlow(ctx, tx, st.FlowID)
	})
}

// DeleteStep removes a step and closes the gap in order_index.
func (s *Store) DeleteStep(ctx context.Context, flowID, stepID int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := lockFlowSteps(ctx, tx, flowID); err != nil {
			return err
		}
		var removed int
		err := tx.GetContext(ctx, &removed,
			`DELETE FROM steps WHERE flow_id = $1 AND id = $2 RETURNING order_index`, flowID, stepID)
		if err != nil {
			return mapError(fmt.Errorf("delete step %d: %w", stepID, err))
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE steps SET order_index = order_index - 1 WHERE flow_id = $1 AND order_index > $2`,
			flowID, removed); err != nil {
			return fmt.Errorf("compact steps: %w", err)
		}
		return touchFlow(ctx, tx, flowID)
	})
}

// ReorderSteps assigns order_index 1..n following ids, which must list every step of the flow once.
func (s *Store) ReorderSteps(ctx context.Context, flowID int64, ids []int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := lockFlowSteps(ctx, tx, flowID)
		if err != nil {
			return err
		}
		if err := samePermutation(existing, ids); err != nil {
			return err
		}
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE steps SET order_index = $2 WHERE id = $1`, id, i+1); err != nil {
				return fmt.Errorf("reorder step %d: %w", id, err)
			}
		}
		return touchFlow(ctx, tx, flowID)
	})
}

// lockFlowSteps locks the flow row and returns the ids of its steps.
func lockFlowSteps(ctx context.Context, tx *sqlx.Tx, flowID int64) (map[int64]struct{}, error) {
	var locked int64
	if err := tx.GetContext(ctx, &locked, `SELECT id FROM flows WHERE id = $1 FOR UPDATE`, flowID); err != nil {
		return nil, mapError(fmt.Errorf("lock flow %d: %w", flowID, err))
	}
	var ids []int64
	if err := tx.SelectContext(ctx, &ids, `SELECT id FROM steps WHERE flow_id = $1`, flowID); err != nil {
		return nil, fmt.Errorf("list step ids: %w", err)
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func moveStep(ctx context.Context, tx *sqlx.Tx, flowID int64, from, to int) error {
	var err error
	switch {
	case to < from:
		_, err = tx.ExecContext(ctx,
			`UPDATE steps SET order_index = order_index + 1 WHERE flow_id = $1 AND order_index >= $2 AND order_index < $3`,
			flowID, to, from)
	case to > from:
		_, err = tx.ExecContext(ctx,
			`UPDATE steps SET order_index = order_index - 1 WHERE flow_id = $1 AND order_index > $2 AND order_index <= $3`,
			flowID, from, to)
	}
	if err != nil {
		return fmt.Errorf("move step: %w", err)
	}
	return nil
}

func touchFlow(ctx context.Context, tx *sqlx.Tx, flowID int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE flows SET updated_at = NOW() WHERE id = $1`, flowID); err != nil {
		return fmt.Errorf("touch flow %d: %w", flowID, err)
	}
	return nil
}

// clampOrder keeps a 1-based position inside 1..max; anything else lands at max.
func clampOrder(requested, max int) int {
	if requested < 1 || requested > max {
		return max
	}
	return requested
}

// validateReferences checks that the step only points at steps of its own flow.
func validateReferences(st *domain.Step, ids map[int64]struct{}) error {
	if st.NextStepID != nil {
		if _, ok := ids[*st.NextStepID]; !ok {
			return fmt.Errorf("%w: next_step_id %d is not in flow %d", storage.ErrInvalidReference, *st.NextStepID, st.FlowID)
		}
		if *st.NextStepID == st.ID {
			return fmt.Errorf("%w: step %d points to itself", storage.ErrInvalidReference, st.ID)
		}
	}
	for _, c := range st.Conditions {
		if _, ok := ids[c.PrevStepID]; !ok {
			return fmt.Errorf("%w: condition prevStepId %d is not in flow %d", storage.ErrInvalidReference, c.PrevStepID, st.FlowID)
		}
	}
	return nil
}

func samePermutation(existing map[int64]struct{}, ids []int64) error {
	if len(ids) != len(existing) {
		return fmt.Errorf("%w: expected %d step ids, got %d", storage.ErrInvalidReference, len(existing), len(ids))
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			return fmt.Errorf("%w: step %d is not in the flow", storage.ErrInvalidReference, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: step %d listed twice", storage.ErrInvalidReference, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
