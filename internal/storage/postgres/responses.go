package postgres

import (
	"context"
	"fmt"

	"github.com/Nemu-x/botlab/internal/domain"
)

// InsertFlowResponse records one survey answer.
func (s *Store) InsertFlowResponse(ctx context.Context, r *domain.FlowResponse) error {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO flow_responses (client_id, flow_id, step_id, answer)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		r.ClientID, r.FlowID, r.StepID, r.Answer,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return mapError(fmt.Errorf("insert flow response: %w", err))
	}
	return nil
}

// ListFlowResponses returns a client's answers for a flow in the order they were given.
func (s *Store) ListFlowResponses(ctx context.Context, clientID, flowID int64) ([]domain.FlowResponse, error) {
	rows := []domain.FlowResponse{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, client_id, flow_id, step_id, answer, created_at
		 FROM flow_responses WHERE client_id = $1 AND flow_id = $2 ORDER BY id`,
		clientID, flowID)
	if err != nil {
		return nil, mapError(fmt.Errorf("list flow responses: %w", err))
	}
	return rows, nil
}
