// Package survey keeps the in-flight progress of clients through flows.
package survey

import (
	"context"
	"errors"
	"time"

	"github.com/Nemu-x/botlab/internal/domain"
)

// ErrNoState is returned by Store.Get when the client has no active survey.
var ErrNoState = errors.New("survey: no active state")

// State is a single client's progress through a flow.
type State struct {
	ClientID         int64             `json:"clientId"`
	FlowID           int64             `json:"flowId"`
	Flow             domain.Flow       `json:"flow"`
	CurrentStepIndex int               `json:"currentStepIndex"`
	Answers          map[string]string `json:"answers"`
	StartedAt        time.Time         `json:"startedAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// New creates the state for a freshly started flow. The flow steps must already be sorted.
func New(clientID int64, flow domain.Flow) *State {
	now := time.Now()
	return &State{
		ClientID:  clientID,
		FlowID:    flow.ID,
		Flow:      flow,
		Answers:   make(map[string]string),
		StartedAt: now,
		UpdatedAt: now,
	}
}

// CurrentStep returns the step the client was last shown.
func (s *State) CurrentStep() (*domain.Step, bool) {
	if s.CurrentStepIndex < 0 || s.CurrentStepIndex >= len(s.Flow.Steps) {
		return nil, false
	}
	return &s.Flow.Steps[s.CurrentStepIndex], true
}

// Record stores the raw answer for a step.
func (s *State) Record(stepID int64, answer string) {
	if s.Answers == nil {
		s.Answers = make(map[string]string)
	}
	s.Answers[domain.AnswerKey(stepID)] = answer
	s.UpdatedAt = time.Now()
}

// Clone returns a deep copy so callers never share mutable maps with a store.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Flow.Steps = append([]domain.Step(nil), s.Flow.Steps...)
	cp.Answers = make(map[string]string, len(s.Answers))
	for k, v := range s.Answers {
		cp.Answers[k] = v
	}
	return &cp
}

// Store persists survey states keyed by client id.
type Store interface {
	Get(ctx context.Context, clientID int64) (*State, error)
	Set(ctx context.Context, st *State) error
	Delete(ctx context.Context, clientID int64) error
}
