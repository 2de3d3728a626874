package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/internal/domain"
)

// Reason explains how the next step was chosen.
type Reason string

const (
	ReasonCondition  Reason = "condition"
	ReasonPointer    Reason = "pointer"
	ReasonSequential Reason = "sequential"
	ReasonFinal      Reason = "final"
	ReasonExhausted  Reason = "exhausted"
)

type resolution struct {
	index  int
	reason Reason
}

func (r resolution) completes() bool {
	return r.reason == ReasonFinal || r.reason == ReasonExhausted
}

// resolveNext picks the successor of current for the given answer, in priority order:
// conditional branch, explicit pointer, terminal flag, sequential order.
func (e *Engine) resolveNext(ctx context.Context, f *domain.Flow, current *domain.Step, answer string) (resolution, error) {
	if idx, ok := e.matchCondition(ctx, f, current, answer); ok {
		return resolution{index: idx, reason: ReasonCondition}, nil
	}

	if current.NextStepID != nil {
		if idx, ok := f.StepIndex(*current.NextStepID); ok {
			return resolution{index: idx, reason: ReasonPointer}, nil
		}
		logger.Warn(ctx, component, "flow.next_step.dangling",
			slog.Int64("flow_id", f.ID),
			slog.Int64("step_id", current.ID),
			slog.Int64("next_step_id", *current.NextStepID),
		)
		if e.opts.StrictReferences {
			return resolution{}, fmt.Errorf("%w: step %d points to %d", ErrDanglingStep, current.ID, *current.NextStepID)
		}
	}

	if current.Terminates() {
		return resolution{index: -1, reason: ReasonFinal}, nil
	}

	pos, ok := f.StepIndex(current.ID)
	if ok && pos+1 < len(f.Steps) {
		return resolution{index: pos + 1, reason: ReasonSequential}, nil
	}
	return resolution{index: -1, reason: ReasonExhausted}, nil
}

// matchCondition scans every step of the flow for a condition keyed on current and
// returns the first step whose answer predicates accept the answer.
func (e *Engine) matchCondition(ctx context.Context, f *domain.Flow, current *domain.Step, answer string) (int, bool) {
	for i := range f.Steps {
		candidate := &f.Steps[i]
		for _, cond := range candidate.Conditions {
			if cond.PrevStepID != current.ID {
				continue
			}
			for _, am := range cond.Answers {
				ok, err := e.patterns.Match(am, answer)
				if err != nil {
					logger.Warn(ctx, component, "flow.condition.invalid",
						slog.Int64("flow_id", f.ID),
						slog.Int64("step_id", candidate.ID),
						slog.String("operator", string(am.Operator)),
						slog.String("err", err.Error()),
					)
					continue
				}
				if ok {
					return i, true
				}
			}
		}
	}
	return -1, false
}
