package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/core/telegram/callbacks"
	"github.com/Nemu-x/botlab/internal/domain"
)

const buttonsPerRow = 2

// render builds the outbound payload for a step shown at position (1-based) out of total.
// Layout depends only on the step kind and button style.
func (e *Engine) render(ctx context.Context, step *domain.Step, position, total int) domain.Reply {
	text := step.Question
	if step.Config.CounterEnabled() && e.opts.CounterFormat != "" {
		text = fmt.Sprintf(e.opts.CounterFormat, position, total) + "\n\n" + text
	}
	reply := domain.Reply{Text: text}

	kind := step.Kind()
	if _, known := domain.ParseStepKind(step.ResponseType); !known {
		logger.Warn(ctx, component, "flow.render.unknown_kind",
			slog.Int64("step_id", step.ID),
			slog.String("response_type", step.ResponseType),
		)
	}

	switch kind {
	case domain.KindText:
		return reply

	case domain.KindFinal:
		if !step.IsFinal {
			logger.Warn(ctx, component, "flow.render.final_not_terminal",
				slog.Int64("step_id", step.ID),
				slog.Int64("flow_id", step.FlowID),
			)
		}
		return reply

	case domain.KindNextStep:
		reply.Inline = [][]domain.Button{{e.choiceButton(ctx, step, e.opts.NextLabel, e.opts.NextLabel)}}
		return reply

	case domain.KindKeyboard:
		reply.Keyboard = labelRows(step.Options)
		reply.OneTimeKeyboard = true
		return reply
	}

	if len(step.Options) == 0 {
		logger.Warn(ctx, component, "flow.render.no_options",
			slog.Int64("step_id", step.ID),
			slog.String("kind", string(kind)),
		)
		return reply
	}

	if step.Config.Style() == domain.StyleKeyboard {
		if kind == domain.KindURL {
			logger.Warn(ctx, component, "flow.render.url_keyboard",
				slog.Int64("step_id", step.ID),
			)
		}
		reply.Keyboard = labelRows(step.Options)
		reply.OneTimeKeyboard = true
		return reply
	}

	rows := groupRows(step.Options)
	reply.Inline = make([][]domain.Button, 0, len(rows))
	for _, row := range rows {
		buttons := make([]domain.Button, 0, len(row))
		for _, opt := range row {
			if kind == domain.KindURL {
				buttons = append(buttons, domain.Button{Text: opt.Label(), URL: opt.Link()})
				continue
			}
			buttons = append(buttons, e.choiceButton(ctx, step, opt.Label(), opt.AnswerValue()))
		}
		reply.Inline = append(reply.Inline, buttons)
	}
	return reply
}

func (e *Engine) choiceButton(ctx context.Context, step *domain.Step, label, value string) domain.Button {
	data, truncated, err := callbacks.Encode(callbacks.Token{
		Action: callbacks.ActionFlowResponse,
		StepID: step.ID,
		Value:  value,
	})
	if err != nil {
		logger.Error(ctx, component, "flow.render.token_failed",
			slog.Int64("step_id", step.ID),
			slog.String("err", err.Error()),
		)
		return domain.Button{Text: label}
	}
	if truncated {
		logger.Warn(ctx, component, "flow.render.value_truncated",
			slog.Int64("step_id", step.ID),
			slog.String("value", logger.SanitizeLimit(value, 64)),
		)
	}
	return domain.Button{Text: label, Data: data}
}

// groupRows lays options out two per row, or by their explicit row numbers when any is set.
func groupRows(opts []domain.Option) [][]domain.Option {
	explicit := false
	for _, o := range opts {
		if o.Row > 0 {
			explicit = true
			break
		}
	}
	if !explicit {
		var rows [][]domain.Option
		for i := 0; i < len(opts); i += buttonsPerRow {
			end := i + buttonsPerRow
			if end > len(opts) {
				end = len(opts)
			}
			rows = append(rows, opts[i:end])
		}
		return rows
	}

	byRow := make(map[int][]domain.Option)
	var keys []int
	for _, o := range opts {
		if _, seen := byRow[o.Row]; !seen {
			keys = append(keys, o.Row)
		}
		byRow[o.Row] = append(byRow[o.Row], o)
	}
	sort.Ints(keys)
	rows := make([][]domain.Option, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, byRow[k])
	}
	return rows
}

func labelRows(opts []domain.Option) [][]string {
	rows := groupRows(opts)
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		labels := make([]string, 0, len(row))
		for _, o := range row {
			labels = append(labels, o.Label())
		}
		out = append(out, labels)
	}
	return out
}
