// Package flow runs scripted surveys: it walks a flow's step graph for each client,
// resolves branches from answers and renders every step for the transport.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/storage"
	"github.com/Nemu-x/botlab/internal/survey"
)

const component = "service.flow"

var (
	ErrFlowNotFound = errors.New("flow: not found")
	ErrFlowInactive = errors.New("flow: inactive")
	ErrEmptyFlow    = errors.New("flow: has no steps")
	ErrDanglingStep = errors.New("flow: next step reference is dangling")
)

// FlowSource loads a flow together with its steps.
type FlowSource interface {
	FlowWithSteps(ctx context.Context, flowID int64) (*domain.Flow, error)
}

// ClientStore persists the client's current flow pointer.
type ClientStore interface {
	SetCurrentFlow(ctx context.Context, clientID int64, flowID *int64) error
}

// ResponseStore records every answer given inside a flow.
type ResponseStore interface {
	InsertFlowResponse(ctx context.Context, r *domain.FlowResponse) error
}

// Transcript sends replies to clients and appends to their message log.
type Transcript interface {
	Emit(ctx context.Context, client *domain.Client, reply domain.Reply, tags domain.FlowTags) (*domain.Message, error)
	RecordInbound(ctx context.Context, client *domain.Client, content string, telegramMessageID int, tags domain.FlowTags) (*domain.Message, error)
	RecordNote(ctx context.Context, client *domain.Client, content string, tags domain.FlowTags) (*domain.Message, error)
}

// Options tunes engine behaviour and the texts it sends.
type Options struct {
	// StrictReferences fails an advance on a dangling next_step_id instead of falling back.
	StrictReferences bool
	CompletionText   string
	ApologyText      string
	CancelText       string
	CounterFormat    string
	NextLabel        string
	SummaryTimeout   time.Duration
}

// DefaultOptions returns the texts used when configuration leaves them empty.
func DefaultOptions() Options {
	return Options{
		CompletionText: "Thank you! Your answers have been recorded.",
		ApologyText:    "Sorry, this survey is not available right now.",
		CancelText:     "The survey has been cancelled.",
		CounterFormat:  "Step %d of %d",
		NextLabel:      "Next",
		SummaryTimeout: 20 * time.Second,
	}
}

// Deps are the collaborators of an Engine. Summarizer is optional.
type Deps struct {
	Flows      FlowSource
	Clients    ClientStore
	Responses  ResponseStore
	Transcript Transcript
	States     survey.Store
	Locker     *survey.Locker
	Summarizer Summarizer
}

// Status is the result kind of Advance.
type Status string

const (
	StatusNotActive Status = "not_active"
	StatusAdvanced  Status = "advanced"
	StatusCompleted Status = "completed"
)

// Outcome describes what Advance did.
type Outcome struct {
	Status Status
	// StepID is the step now shown to the client; zero unless Status is StatusAdvanced.
	StepID int64
	Reason Reason
}

// Answer is one response from a client.
type Answer struct {
	Text string
	// StepID is the step the answer claims to belong to; zero means the current step.
	StepID            int64
	TelegramMessageID int
	// Recorded is set when the caller already persisted the inbound message.
	Recorded bool
}

// Engine executes flows. All state mutations for one client are serialised.
type Engine struct {
	flows      FlowSource
	clients    ClientStore
	responses  ResponseStore
	transcript Transcript
	states     survey.Store
	locks      *survey.Locker
	summarizer Summarizer
	opts       Options
	patterns   *patternCache
}

// NewEngine builds an engine. Empty option texts fall back to DefaultOptions.
func NewEngine(deps Deps, opts Options) *Engine {
	def := DefaultOptions()
	if opts.CompletionText == "" {
		opts.CompletionText = def.CompletionText
	}
	if opts.ApologyText == "" {
		opts.ApologyText = def.ApologyText
	}
	if opts.CancelText == "" {
		opts.CancelText = def.CancelText
	}
	if opts.CounterFormat == "" {
		opts.CounterFormat = def.CounterFormat
	}
	if opts.NextLabel == "" {
		opts.NextLabel = def.NextLabel
	}
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = def.SummaryTimeout
	}
	if deps.States == nil {
		deps.States = survey.NewMemoryStore()
	}
	if deps.Locker == nil {
		deps.Locker = survey.NewLocker()
	}
	return &Engine{
		flows:      deps.Flows,
		clients:    deps.Clients,
		responses:  deps.Responses,
		transcript: deps.Transcript,
		states:     deps.States,
		locks:      deps.Locker,
		summarizer: deps.Summarizer,
		opts:       opts,
		patterns:   newPatternCache(),
	}
}

// Start loads the flow by id and starts it for the client.
func (e *Engine) Start(ctx context.Context, client *domain.Client, flowID int64) error {
	f, err := e.flows.FlowWithSteps(ctx, flowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn(ctx, component, "flow.start.not_found", slog.Int64("flow_id", flowID))
			e.apologize(ctx, client)
			return fmt.Errorf("%w: %d", ErrFlowNotFound, flowID)
		}
		return fmt.Errorf("load flow %d: %w", flowID, err)
	}
	return e.StartFlow(ctx, client, f)
}

// StartFlow starts f for the client at its first step, replacing any survey in progress.
func (e *Engine) StartFlow(ctx context.Context, client *domain.Client, f *domain.Flow) error {
	if f == nil {
		return ErrFlowNotFound
	}
	unlock := e.locks.Lock(client.ID)
	defer unlock()

	if !f.IsActive {
		logger.Warn(ctx, component, "flow.start.inactive", slog.Int64("flow_id", f.ID))
		e.apologize(ctx, client)
		return fmt.Errorf("%w: %d", ErrFlowInactive, f.ID)
	}

	run := *f
	run.Steps = append([]domain.Step(nil), f.Steps...)
	run.SortSteps()
	if len(run.Steps) == 0 {
		logger.Warn(ctx, component, "flow.start.empty", slog.Int64("flow_id", f.ID))
		e.apologize(ctx, client)
		return fmt.Errorf("%w: %d", ErrEmptyFlow, f.ID)
	}

	if prev, err := e.states.Get(ctx, client.ID); err == nil {
		logger.Info(ctx, component, "flow.start.replaced",
			slog.Int64("client_id", client.ID),
			slog.Int64("prev_flow_id", prev.FlowID),
			slog.Int64("flow_id", run.ID),
		)
	}

	flowID := run.ID
	if err := e.clients.SetCurrentFlow(ctx, client.ID, &flowID); err != nil {
		return fmt.Errorf("set current flow: %w", err)
	}
	client.CurrentFlowID = &flowID

	st := survey.New(client.ID, run)
	if err := e.states.Set(ctx, st); err != nil {
		if rerr := e.clients.SetCurrentFlow(ctx, client.ID, nil); rerr != nil {
			logger.Error(ctx, component, "flow.start.rollback_failed", slog.String("err", rerr.Error()))
		}
		client.CurrentFlowID = nil
		return fmt.Errorf("save survey state: %w", err)
	}

	logger.Info(ctx, component, "flow.start",
		slog.Int64("client_id", client.ID),
		slog.Int64("flow_id", run.ID),
		slog.Int("steps", len(run.Steps)),
	)
	e.sendStep(ctx, client, st)
	return nil
}

// Advance applies an answer to the client's active survey.
func (e *Engine) Advance(ctx context.Context, client *domain.Client, ans Answer) (Outcome, error) {
	unlock := e.locks.Lock(client.ID)
	out, finished, err := e.advanceLocked(ctx, client, ans)
	unlock()

	if finished != nil {
		e.summarize(ctx, client, finished)
	}
	return out, err
}

func (e *Engine) advanceLocked(ctx context.Context, client *domain.Client, ans Answer) (Outcome, *survey.State, error) {
	st, err := e.states.Get(ctx, client.ID)
	if errors.Is(err, survey.ErrNoState) {
		return Outcome{Status: StatusNotActive}, nil, nil
	}
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("load survey state: %w", err)
	}

	shown, hasShown := st.CurrentStep()
	current := shown
	if ans.StepID != 0 {
		claimed, ok := st.Flow.StepByID(ans.StepID)
		switch {
		case !ok:
			logger.Warn(ctx, component, "flow.advance.unknown_step",
				slog.Int64("client_id", client.ID),
				slog.Int64("step_id", ans.StepID),
			)
		case hasShown && claimed.ID != shown.ID:
			logger.Warn(ctx, component, "flow.advance.step_mismatch",
				slog.Int64("client_id", client.ID),
				slog.Int64("claimed_step_id", claimed.ID),
				slog.Int64("current_step_id", shown.ID),
			)
			current = claimed
		default:
			current = claimed
		}
	}
	if current == nil {
		return Outcome{}, nil, fmt.Errorf("survey for client %d has no current step", client.ID)
	}

	st.Record(current.ID, ans.Text)
	tags := domain.FlowTags{FlowID: st.FlowID, StepID: current.ID}
	if !ans.Recorded && e.transcript != nil {
		if _, err := e.transcript.RecordInbound(ctx, client, ans.Text, ans.TelegramMessageID, tags); err != nil {
			logger.Error(ctx, component, "flow.answer.record_failed", slog.String("err", err.Error()))
		}
	}
	if e.responses != nil {
		resp := &domain.FlowResponse{ClientID: client.ID, FlowID: st.FlowID, StepID: current.ID, Answer: ans.Text}
		if err := e.responses.InsertFlowResponse(ctx, resp); err != nil {
			logger.Error(ctx, component, "flow.answer.response_failed", slog.String("err", err.Error()))
		}
	}

	res, err := e.resolveNext(ctx, &st.Flow, current, ans.Text)
	if err != nil {
		if serr := e.states.Set(ctx, st); serr != nil {
			logger.Error(ctx, component, "flow.state.save_failed", slog.String("err", serr.Error()))
		}
		return Outcome{}, nil, err
	}

	if res.completes() {
		if err := e.complete(ctx, client, st); err != nil {
			return Outcome{}, nil, err
		}
		logger.Info(ctx, component, "flow.complete",
			slog.Int64("client_id", client.ID),
			slog.Int64("flow_id", st.FlowID),
			slog.String("reason", string(res.reason)),
			slog.Int("answers", len(st.Answers)),
		)
		return Outcome{Status: StatusCompleted, Reason: res.reason}, st, nil
	}

	st.CurrentStepIndex = res.index
	if err := e.states.Set(ctx, st); err != nil {
		return Outcome{}, nil, fmt.Errorf("save survey state: %w", err)
	}
	next := &st.Flow.Steps[res.index]
	logger.Debug(ctx, component, "flow.advance",
		slog.Int64("client_id", client.ID),
		slog.Int64("from_step_id", current.ID),
		slog.Int64("to_step_id", next.ID),
		slog.String("reason", string(res.reason)),
	)
	e.sendStep(ctx, client, st)
	return Outcome{Status: StatusAdvanced, StepID: next.ID, Reason: res.reason}, nil, nil
}

func (e *Engine) complete(ctx context.Context, client *domain.Client, st *survey.State) error {
	if err := e.states.Delete(ctx, client.ID); err != nil {
		return fmt.Errorf("delete survey state: %w", err)
	}
	if err := e.clients.SetCurrentFlow(ctx, client.ID, nil); err != nil {
		logger.Error(ctx, component, "flow.complete.clear_failed", slog.String("err", err.Error()))
	}
	client.CurrentFlowID = nil
	e.emit(ctx, client, domain.Reply{Text: e.opts.CompletionText, RemoveKeyboard: true}, domain.FlowTags{FlowID: st.FlowID})
	return nil
}

// Cancel drops the client's survey. It reports whether anything was cancelled.
func (e *Engine) Cancel(ctx context.Context, client *domain.Client) (bool, error) {
	unlock := e.locks.Lock(client.ID)
	defer unlock()

	st, err := e.states.Get(ctx, client.ID)
	if err != nil && !errors.Is(err, survey.ErrNoState) {
		return false, fmt.Errorf("load survey state: %w", err)
	}
	if st == nil && client.CurrentFlowID == nil {
		return false, nil
	}
	if st != nil {
		if err := e.states.Delete(ctx, client.ID); err != nil {
			return false, fmt.Errorf("delete survey state: %w", err)
		}
	}
	if err := e.clients.SetCurrentFlow(ctx, client.ID, nil); err != nil {
		return false, fmt.Errorf("clear current flow: %w", err)
	}
	client.CurrentFlowID = nil

	var tags domain.FlowTags
	if st != nil {
		tags.FlowID = st.FlowID
	}
	logger.Info(ctx, component, "flow.cancel",
		slog.Int64("client_id", client.ID),
		slog.Int64("flow_id", tags.FlowID),
	)
	e.emit(ctx, client, domain.Reply{Text: e.opts.CancelText, RemoveKeyboard: true}, tags)
	return true, nil
}

// Reconcile clears a current_flow_id left behind without survey state, e.g. after a restart.
// It reports whether the client record was reset.
func (e *Engine) Reconcile(ctx context.Context, client *domain.Client) (bool, error) {
	if client.CurrentFlowID == nil {
		return false, nil
	}
	unlock := e.locks.Lock(client.ID)
	defer unlock()

	_, err := e.states.Get(ctx, client.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, survey.ErrNoState) {
		return false, fmt.Errorf("load survey state: %w", err)
	}
	logger.Warn(ctx, component, "flow.reconcile.orphaned",
		slog.Int64("client_id", client.ID),
		slog.Int64("flow_id", *client.CurrentFlowID),
	)
	if err := e.clients.SetCurrentFlow(ctx, client.ID, nil); err != nil {
		return false, fmt.Errorf("clear current flow: %w", err)
	}
	client.CurrentFlowID = nil
	return true, nil
}

// Active returns a copy of the client's survey state, or survey.ErrNoState.
func (e *Engine) Active(ctx context.Context, clientID int64) (*survey.State, error) {
	return e.states.Get(ctx, clientID)
}

func (e *Engine) sendStep(ctx context.Context, client *domain.Client, st *survey.State) {
	step, ok := st.CurrentStep()
	if !ok {
		return
	}
	reply := e.render(ctx, step, st.CurrentStepIndex+1, len(st.Flow.Steps))
	e.emit(ctx, client, reply, domain.FlowTags{FlowID: st.FlowID, StepID: step.ID})
}

// emit sends a reply and keeps going on failure; state already applied is not rolled back.
func (e *Engine) emit(ctx context.Context, client *domain.Client, reply domain.Reply, tags domain.FlowTags) {
	if e.transcript == nil || reply.Text == "" {
		return
	}
	if _, err := e.transcript.Emit(ctx, client, reply, tags); err != nil {
		logger.Error(ctx, component, "flow.send_failed",
			slog.Int64("client_id", client.ID),
			slog.Int64("flow_id", tags.FlowID),
			slog.Int64("step_id", tags.StepID),
			slog.String("err", err.Error()),
		)
	}
}

func (e *Engine) apologize(ctx context.Context, client *domain.Client) {
	e.emit(ctx, client, domain.Reply{Text: e.opts.ApologyText}, domain.FlowTags{})
}
