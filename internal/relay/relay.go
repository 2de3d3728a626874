// Package relay is the single ingress for Telegram updates and the single egress
// for bot and operator messages. Every exchange lands on the client's transcript.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/core/telegram/callbacks"
	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/flow"
	"github.com/Nemu-x/botlab/internal/survey"
)

const component = "service.relay"

// ErrClientBlocked is returned when anything is sent to a blocked client.
var ErrClientBlocked = errors.New("relay: client is blocked")

// Store is the persistence the relay needs.
type Store interface {
	UpsertClient(ctx context.Context, p domain.Profile) (*domain.Client, error)
	GetClient(ctx context.Context, id int64) (*domain.Client, error)
	SetDialogOpen(ctx context.Context, clientID int64, open bool) error
	InsertMessage(ctx context.Context, m *domain.Message) error
	ActiveCommands(ctx context.Context) ([]domain.Command, error)
}

// Sender delivers a reply to a Telegram chat and returns the sent message id.
type Sender interface {
	Send(ctx context.Context, chatID int64, reply domain.Reply) (int, error)
}

// Publisher fans transcript events out to live operator sessions.
type Publisher interface {
	Publish(kind string, payload any)
}

// FlowRunner is the part of the flow engine the relay drives.
type FlowRunner interface {
	Start(ctx context.Context, client *domain.Client, flowID int64) error
	Advance(ctx context.Context, client *domain.Client, ans flow.Answer) (flow.Outcome, error)
	Reconcile(ctx context.Context, client *domain.Client) (bool, error)
	Active(ctx context.Context, clientID int64) (*survey.State, error)
}

// Event kinds published to operators.
const (
	EventMessage = "message.new"
	EventClient  = "client.updated"
)

// Texts are the canned replies of the relay.
type Texts struct {
	DialogClosed string
	Declined     string
	FailureToast string
	ExpiredToast string
}

// DefaultTexts returns the built-in canned replies.
func DefaultTexts() Texts {
	return Texts{
		DialogClosed: "The dialog is closed. An operator will contact you if needed.",
		Declined:     "No problem. You can start the survey later.",
		FailureToast: "Something went wrong, please try again.",
		ExpiredToast: "This survey is no longer active.",
	}
}

// Inbound is a text message from a client.
type Inbound struct {
	Profile   domain.Profile
	Text      string
	MessageID int
}

// Callback is an inline button press from a client.
type Callback struct {
	Profile   domain.Profile
	Data      string
	MessageID int
}

// Relay routes inbound updates and records every message.
type Relay struct {
	store     Store
	sender    Sender
	publisher Publisher
	flows     FlowRunner
	texts     Texts
	commands  atomic.Pointer[commandSet]
}

// New builds a relay. The flow runner is attached later with SetFlowRunner since the engine
// itself emits through the relay.
func New(store Store, sender Sender, publisher Publisher, texts Texts) *Relay {
	def := DefaultTexts()
	if texts.DialogClosed == "" {
		texts.DialogClosed = def.DialogClosed
	}
	if texts.Declined == "" {
		texts.Declined = def.Declined
	}
	if texts.FailureToast == "" {
		texts.FailureToast = def.FailureToast
	}
	if texts.ExpiredToast == "" {
		texts.ExpiredToast = def.ExpiredToast
	}
	r := &Relay{store: store, sender: sender, publisher: publisher, texts: texts}
	r.commands.Store(&commandSet{})
	return r
}

// SetFlowRunner attaches the flow engine.
func (r *Relay) SetFlowRunner(f FlowRunner) {
	r.flows = f
}

// ReloadCommands swaps in a fresh snapshot of the active commands.
func (r *Relay) ReloadCommands(ctx context.Context) error {
	cmds, err := r.store.ActiveCommands(ctx)
	if err != nil {
		return fmt.Errorf("load commands: %w", err)
	}
	set := buildCommandSet(ctx, cmds)
	r.commands.Store(set)
	logger.Info(ctx, component, "relay.commands.reloaded", slog.Int("count", set.len()))
	return nil
}

// HandleMessage processes an inbound text message. The order is fixed: upsert the client,
// record the message, then dialog-closed, active survey and finally command matching.
func (r *Relay) HandleMessage(ctx context.Context, in Inbound) error {
	client, err := r.store.UpsertClient(ctx, in.Profile)
	if err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}
	ctx = withClient(ctx, client)

	active := r.activeSurvey(ctx, client)
	var tags domain.FlowTags
	if active != nil {
		tags.FlowID = active.FlowID
		if step, ok := active.CurrentStep(); ok {
			tags.StepID = step.ID
		}
	}
	if _, err := r.RecordInbound(ctx, client, in.Text, in.MessageID, tags); err != nil {
		return err
	}

	if client.IsBlocked {
		logger.Debug(ctx, component, "relay.blocked", slog.Int64("client_id", client.ID))
		return nil
	}
	if !client.IsDialogOpen {
		r.say(ctx, client, r.texts.DialogClosed)
		return nil
	}

	if active != nil {
		out, err := r.flows.Advance(ctx, client, flow.Answer{
			Text:              in.Text,
			TelegramMessageID: in.MessageID,
			Recorded:          true,
		})
		if err != nil {
			return fmt.Errorf("advance survey: %w", err)
		}
		logger.Debug(ctx, component, "relay.survey", slog.String("status", string(out.Status)))
		if out.Status != flow.StatusNotActive {
			return nil
		}
		// The survey finished between the lookup and the advance; treat the text as free input.
	} else if client.CurrentFlowID != nil && r.flows != nil {
		if _, err := r.flows.Reconcile(ctx, client); err != nil {
			logger.Warn(ctx, component, "relay.reconcile_failed", slog.String("err", err.Error()))
		}
	}

	cmd, ok := r.commands.Load().match(in.Text)
	if !ok {
		logger.Debug(ctx, component, "relay.unmatched", slog.String("text", logger.Preview(in.Text)))
		return nil
	}
	logger.Info(ctx, component, "relay.command",
		slog.Int64("client_id", client.ID),
		slog.Int64("command_id", cmd.ID),
		slog.String("match_type", string(cmd.MatchType)),
	)
	if cmd.Response != "" {
		r.say(ctx, client, cmd.Response)
	}
	if cmd.FlowID != nil && r.flows != nil {
		if err := r.flows.Start(ctx, client, *cmd.FlowID); err != nil {
			logger.Warn(ctx, component, "relay.command.flow_failed",
				slog.Int64("flow_id", *cmd.FlowID),
				slog.String("err", err.Error()),
			)
		}
	}
	return nil
}

// Admit records a bot command such as /start and reports whether the client may be served.
// Blocked clients are recorded silently; a closed dialog gets the canned reply.
func (r *Relay) Admit(ctx context.Context, in Inbound) (*domain.Client, bool, error) {
	client, err := r.store.UpsertClient(ctx, in.Profile)
	if err != nil {
		return nil, false, fmt.Errorf("upsert client: %w", err)
	}
	ctx = withClient(ctx, client)
	if _, err := r.RecordInbound(ctx, client, in.Text, in.MessageID, domain.FlowTags{}); err != nil {
		return client, false, err
	}
	if client.IsBlocked {
		return client, false, nil
	}
	if !client.IsDialogOpen {
		r.say(ctx, client, r.texts.DialogClosed)
		return client, false, nil
	}
	return client, true, nil
}

// Say sends a plain bot reply and records it.
func (r *Relay) Say(ctx context.Context, client *domain.Client, text string) {
	r.say(ctx, client, text)
}

// HandleCallback processes an inline button press and returns the toast to show, if any.
func (r *Relay) HandleCallback(ctx context.Context, cb Callback) (string, error) {
	client, err := r.store.UpsertClient(ctx, cb.Profile)
	if err != nil {
		return r.texts.FailureToast, fmt.Errorf("upsert client: %w", err)
	}
	ctx = withClient(ctx, client)

	tok, decodeErr := callbacks.Decode(cb.Data)
	if _, err := r.RecordInbound(ctx, client, callbackContent(tok, cb.Data, decodeErr), cb.MessageID, r.callbackTags(ctx, client, tok)); err != nil {
		return r.texts.FailureToast, err
	}
	if decodeErr != nil {
		logger.Warn(ctx, component, "relay.callback.malformed",
			slog.String("data", logger.SanitizeLimit(cb.Data, 64)),
		)
		return r.texts.FailureToast, nil
	}
	if client.IsBlocked {
		return "", nil
	}
	if !client.IsDialogOpen {
		r.say(ctx, client, r.texts.DialogClosed)
		return "", nil
	}
	if r.flows == nil {
		return r.texts.FailureToast, nil
	}

	switch tok.Action {
	case callbacks.ActionFlowResponse:
		out, err := r.flows.Advance(ctx, client, flow.Answer{
			Text:              tok.Value,
			StepID:            tok.StepID,
			TelegramMessageID: cb.MessageID,
			Recorded:          true,
		})
		if err != nil {
			return r.texts.FailureToast, fmt.Errorf("advance survey: %w", err)
		}
		if out.Status == flow.StatusNotActive {
			return r.texts.ExpiredToast, nil
		}
		return "", nil

	case callbacks.ActionStartFlow:
		flowID, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			logger.Warn(ctx, component, "relay.callback.bad_flow_id", slog.String("value", tok.Value))
			return r.texts.FailureToast, nil
		}
		if err := r.flows.Start(ctx, client, flowID); err != nil {
			logger.Warn(ctx, component, "relay.callback.start_failed",
				slog.Int64("flow_id", flowID),
				slog.String("err", err.Error()),
			)
		}
		return "", nil

	case callbacks.ActionDeclineFlow:
		r.say(ctx, client, r.texts.Declined)
		return "", nil
	}

	logger.Warn(ctx, component, "relay.callback.unknown_action", slog.String("action", tok.Action))
	return r.texts.FailureToast, nil
}

// Emit sends a bot reply to the client and records it.
func (r *Relay) Emit(ctx context.Context, client *domain.Client, reply domain.Reply, tags domain.FlowTags) (*domain.Message, error) {
	return r.deliver(ctx, client, reply, domain.SenderBot, tags)
}

// SendOperatorMessage delivers an operator reply to a client.
func (r *Relay) SendOperatorMessage(ctx context.Context, clientID int64, text string) (*domain.Message, error) {
	client, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return r.deliver(ctx, client, domain.Reply{Text: text}, domain.SenderOperator, domain.FlowTags{})
}

// RecordInbound stores a client message.
func (r *Relay) RecordInbound(ctx context.Context, client *domain.Client, content string, telegramMessageID int, tags domain.FlowTags) (*domain.Message, error) {
	m := &domain.Message{ClientID: client.ID, Content: content, Sender: domain.SenderClient}
	if telegramMessageID != 0 {
		id := telegramMessageID
		m.TelegramMessageID = &id
	}
	tags.Apply(m)
	return m, r.record(ctx, m)
}

// RecordNote stores an internal note that is shown to operators only.
func (r *Relay) RecordNote(ctx context.Context, client *domain.Client, content string, tags domain.FlowTags) (*domain.Message, error) {
	m := &domain.Message{ClientID: client.ID, Content: content, IsFromBot: true, Sender: domain.SenderSystem, IsRead: true}
	tags.Apply(m)
	return m, r.record(ctx, m)
}

// SetDialogOpen opens or closes the client's dialog.
func (r *Relay) SetDialogOpen(ctx context.Context, clientID int64, open bool) (*domain.Client, error) {
	if err := r.store.SetDialogOpen(ctx, clientID, open); err != nil {
		return nil, err
	}
	client, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, component, "relay.dialog", slog.Int64("client_id", clientID), slog.Bool("open", open))
	r.publish(EventClient, client)
	return client, nil
}

func (r *Relay) deliver(ctx context.Context, client *domain.Client, reply domain.Reply, sender domain.SenderKind, tags domain.FlowTags) (*domain.Message, error) {
	if client.IsBlocked {
		return nil, ErrClientBlocked
	}
	msgID, err := r.sender.Send(ctx, client.Recipient(), reply)
	if err != nil {
		return nil, fmt.Errorf("send to client %d: %w", client.ID, err)
	}
	m := &domain.Message{ClientID: client.ID, Content: reply.Text, IsFromBot: true, Sender: sender, IsRead: true}
	if msgID != 0 {
		m.TelegramMessageID = &msgID
	}
	tags.Apply(m)
	return m, r.record(ctx, m)
}

func (r *Relay) record(ctx context.Context, m *domain.Message) error {
	if err := r.store.InsertMessage(ctx, m); err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	r.publish(EventMessage, m)
	return nil
}

func (r *Relay) say(ctx context.Context, client *domain.Client, text string) {
	if _, err := r.Emit(ctx, client, domain.Reply{Text: text}, domain.FlowTags{}); err != nil {
		logger.Warn(ctx, component, "relay.reply_failed", slog.String("err", err.Error()))
	}
}

func (r *Relay) activeSurvey(ctx context.Context, client *domain.Client) *survey.State {
	if r.flows == nil {
		return nil
	}
	st, err := r.flows.Active(ctx, client.ID)
	if err != nil {
		if !errors.Is(err, survey.ErrNoState) {
			logger.Warn(ctx, component, "relay.survey.lookup_failed", slog.String("err", err.Error()))
		}
		return nil
	}
	return st
}

// callbackContent is the transcript text of a button press: the answer for survey buttons,
// action and value for the others, the raw data when it does not decode.
func callbackContent(tok callbacks.Token, raw string, decodeErr error) string {
	switch {
	case decodeErr != nil:
		return logger.SanitizeLimit(raw, 64)
	case tok.Action == callbacks.ActionFlowResponse:
		return tok.Value
	default:
		return tok.Action + ":" + tok.Value
	}
}

// callbackTags attributes a survey answer to the step its button belongs to, falling back to
// the current step when the claimed one is not part of the active flow.
func (r *Relay) callbackTags(ctx context.Context, client *domain.Client, tok callbacks.Token) domain.FlowTags {
	if tok.Action != callbacks.ActionFlowResponse {
		return domain.FlowTags{}
	}
	active := r.activeSurvey(ctx, client)
	if active == nil {
		return domain.FlowTags{}
	}
	tags := domain.FlowTags{FlowID: active.FlowID}
	for _, step := range active.Flow.Steps {
		if step.ID == tok.StepID {
			tags.StepID = step.ID
			return tags
		}
	}
	if step, ok := active.CurrentStep(); ok {
		tags.StepID = step.ID
	}
	return tags
}

func (r *Relay) publish(kind string, payload any) {
	if r.publisher != nil {
		r.publisher.Publish(kind, payload)
	}
}

func withClient(ctx context.Context, c *domain.Client) context.Context {
	ctx = logger.WithClient(ctx, c.ID)
	if logger.UserIDFrom(ctx) != 0 {
		return ctx
	}
	return logger.WithUpdateMeta(ctx, logger.UpdateIDFrom(ctx), c.TelegramID, c.Recipient())
}
