// Package invite offers a flow to a client out of band, without starting it.
package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/core/telegram/callbacks"
	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/storage"
)

const component = "service.invite"

var (
	ErrClientNotFound = errors.New("invite: client not found")
	ErrFlowNotFound   = errors.New("invite: flow not found")
	ErrEmptyFlow      = errors.New("invite: flow has no steps")
	ErrNoTarget       = errors.New("invite: client id or telegram id required")
)

// Store resolves clients and flows.
type Store interface {
	GetClient(ctx context.Context, id int64) (*domain.Client, error)
	GetClientByTelegramID(ctx context.Context, telegramID int64) (*domain.Client, error)
	FlowWithSteps(ctx context.Context, id int64) (*domain.Flow, error)
}

// Emitter sends and records a bot message.
type Emitter interface {
	Emit(ctx context.Context, client *domain.Client, reply domain.Reply, tags domain.FlowTags) (*domain.Message, error)
}

// Texts configures the invitation wording. Template is either plain text or a format
// taking exactly two verbs: %s for the flow name, then %d for the step count.
type Texts struct {
	Template     string
	StartLabel   string
	DeclineLabel string
}

// DefaultTexts returns the built-in wording.
func DefaultTexts() Texts {
	return Texts{
		Template:     "We'd like to ask you a few questions: %s (%d steps). Ready to start?",
		StartLabel:   "Start",
		DeclineLabel: "Not now",
	}
}

// Target identifies the invited client; ClientID wins when both are set.
type Target struct {
	ClientID   int64
	TelegramID int64
}

// Dispatcher sends invitations.
type Dispatcher struct {
	store   Store
	emitter Emitter
	texts   Texts
}

// NewDispatcher builds a dispatcher; empty texts fall back to DefaultTexts.
func NewDispatcher(store Store, emitter Emitter, texts Texts) *Dispatcher {
	def := DefaultTexts()
	if texts.Template == "" {
		texts.Template = def.Template
	}
	if texts.StartLabel == "" {
		texts.StartLabel = def.StartLabel
	}
	if texts.DeclineLabel == "" {
		texts.DeclineLabel = def.DeclineLabel
	}
	return &Dispatcher{store: store, emitter: emitter, texts: texts}
}

// SendInvitation pushes start/decline buttons for the flow to the target. It does not touch
// survey state; only pressing start does.
func (d *Dispatcher) SendInvitation(ctx context.Context, target Target, flowID int64, message string) (*domain.Message, error) {
	client, err := d.resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	f, err := d.store.FlowWithSteps(ctx, flowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrFlowNotFound, flowID)
		}
		return nil, err
	}
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrEmptyFlow, flowID)
	}

	text := strings.TrimSpace(message)
	if text == "" {
		text = d.defaultText(f)
	}
	reply, err := d.compose(text, f.ID)
	if err != nil {
		return nil, err
	}

	msg, err := d.emitter.Emit(ctx, client, reply, domain.FlowTags{FlowID: f.ID})
	if err != nil {
		return nil, fmt.Errorf("send invitation: %w", err)
	}
	logger.Info(ctx, component, "invite.sent",
		slog.Int64("client_id", client.ID),
		slog.Int64("flow_id", f.ID),
		slog.Int("steps", len(f.Steps)),
	)
	return msg, nil
}

func (d *Dispatcher) resolve(ctx context.Context, target Target) (*domain.Client, error) {
	var (
		client *domain.Client
		err    error
	)
	switch {
	case target.ClientID != 0:
		client, err = d.store.GetClient(ctx, target.ClientID)
	case target.TelegramID != 0:
		client, err = d.store.GetClientByTelegramID(ctx, target.TelegramID)
	default:
		return nil, ErrNoTarget
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrClientNotFound
	}
	return client, err
}

// ValidateTemplate rejects invitation templates whose verbs do not match the flow name and
// step count arguments.
func ValidateTemplate(tpl string) error {
	if !strings.Contains(tpl, "%") {
		return nil
	}
	if out := fmt.Sprintf(tpl, "", 0); strings.Contains(out, "%!") {
		return fmt.Errorf("invite: template %q must use %%s then %%d: %s", tpl, out)
	}
	return nil
}

func (d *Dispatcher) defaultText(f *domain.Flow) string {
	if !strings.Contains(d.texts.Template, "%") {
		return d.texts.Template
	}
	return fmt.Sprintf(d.texts.Template, f.Name, len(f.Steps))
}

func (d *Dispatcher) compose(text string, flowID int64) (domain.Reply, error) {
	value := strconv.FormatInt(flowID, 10)
	start, _, err := callbacks.Encode(callbacks.Token{Action: callbacks.ActionStartFlow, Value: value})
	if err != nil {
		return domain.Reply{}, err
	}
	decline, _, err := callbacks.Encode(callbacks.Token{Action: callbacks.ActionDeclineFlow, Value: value})
	if err != nil {
		return domain.Reply{}, err
	}
	return domain.Reply{
		Text: text,
		Inline: [][]domain.Button{{
			{Text: d.texts.StartLabel, Data: start},
			{Text: d.texts.DeclineLabel, Data: decline},
		}},
	}, nil
}
