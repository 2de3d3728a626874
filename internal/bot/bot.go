// Package bot adapts the Telegram framework in core/telegram to the relay and
// flow engine: it registers commands, callback actions and the text inbox.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Nemu-x/botlab/core/logger"
	tg "github.com/Nemu-x/botlab/core/telegram"
	"github.com/Nemu-x/botlab/core/telegram/callbacks"
	"github.com/Nemu-x/botlab/core/telegram/commands"
	tghelpers "github.com/Nemu-x/botlab/core/telegram/helpers"
	"github.com/Nemu-x/botlab/core/telegram/router"
	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/relay"
	"github.com/Nemu-x/botlab/internal/storage"

	tele "gopkg.in/telebot.v4"
)

const component = "bot"

// deepLinkPrefix marks a /start payload that opens a flow, e.g. "flow_12".
const deepLinkPrefix = "flow_"

// Relay is the part of the message relay the handlers drive.
type Relay interface {
	HandleMessage(ctx context.Context, in relay.Inbound) error
	HandleCallback(ctx context.Context, cb relay.Callback) (string, error)
	Admit(ctx context.Context, in relay.Inbound) (*domain.Client, bool, error)
	Say(ctx context.Context, client *domain.Client, text string)
	ReloadCommands(ctx context.Context) error
}

// Flows starts and cancels surveys.
type Flows interface {
	Start(ctx context.Context, client *domain.Client, flowID int64) error
	StartFlow(ctx context.Context, client *domain.Client, f *domain.Flow) error
	Cancel(ctx context.Context, client *domain.Client) (bool, error)
}

// DefaultFlowSource returns the flow offered on a bare /start.
type DefaultFlowSource interface {
	DefaultFlow(ctx context.Context) (*domain.Flow, error)
}

// Texts are the replies sent by the bot commands.
type Texts struct {
	Greeting      string
	NothingToStop string
	Unsupported   string
	Reloaded      string
	AdminOnly     string
}

// DefaultTexts returns the built-in replies.
func DefaultTexts() Texts {
	return Texts{
		Greeting:      "Hello! Write your question and an operator will answer soon.",
		NothingToStop: "There is no survey in progress.",
		Unsupported:   "Only text messages are supported for now.",
		Reloaded:      "Commands reloaded.",
		AdminOnly:     "This command is for operators only.",
	}
}

// Handlers serves Telegram updates.
type Handlers struct {
	relay    Relay
	flows    Flows
	defaults DefaultFlowSource
	reg      *tg.Registry
	texts    Texts
}

// New builds the handlers; empty texts fall back to DefaultTexts.
func New(r Relay, flows Flows, defaults DefaultFlowSource, texts Texts) *Handlers {
	def := DefaultTexts()
	if texts.Greeting == "" {
		texts.Greeting = def.Greeting
	}
	if texts.NothingToStop == "" {
		texts.NothingToStop = def.NothingToStop
	}
	if texts.Unsupported == "" {
		texts.Unsupported = def.Unsupported
	}
	if texts.Reloaded == "" {
		texts.Reloaded = def.Reloaded
	}
	if texts.AdminOnly == "" {
		texts.AdminOnly = def.AdminOnly
	}
	return &Handlers{relay: r, flows: flows, defaults: defaults, texts: texts}
}

// Register adds the bot commands and callback actions to reg.
func (h *Handlers) Register(reg *tg.Registry) {
	h.reg = reg
	reg.RegisterCommand("/start", commands.Command{
		Handler:     h.start,
		Description: "Start the conversation",
		Usage:       "[flow_<id>]",
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     h.cancel,
		Description: "Cancel the current survey",
		Aliases:     []string{"stop"},
	})
	reg.RegisterCommand("/help", commands.Command{
		Handler:     h.help,
		Description: "List available commands",
	})
	reg.RegisterCommand("/reload", commands.Command{
		Handler:     h.reload,
		Description: "Reload auto-reply commands",
		AdminOnly:   true,
	})

	for _, action := range []string{
		callbacks.ActionFlowResponse,
		callbacks.ActionStartFlow,
		callbacks.ActionDeclineFlow,
	} {
		_ = reg.RegisterCallback(action, h.callback)
	}
	reg.SetCallbackNotFound(h.callback)
}

// Routes wires the registry and the text inbox into telebot endpoints.
func (h *Handlers) Routes(reg *tg.Registry, isAdmin func(int64) bool) []tg.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		IsAdmin: isAdmin,
		OnAdminReject: func(c tele.Context) error {
			return tghelpers.SendText(c, h.texts.AdminOnly)
		},
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	return append(routes, router.TextRoutes(h, reg, router.TextOptions{Unsupported: h.unsupported})...)
}

// HandleText passes free text to the relay.
func (h *Handlers) HandleText(c tele.Context) error {
	return h.relay.HandleMessage(tghelpers.BuildContext(c), inbound(c))
}

func (h *Handlers) start(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "start")
	client, ok, err := h.relay.Admit(ctx, inbound(c))
	if err != nil || !ok {
		return err
	}
	ctx = logger.WithClient(ctx, client.ID)

	if flowID, ok := ParseDeepLink(c.Message().Payload); ok {
		if err := h.flows.Start(ctx, client, flowID); err != nil {
			logger.Warn(ctx, component, "start.deep_link_failed",
				slog.Int64("flow_id", flowID),
				logger.Err(err),
			)
		}
		return nil
	}

	h.relay.Say(ctx, client, h.texts.Greeting)
	if h.defaults == nil {
		return nil
	}
	f, err := h.defaults.DefaultFlow(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := h.flows.StartFlow(ctx, client, f); err != nil {
		logger.Warn(ctx, component, "start.default_failed", slog.Int64("flow_id", f.ID), logger.Err(err))
	}
	return nil
}

func (h *Handlers) cancel(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "cancel")
	client, ok, err := h.relay.Admit(ctx, inbound(c))
	if err != nil || !ok {
		return err
	}
	cancelled, err := h.flows.Cancel(ctx, client)
	if err != nil {
		return err
	}
	if !cancelled {
		h.relay.Say(ctx, client, h.texts.NothingToStop)
	}
	return nil
}

func (h *Handlers) help(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "help")
	client, ok, err := h.relay.Admit(ctx, inbound(c))
	if err != nil || !ok {
		return err
	}
	if h.reg != nil {
		h.relay.Say(ctx, client, h.reg.HelpText())
	}
	return nil
}

func (h *Handlers) reload(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "reload")
	if err := h.relay.ReloadCommands(ctx); err != nil {
		return err
	}
	return tghelpers.SendText(c, h.texts.Reloaded)
}

func (h *Handlers) callback(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	cb := c.Callback()
	in := relay.Callback{Profile: profile(c), Data: cb.Data}
	if cb.Message != nil {
		in.MessageID = cb.Message.ID
	}
	toast, err := h.relay.HandleCallback(ctx, in)
	if rerr := tghelpers.Respond(c, toast); rerr != nil {
		logger.Debug(ctx, component, "callback.answer_failed", logger.Err(rerr))
	}
	return err
}

func (h *Handlers) unsupported(c tele.Context) error {
	return tghelpers.SendText(c, h.texts.Unsupported)
}

// ParseDeepLink extracts the flow id from a "flow_<id>" start payload.
func ParseDeepLink(payload string) (int64, bool) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, deepLinkPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, deepLinkPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func inbound(c tele.Context) relay.Inbound {
	in := relay.Inbound{Profile: profile(c), Text: c.Text()}
	if m := c.Message(); m != nil {
		in.MessageID = m.ID
	}
	return in
}

func profile(c tele.Context) domain.Profile {
	var p domain.Profile
	if u := c.Sender(); u != nil {
		p.TelegramID = u.ID
		p.Username = u.Username
		p.FirstName = u.FirstName
		p.LastName = u.LastName
		p.Language = u.LanguageCode
	}
	if ch := c.Chat(); ch != nil {
		p.ChatID = ch.ID
	}
	return p
}
