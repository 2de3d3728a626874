package router

import (
	"time"

	tg "github.com/Nemu-x/botlab/core/telegram"
	"github.com/Nemu-x/botlab/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Inbox receives free text that is not a registered command.
type Inbox interface {
	HandleText(c tele.Context) error
}

// TextOptions controls fallback behaviour for non-text updates.
type TextOptions struct {
	// Unsupported handles media and documents; nil ignores them.
	Unsupported tele.HandlerFunc
}

// TextRoutes builds handlers for text routing. Registered slash commands typed
// with arguments or aliases win over the inbox; everything else goes to the inbox.
func TextRoutes(inbox Inbox, reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		text := c.Text()

		if reg != nil && len(text) > 1 && text[0] == '/' {
			if key, cmd, ok := reg.LookupCommand(commandWord(text)); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return handleWithSummary(c, normalizeHandlerName(key), start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if inbox != nil {
			return handleWithSummary(c, "inbox", start, "", "", func() error {
				return inbox.HandleText(c)
			})
		}
		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	unsupported := func(c tele.Context) error {
		start := time.Now()
		if opts.Unsupported == nil {
			logHandlerSummary(c, "unsupported", start, "skip", "ok", nil)
			return nil
		}
		return handleWithSummary(c, "unsupported", start, "", "", func() error {
			return opts.Unsupported(c)
		})
	}

	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(handler)},
		{Endpoint: tele.OnDocument, Handler: wrap(unsupported)},
		{Endpoint: tele.OnPhoto, Handler: wrap(unsupported)},
		{Endpoint: tele.OnVoice, Handler: wrap(unsupported)},
		{Endpoint: tele.OnSticker, Handler: wrap(unsupported)},
	}
}

// commandWord returns the leading "/cmd" of text, without a "@botname" suffix.
func commandWord(text string) string {
	end := len(text)
	for i, r := range text {
		if r == ' ' || r == '\n' || r == '@' {
			end = i
			break
		}
	}
	return text[:end]
}
