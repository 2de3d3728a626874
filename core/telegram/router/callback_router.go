package router

import (
	"log/slog"
	"time"

	tg "github.com/Nemu-x/botlab/core/telegram"
	"github.com/Nemu-x/botlab/core/telegram/callbacks"
	tghelpers "github.com/Nemu-x/botlab/core/telegram/helpers"
	"github.com/Nemu-x/botlab/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute returns a handler that routes action-token callbacks through the
// registry by their action. Handlers answer the query themselves; when one fails
// without answering, the route clears the button spinner.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		if c.Callback() == nil {
			return nil
		}

		key := callbacks.Action(c.Callback())
		if key == "" {
			key = "malformed"
		}
		name := "callback." + normalizeHandlerName(key)
		extras := []slog.Attr{slog.String("cb_key", key)}

		cbHandler, ok := reg.GetCallback(key)
		if !ok || cbHandler == nil {
			cbHandler = reg.CallbackNotFound()
			if cbHandler == nil {
				cbHandler = opts.NotFound
			}
			extras = append(extras, slog.String("reason", "not_found"))
		}

		return handleWithSummary(c, name, start, "", "", func() error {
			var err error
			if cbHandler != nil {
				err = cbHandler(c)
			}
			if cbHandler == nil || (err != nil && !middleware.Responded(c)) {
				_ = tghelpers.Respond(c, "")
			}
			return err
		}, extras...)
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
