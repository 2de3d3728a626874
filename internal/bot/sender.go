package bot

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/Nemu-x/botlab/core/telegram/keyboard"
	tgsender "github.com/Nemu-x/botlab/core/telegram/sender"
	"github.com/Nemu-x/botlab/internal/domain"

	tele "gopkg.in/telebot.v4"
)

// ErrBotNotReady is returned when a message is sent before the bot is attached.
var ErrBotNotReady = errors.New("bot: not attached")

// Sender delivers relay replies through the Telegram Bot API. Calls run inline
// through the dispatcher so transient failures are retried and the message id
// is known to the caller.
type Sender struct {
	bot        atomic.Pointer[tele.Bot]
	dispatcher *tgsender.Dispatcher
}

// NewSender builds a sender. A nil dispatcher sends without retries.
func NewSender(d *tgsender.Dispatcher) *Sender {
	return &Sender{dispatcher: d}
}

// Attach binds the running bot. It is meant for RunOptions.OnBot.
func (s *Sender) Attach(b *tele.Bot) {
	s.bot.Store(b)
}

// Send delivers reply to chatID and returns the Telegram message id.
func (s *Sender) Send(ctx context.Context, chatID int64, reply domain.Reply) (int, error) {
	b := s.bot.Load()
	if b == nil {
		return 0, ErrBotNotReady
	}
	opts := &tele.SendOptions{ReplyMarkup: Markup(reply)}

	var msgID int
	run := func() error {
		msg, err := b.Send(tele.ChatID(chatID), reply.Text, opts)
		if err != nil {
			return err
		}
		msgID = msg.ID
		return nil
	}
	if s.dispatcher == nil {
		return msgID, run()
	}
	err := s.dispatcher.Do(ctx, "send.reply", "sendMessage", run)
	return msgID, err
}

// Markup converts the transport-neutral controls of reply. Inline buttons win
// over a reply keyboard; nil means the message carries no markup.
func Markup(reply domain.Reply) *tele.ReplyMarkup {
	switch {
	case len(reply.Inline) > 0:
		rows := make([][]keyboard.InlineBtn, 0, len(reply.Inline))
		for _, row := range reply.Inline {
			r := make([]keyboard.InlineBtn, 0, len(row))
			for _, b := range row {
				r = append(r, keyboard.InlineBtn{Text: b.Text, Data: b.Data, URL: b.URL})
			}
			rows = append(rows, r)
		}
		return keyboard.InlineButtonsRows(rows...)
	case len(reply.Keyboard) > 0:
		return keyboard.ReplyButtons(reply.OneTimeKeyboard, reply.Keyboard...)
	case reply.RemoveKeyboard:
		return keyboard.RemoveKeyboard()
	}
	return nil
}
