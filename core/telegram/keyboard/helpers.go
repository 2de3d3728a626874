package keyboard

import tele "gopkg.in/telebot.v4"

// InlineBtn describes an inline button. Exactly one of Data (raw callback data)
// or URL is expected; URL wins when both are set.
type InlineBtn struct {
	Text string
	Data string
	URL  string
}

// RemoveKeyboard returns a markup that hides the keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// ReplyButtons builds a resized reply keyboard from rows of text.
func ReplyButtons(oneTime bool, rows ...[]string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: oneTime}
	keyboard := make([]tele.Row, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tele.Btn, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, markup.Text(label))
		}
		keyboard = append(keyboard, markup.Row(buttons...))
	}
	markup.Reply(keyboard...)
	return markup
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn. Callback data is
// passed through unchanged so it reaches the OnCallback endpoint as-is.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, btn := range row {
			if btn.URL != "" {
				r = append(r, tele.InlineButton{Text: btn.Text, URL: btn.URL})
				continue
			}
			r = append(r, tele.InlineButton{Text: btn.Text, Data: btn.Data})
		}
		if len(r) > 0 {
			inline = append(inline, r)
		}
	}
	return &tele.ReplyMarkup{InlineKeyboard: inline}
}
