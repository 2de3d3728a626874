package callbacks

import (
	tele "gopkg.in/telebot.v4"
)

// Action returns the action of a well-formed token, or "" for anything else.
func Action(cb *tele.Callback) string {
	if cb == nil {
		return ""
	}
	t, err := Decode(cb.Data)
	if err != nil {
		return ""
	}
	return t.Action
}
