package domain

// Button is an inline button: either a callback (Data) or a link (URL).
type Button struct {
	Text string
	Data string
	URL  string
}

// Reply is a transport-neutral outbound message.
type Reply struct {
	Text string

	// Inline is an inline keyboard attached to the message.
	Inline [][]Button
	// Keyboard is a reply keyboard of plain labels.
	Keyboard        [][]string
	OneTimeKeyboard bool
	RemoveKeyboard  bool
}

// HasControls reports whether the reply carries any interactive markup.
func (r Reply) HasControls() bool {
	return len(r.Inline) > 0 || len(r.Keyboard) > 0
}
