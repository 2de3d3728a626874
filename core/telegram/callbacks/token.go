package callbacks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxDataLen is Telegram's limit for callback_data in bytes.
const MaxDataLen = 64

const (
	// ActionFlowResponse answers the step a button belongs to.
	ActionFlowResponse = "flow_response"
	// ActionStartFlow accepts an invitation and starts the flow.
	ActionStartFlow = "start_flow"
	// ActionDeclineFlow declines an invitation.
	ActionDeclineFlow = "decline_flow"
)

// ErrMalformedToken is returned for callback data that is not a valid action token.
var ErrMalformedToken = errors.New("callbacks: malformed action token")

// Token is the opaque action payload carried by inline buttons.
type Token struct {
	Action string `json:"a"`
	StepID int64  `json:"s,omitempty"`
	Value  string `json:"v,omitempty"`
}

// Encode serialises the token, shortening Value by runes until it fits MaxDataLen.
// The second result reports whether Value had to be truncated.
func Encode(t Token) (string, bool, error) {
	if strings.TrimSpace(t.Action) == "" {
		return "", false, fmt.Errorf("callbacks: empty action")
	}
	truncated := false
	for {
		raw, err := json.Marshal(t)
		if err != nil {
			return "", false, err
		}
		if len(raw) <= MaxDataLen {
			return string(raw), truncated, nil
		}
		if t.Value == "" {
			return "", false, fmt.Errorf("callbacks: token for %q exceeds %d bytes", t.Action, MaxDataLen)
		}
		_, size := utf8.DecodeLastRuneInString(t.Value)
		t.Value = t.Value[:len(t.Value)-size]
		truncated = true
	}
}

// Decode parses callback data produced by Encode.
func Decode(data string) (Token, error) {
	data = strings.TrimSpace(strings.TrimPrefix(data, "\f"))
	if data == "" || data[0] != '{' {
		return Token{}, ErrMalformedToken
	}
	var t Token
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if t.Action == "" {
		return Token{}, ErrMalformedToken
	}
	return t, nil
}
