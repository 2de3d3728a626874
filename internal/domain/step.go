package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// StepKind selects how a step is rendered to the client.
type StepKind string

const (
	KindText     StepKind = "text"
	KindCallback StepKind = "callback"
	KindURL      StepKind = "url"
	KindNextStep StepKind = "nextStep"
	KindKeyboard StepKind = "keyboard"
	KindFinal    StepKind = "final"
)

// ParseStepKind maps a persisted response_type to a StepKind.
// "buttons" is accepted as an alias of callback; unknown values render as text.
func ParseStepKind(raw string) (StepKind, bool) {
	switch strings.TrimSpace(raw) {
	case "text", "":
		return KindText, true
	case "callback", "buttons":
		return KindCallback, true
	case "url":
		return KindURL, true
	case "nextStep", "next_step":
		return KindNextStep, true
	case "keyboard":
		return KindKeyboard, true
	case "final":
		return KindFinal, true
	}
	return KindText, false
}

// ButtonStyle is the configured layout for option buttons.
type ButtonStyle string

const (
	StyleInline   ButtonStyle = "inline"
	StyleKeyboard ButtonStyle = "keyboard"
)

// Option is one selectable answer of a step.
type Option struct {
	Text  string `json:"text"`
	Value string `json:"value"`
	Emoji string `json:"emoji,omitempty"`
	Row   int    `json:"row,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Label is the text shown on the button.
func (o Option) Label() string {
	if o.Emoji == "" {
		return o.Text
	}
	return o.Emoji + " " + o.Text
}

// AnswerValue is the value recorded when the option is chosen.
func (o Option) AnswerValue() string {
	if o.Value != "" {
		return o.Value
	}
	return o.Text
}

// Link is the target of a URL button.
func (o Option) Link() string {
	if o.URL != "" {
		return o.URL
	}
	return o.Value
}

// Operator names a condition comparison.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpRegex      Operator = "regex"
)

// AnswerMatch is a single predicate over the raw answer text.
type AnswerMatch struct {
	Operator Operator `json:"operator"`
	Match    string   `json:"match"`
}

// Condition routes to the owning step when an answer given to PrevStepID matches any of Answers.
type Condition struct {
	PrevStepID int64         `json:"prevStepId"`
	Answers    []AnswerMatch `json:"answers"`
}

// StepConfig holds per-step presentation switches.
type StepConfig struct {
	ButtonStyle     ButtonStyle `json:"buttonStyle,omitempty"`
	ShowStepCounter *bool       `json:"showStepCounter,omitempty"`
}

// CounterEnabled reports whether the "Step N of M" prefix is rendered.
func (c StepConfig) CounterEnabled() bool {
	return c.ShowStepCounter == nil || *c.ShowStepCounter
}

// Style returns the configured button style, inline by default.
func (c StepConfig) Style() ButtonStyle {
	if c.ButtonStyle == StyleKeyboard {
		return StyleKeyboard
	}
	return StyleInline
}

// Options is the JSONB-backed list of step options.
type Options []Option

// Conditions is the JSONB-backed list of branch conditions.
type Conditions []Condition

// Step is one question of a flow.
type Step struct {
	ID           int64      `db:"id" json:"id"`
	FlowID       int64      `db:"flow_id" json:"flowId"`
	OrderIndex   int        `db:"order_index" json:"orderIndex"`
	Question     string     `db:"question" json:"question"`
	ResponseType string     `db:"response_type" json:"responseType"`
	Options      Options    `db:"options" json:"options"`
	NextStepID   *int64     `db:"next_step_id" json:"nextStepId,omitempty"`
	IsFinal      bool       `db:"is_final" json:"isFinal"`
	Conditions   Conditions `db:"conditions" json:"conditions"`
	Config       StepConfig `db:"config" json:"config"`
}

// Kind returns the rendering kind of the step.
func (s *Step) Kind() StepKind {
	k, _ := ParseStepKind(s.ResponseType)
	return k
}

// Terminates reports whether answering the step ends the flow when no branch or pointer applies.
func (s *Step) Terminates() bool {
	return s.IsFinal
}

// AnswerKey is the key under which the answer to the step is stored in survey state.
func (s *Step) AnswerKey() string {
	return AnswerKey(s.ID)
}

// AnswerKey formats the survey answer key for a step id.
func AnswerKey(stepID int64) string {
	return fmt.Sprintf("step_%d", stepID)
}

// Value implements driver.Valuer.
func (o Options) Value() (driver.Value, error) { return jsonValue(o) }

// Scan implements sql.Scanner.
func (o *Options) Scan(src any) error { return jsonScan(src, o) }

// Value implements driver.Valuer.
func (c Conditions) Value() (driver.Value, error) { return jsonValue(c) }

// Scan implements sql.Scanner.
func (c *Conditions) Scan(src any) error { return jsonScan(src, c) }

// Value implements driver.Valuer.
func (c StepConfig) Value() (driver.Value, error) { return json.Marshal(c) }

// Scan implements sql.Scanner.
func (c *StepConfig) Scan(src any) error { return jsonScan(src, c) }

func jsonValue[T any](v []T) (driver.Value, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

func jsonScan(src any, dst any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("domain: unsupported json column type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
