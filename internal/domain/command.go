package domain

// MatchType selects how a command trigger is compared to inbound text.
type MatchType string

const (
	MatchExact      MatchType = "exact"
	MatchContains   MatchType = "contains"
	MatchStartsWith MatchType = "startsWith"
	MatchRegex      MatchType = "regex"
)

// Command is an operator-configured auto-reply.
type Command struct {
	ID        int64     `db:"id" json:"id" yaml:"-"`
	Trigger   string    `db:"trigger" json:"trigger" yaml:"trigger"`
	MatchType MatchType `db:"match_type" json:"matchType" yaml:"match_type"`
	Response  string    `db:"response" json:"response" yaml:"response"`
	FlowID    *int64    `db:"flow_id" json:"flowId,omitempty" yaml:"flow_id"`
	Priority  int       `db:"priority" json:"priority" yaml:"priority"`
	IsActive  bool      `db:"is_active" json:"isActive" yaml:"is_active"`
}

// Valid reports whether m is a known match type.
func (m MatchType) Valid() bool {
	switch m {
	case MatchExact, MatchContains, MatchStartsWith, MatchRegex:
		return true
	}
	return false
}
