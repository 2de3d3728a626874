package relay

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/internal/domain"
)

type compiledCommand struct {
	cmd     domain.Command
	trigger string
	re      *regexp.Regexp
}

// commandSet is an immutable, priority-ordered view of the active commands.
type commandSet struct {
	items []compiledCommand
}

func buildCommandSet(ctx context.Context, cmds []domain.Command) *commandSet {
	sorted := append([]domain.Command(nil), cmds...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	set := &commandSet{items: make([]compiledCommand, 0, len(sorted))}
	for _, c := range sorted {
		if !c.IsActive {
			continue
		}
		item := compiledCommand{cmd: c, trigger: strings.ToLower(strings.TrimSpace(c.Trigger))}
		if c.MatchType == domain.MatchRegex {
			re, err := regexp.Compile(c.Trigger)
			if err != nil {
				logger.Warn(ctx, component, "relay.command.bad_pattern",
					slog.Int64("command_id", c.ID),
					slog.String("pattern", c.Trigger),
					slog.String("err", err.Error()),
				)
				continue
			}
			item.re = re
		}
		set.items = append(set.items, item)
	}
	return set
}

// match returns the highest-priority command accepting text.
func (s *commandSet) match(text string) (domain.Command, bool) {
	if s == nil {
		return domain.Command{}, false
	}
	raw := strings.TrimSpace(text)
	lower := strings.ToLower(raw)
	for _, item := range s.items {
		if item.matches(raw, lower) {
			return item.cmd, true
		}
	}
	return domain.Command{}, false
}

func (c compiledCommand) matches(raw, lower string) bool {
	if c.re != nil {
		return c.re.MatchString(raw)
	}
	if c.trigger == "" {
		return false
	}
	switch c.cmd.MatchType {
	case domain.MatchContains:
		return strings.Contains(lower, c.trigger)
	case domain.MatchStartsWith:
		return strings.HasPrefix(lower, c.trigger)
	case domain.MatchExact, "":
		return lower == c.trigger
	}
	return false
}

func (s *commandSet) len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}
