package flow

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/Nemu-x/botlab/internal/domain"
)

// patternCache memoises compiled condition regexes; compile failures are cached too.
type patternCache struct {
	mu       sync.RWMutex
	patterns map[string]compiled
}

type compiled struct {
	re  *regexp.Regexp
	err error
}

func newPatternCache() *patternCache {
	return &patternCache{patterns: make(map[string]compiled)}
}

func (c *patternCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	hit, ok := c.patterns[pattern]
	c.mu.RUnlock()
	if ok {
		return hit.re, hit.err
	}
	re, err := regexp.Compile(pattern)
	c.mu.Lock()
	c.patterns[pattern] = compiled{re: re, err: err}
	c.mu.Unlock()
	return re, err
}

// Match evaluates a single answer predicate. Comparison is case-sensitive.
// An invalid regex or unknown operator is reported as an error and must be treated as a non-match.
func (c *patternCache) Match(m domain.AnswerMatch, answer string) (bool, error) {
	switch m.Operator {
	case domain.OpEquals:
		return answer == m.Match, nil
	case domain.OpContains:
		return strings.Contains(answer, m.Match), nil
	case domain.OpStartsWith:
		return strings.HasPrefix(answer, m.Match), nil
	case domain.OpEndsWith:
		return strings.HasSuffix(answer, m.Match), nil
	case domain.OpRegex:
		re, err := c.compile(m.Match)
		if err != nil {
			return false, fmt.Errorf("flow: bad condition pattern %q: %w", m.Match, err)
		}
		return re.MatchString(answer), nil
	}
	return false, fmt.Errorf("flow: unknown condition operator %q", m.Operator)
}
