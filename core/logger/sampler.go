package logger

import (
	"strconv"
	"strings"
	"sync"
)

// DefaultSampledEvents are the debug events emitted once or more per update. Every other
// debug event is logged in full.
var DefaultSampledEvents = []string{
	"update.received",
	"relay.unmatched",
	"relay.survey",
	"flow.advance",
	"send.start",
	"send.success",
}

type ratio struct {
	num, den int
}

// keepAll reports a ratio that never drops.
func (r ratio) keepAll() bool { return r.num <= 0 || r.den <= 0 || r.num >= r.den }

// eventSampler keeps num of every den occurrences, counting each event name separately so a
// chatty event cannot starve a rare one.
type eventSampler struct {
	mu       sync.Mutex
	ratios   map[string]ratio
	counters map[string]int
}

func newEventSampler() *eventSampler {
	return &eventSampler{ratios: map[string]ratio{}, counters: map[string]int{}}
}

// Configure replaces the sampled set. Events without an override use def.
func (s *eventSampler) Configure(def ratio, events []string, overrides map[string]ratio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratios = make(map[string]ratio, len(events)+len(overrides))
	s.counters = make(map[string]int)
	for _, ev := range events {
		s.ratios[ev] = def
	}
	for ev, r := range overrides {
		s.ratios[ev] = r
	}
}

// Allow reports whether this occurrence of event should be written.
func (s *eventSampler) Allow(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ratios[event]
	if !ok || r.keepAll() {
		return true
	}
	n := s.counters[event] + 1
	if n > r.den {
		n = 1
	}
	s.counters[event] = n
	return n <= r.num
}

// parseRatio accepts "n/d" or "d" (meaning 1/d). "0" and "off" disable sampling.
func parseRatio(raw string) (ratio, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return ratio{}, false
	case "0", "off", "none":
		return ratio{}, true
	}
	if num, den, found := strings.Cut(raw, "/"); found {
		n, err1 := strconv.Atoi(strings.TrimSpace(num))
		d, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 != nil || err2 != nil || n < 0 || d <= 0 {
			return ratio{}, false
		}
		return ratio{num: n, den: d}, true
	}
	d, err := strconv.Atoi(raw)
	if err != nil || d < 0 {
		return ratio{}, false
	}
	return ratio{num: 1, den: d}, true
}
