package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"

	// contentLimit caps fields that may carry client-written text.
	contentLimit = 256
)

// contentKeys hold message bodies, button payloads and survey answers.
var contentKeys = map[string]bool{
	"text":    true,
	"payload": true,
	"content": true,
	"answer":  true,
	"data":    true,
}

type handlerConfig struct {
	level    slog.Leveler
	writer   *lineWriter
	format   logFormat
	keyOrder []string
}

type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = append([]string(nil), defaultKeyOrder...)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

// Handle flattens the record into one line. Context metadata never overrides explicit attrs.
func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return fmt.Errorf("logger: writer not initialized")
	}
	isJSON := h.cfg.format == formatJSON

	f := make(fields, 16)
	ts := r.Time.UTC()
	f["ts"] = ts.Truncate(time.Millisecond).Format(timeFormatMillis)
	f["level"] = normalizeLevel(r.Level.String())
	if isJSON {
		f["ts_unix_nano"] = ts.UnixNano()
	}
	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		f.add(prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		f.add(prefix, a)
		return true
	})
	f.addContext(ctx)
	f.compactRID(isJSON)
	f.setDefault("event", r.Message)
	f.setDefault("event", "unknown")
	f.setDefault("component", "app")
	f.normalizeEnums()
	f.prune()

	var line []byte
	if isJSON {
		var err error
		if line, err = encodeJSON(f, h.cfg.keyOrder); err != nil {
			return err
		}
	} else {
		line = encodeKV(f, h.cfg.keyOrder)
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// fields is one log line before encoding.
type fields map[string]any

// add flattens groups into dotted keys.
func (f fields) add(prefix string, a slog.Attr) {
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, child := range a.Value.Group() {
			f.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	val, isDuration, ok := plainValue(a.Value.Resolve())
	if !ok {
		return
	}
	if isDuration {
		key = durationKey(key)
	}
	if s, isStr := val.(string); isStr && contentKeys[key] {
		val = SanitizeLimit(s, contentLimit)
	}
	f[key] = val
}

// setDefault stores v unless the key is already present or v is a zero value.
func (f fields) setDefault(key string, v any) {
	if _, ok := f[key]; ok {
		return
	}
	switch x := v.(type) {
	case string:
		if x == "" {
			return
		}
	case int64:
		if x == 0 {
			return
		}
	case int:
		if x == 0 {
			return
		}
	}
	f[key] = v
}

func (f fields) str(key string) (string, bool) {
	v, ok := f[key]
	if !ok {
		return "", false
	}
	if s, isStr := v.(string); isStr {
		return s, true
	}
	return fmt.Sprint(v), true
}

func (f fields) addContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	f.setDefault("rid", RIDFrom(ctx))
	f.setDefault("client_id", ClientIDFrom(ctx))
	f.setDefault("user_id", UserIDFrom(ctx))
	f.setDefault("update_id", UpdateIDFrom(ctx))
	f.setDefault("chat_id", ChatIDFrom(ctx))
	f.setDefault("handler", HandlerFrom(ctx))
}

// compactRID shortens the rid; JSON lines keep the original under rid_full.
func (f fields) compactRID(keepFull bool) {
	rid, ok := f.str("rid")
	if !ok || rid == "" {
		return
	}
	compact := CompactRID(rid)
	if compact == "" || compact == rid {
		return
	}
	if keepFull {
		f.setDefault("rid_full", rid)
	}
	f["rid"] = compact
}

func (f fields) normalizeEnums() {
	if s, ok := f.str("status"); ok && s != "" {
		f["status"], _ = normalizeStatus(s)
	}
	if o, ok := f.str("outcome"); ok && o != "" {
		if normalized, valid := normalizeOutcome(o); valid {
			f["outcome"] = normalized
		} else {
			delete(f, "outcome")
		}
	}
}

func (f fields) prune() {
	for k, v := range f {
		switch val := v.(type) {
		case nil:
			delete(f, k)
		case string:
			if val == "" {
				delete(f, k)
			}
		}
	}
}

// plainValue converts a slog value to something both encoders print directly.
// The second result marks durations, which are rendered as whole milliseconds.
func plainValue(v slog.Value) (any, bool, bool) {
	switch v.Kind() {
	case slog.KindString:
		return strings.TrimSpace(v.String()), false, true
	case slog.KindBool:
		return v.Bool(), false, true
	case slog.KindInt64:
		return v.Int64(), false, true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return int64(u), false, true
		}
		return v.Uint64(), false, true
	case slog.KindFloat64:
		return v.Float64(), false, true
	case slog.KindDuration:
		return RoundMS(v.Duration()).Milliseconds(), true, true
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano), false, true
	}
	switch x := v.Any().(type) {
	case nil:
		return nil, false, false
	case error:
		return x.Error(), false, true
	case time.Duration:
		return RoundMS(x).Milliseconds(), true, true
	case fmt.Stringer:
		return x.String(), false, true
	default:
		return fmt.Sprint(x), false, true
	}
}

// durationKey renames duration attributes so every duration lands in a *_ms field.
func durationKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_duration"):
		return strings.TrimSuffix(key, "_duration") + "_duration_ms"
	case !strings.HasSuffix(key, "_ms"):
		return key + "_ms"
	}
	return key
}

// orderedKeys lists the keys named in order first, then the rest alphabetically.
func orderedKeys(f fields, order []string) []string {
	keys := make([]string, 0, len(f))
	seen := make(map[string]bool, len(f))
	for _, key := range order {
		if _, ok := f[key]; ok && !seen[key] {
			keys = append(keys, key)
			seen[key] = true
		}
	}
	rest := make([]string, 0, len(f)-len(keys))
	for key := range f {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func encodeJSON(f fields, order []string) ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, key := range orderedKeys(f, order) {
		data, err := json.Marshal(f[key])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", key, err)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(key))
		b.WriteByte(':')
		b.Write(data)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func encodeKV(f fields, order []string) []byte {
	var b strings.Builder
	for i, key := range orderedKeys(f, order) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(kvValue(f[key]))
	}
	return []byte(b.String())
}

func kvValue(v any) string {
	s := fmt.Sprint(v)
	if strings.IndexFunc(s, needsQuote) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(r rune) bool {
	return r <= 32 || r == '=' || r == '"'
}
