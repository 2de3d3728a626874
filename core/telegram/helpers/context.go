package helpers

import (
	"context"

	"github.com/Nemu-x/botlab/core/logger"

	tele "gopkg.in/telebot.v4"
)

const (
	contextKey = "botlab.ctx"
	ridKey     = "rid"
)

// UpdateMeta identifies the update, sender and chat a log line belongs to.
type UpdateMeta struct {
	UpdateID int
	UserID   int64
	ChatID   int64
}

// MetaOf reads the identifiers of the current update; absent parts stay zero.
func MetaOf(c tele.Context) UpdateMeta {
	m := UpdateMeta{UpdateID: c.Update().ID}
	if u := c.Sender(); u != nil {
		m.UserID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		m.ChatID = ch.ID
	}
	return m
}

// RID returns the correlation id of the update, minting it on first use.
func RID(c tele.Context) string {
	if rid, _ := c.Get(ridKey).(string); rid != "" {
		return rid
	}
	m := MetaOf(c)
	rid := logger.BuildRID(m.UpdateID, m.ChatID, m.UserID)
	c.Set(ridKey, rid)
	return rid
}

// NewContext builds the logging context for the update and caches it on c, replacing any
// earlier one. Service calls made for the update share its rid and metadata.
func NewContext(c tele.Context) context.Context {
	m := MetaOf(c)
	ctx := logger.WithRID(context.Background(), RID(c))
	ctx = logger.WithUpdateMeta(ctx, m.UpdateID, m.UserID, m.ChatID)
	ctx = logger.WithLogger(ctx, logger.Component("tg"))
	StoreContext(c, ctx)
	return ctx
}

// StoreContext caches ctx on c for later handlers of the same update.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom returns the context cached on c, if any.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(contextKey).(context.Context)
	return ctx, ok && ctx != nil
}

// BuildContext returns the cached update context, building it when the logging middleware did not run.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}
	return NewContext(c)
}

// WithHandler tags the update context with the handler name.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler == "" {
		return ctx
	}
	ctx = logger.WithHandler(ctx, handler)
	StoreContext(c, ctx)
	return ctx
}
