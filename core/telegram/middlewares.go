package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/Nemu-x/botlab/core/config"
	tghelpers "github.com/Nemu-x/botlab/core/telegram/helpers"
	"github.com/Nemu-x/botlab/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// DefaultMiddlewares builds the shared middleware chain for bots: panic recovery,
// per-user rate limiting (when configured), update logging and send counters.
// When onLimited is nil, throttled callbacks are still answered with limitedToast.
func DefaultMiddlewares(cfg *coreconfig.Config, limitedToast string, onLimited func(tele.Context) error) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "metrics", Use: middleware.MessageMetricsMiddleware},
	}

	if cfg != nil {
		interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
		if interval > 0 {
			ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
			for _, t := range cfg.RateLimit.ExcludeUpdates {
				ex[strings.ToLower(t)] = struct{}{}
			}
			if onLimited == nil {
				onLimited = func(c tele.Context) error {
					return tghelpers.Respond(c, limitedToast)
				}
			}
			mws = append(mws, Middleware{
				Name: "rate_limit",
				Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
					Interval:  interval,
					Exclude:   ex,
					OnLimited: onLimited,
				}),
			})
		}
	}

	return append(mws, Middleware{Name: "logger", Use: middleware.LoggerMiddleware})
}
