// Package app assembles the support bot: storage, survey state, the flow
// engine, the relay, the Telegram transport and the operator API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/Nemu-x/botlab/core/bootstrap"
	"github.com/Nemu-x/botlab/core/logger"
	tg "github.com/Nemu-x/botlab/core/telegram"
	tgsender "github.com/Nemu-x/botlab/core/telegram/sender"
	"github.com/Nemu-x/botlab/internal/bot"
	"github.com/Nemu-x/botlab/internal/config"
	"github.com/Nemu-x/botlab/internal/flow"
	"github.com/Nemu-x/botlab/internal/httpapi"
	"github.com/Nemu-x/botlab/internal/invite"
	"github.com/Nemu-x/botlab/internal/relay"
	"github.com/Nemu-x/botlab/internal/storage/postgres"
	"github.com/Nemu-x/botlab/internal/survey"
	"github.com/Nemu-x/botlab/internal/ws"
)

const component = "app"

// App holds the wired services of a running bot.
type App struct {
	cfg *config.Config
	db  *sqlx.DB
	rdb *redis.Client

	store      *postgres.Store
	relay      *relay.Relay
	engine     *flow.Engine
	hub        *ws.Hub
	api        *httpapi.Server
	sender     *bot.Sender
	dispatcher *tgsender.Dispatcher
	handlers   *bot.Handlers
	registry   *tg.Registry

	stopHub context.CancelFunc
	hubDone chan struct{}
}

// Bootstrap connects infrastructure and wires every service.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, error) {
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
		Modules: bootstrap.Modules{Seeders: []bootstrap.Seeder{
			bootstrap.SeederFunc{Label: "commands", Fn: commandSeeder(cfg)},
		}},
	})
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, db: res.DB, store: postgres.New(res.DB)}
	states, err := a.surveyStore(ctx)
	if err != nil {
		_ = a.db.Close()
		return nil, err
	}

	a.hub = ws.NewHub(a.store)
	a.dispatcher = tgsender.NewDispatcher(tgsender.Options{MaxRetries: cfg.Telegram.SendRetries})
	a.sender = bot.NewSender(a.dispatcher)
	a.relay = relay.New(a.store, a.sender, a.hub, cfg.RelayTexts())
	a.engine = flow.NewEngine(flow.Deps{
		Flows:      a.store,
		Clients:    a.store,
		Responses:  a.store,
		Transcript: a.relay,
		States:     states,
		Summarizer: flow.NewOpenAISummarizer(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model),
	}, cfg.EngineOptions())
	a.relay.SetFlowRunner(a.engine)

	invites := invite.NewDispatcher(a.store, a.relay, cfg.InviteTexts())
	a.api = httpapi.New(httpapi.Deps{
		Store:   a.store,
		Relay:   a.relay,
		Flows:   a.engine,
		Invites: invites,
		Events:  a.hub,
		Feed:    ws.ServeWs(a.hub, httpapi.APIKey(cfg.HTTP.APIKey)),
		Health:  func() map[string]any {
			return map[string]any{
				"sessions":    a.hub.Sessions(),
				"send_errors": a.dispatcher.ErrorCount(),
			}
		},
	}, httpapi.Options{Listen: cfg.HTTP.Listen, APIKey: cfg.HTTP.APIKey})

	a.registry = tg.NewRegistry()
	a.handlers = bot.New(a.relay, a.engine, a.store, cfg.BotTexts())
	a.handlers.Register(a.registry)

	logger.Info(ctx, component, "wired",
		slog.String("survey_store", cfg.Survey.Store),
		slog.Bool("summaries", cfg.OpenAI.APIKey != ""),
		slog.Bool("api_auth", cfg.HTTP.APIKey != ""),
	)
	return a, nil
}

// TelegramRunOptions describes how the Telegram runtime drives the app.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	if a == nil || a.cfg == nil {
		return tg.RunOptions{}, errors.New("app: not bootstrapped")
	}
	core := a.cfg.CoreConfig()
	return tg.RunOptions{
		Config:      core,
		Registry:    a.registry,
		Dispatcher:  a.dispatcher,
		Middlewares: tg.DefaultMiddlewares(core, a.cfg.LimitedToast(), nil),
		Routes:      a.handlers.Routes(a.registry, core.IsAdmin),
		OnBot:       a.sender.Attach,
		OnStart:     a.start,
		OnStop:      a.stop,
	}, nil
}

func (a *App) start(ctx context.Context, _ tg.Runtime) error {
	if err := a.relay.ReloadCommands(ctx); err != nil {
		return err
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	a.stopHub = cancel
	a.hubDone = make(chan struct{})
	go func() {
		defer close(a.hubDone)
		a.hub.Run(hubCtx)
	}()

	if err := a.api.Start(ctx); err != nil {
		cancel()
		<-a.hubDone
		return fmt.Errorf("app: http api: %w", err)
	}
	return nil
}

func (a *App) stop(ctx context.Context, _ tg.Runtime) error {
	var errs []error
	httpCtx, cancel := context.WithTimeout(ctx, a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := a.api.Shutdown(httpCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if a.stopHub != nil {
		a.stopHub()
		select {
		case <-a.hubDone:
		case <-ctx.Done():
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("db close: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) surveyStore(ctx context.Context) (survey.Store, error) {
	if a.cfg.Survey.Store != config.StoreRedis {
		return survey.NewMemoryStore(), nil
	}
	a.rdb = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	store := survey.NewRedisStore(a.rdb, a.cfg.Survey.TTL)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = a.rdb.Close()
		return nil, fmt.Errorf("app: redis ping %s: %w", a.cfg.Redis.Addr, err)
	}
	logger.Info(ctx, component, "redis.connected", slog.String("host", a.cfg.Redis.Addr))
	return store, nil
}

func commandSeeder(cfg *config.Config) func(ctx context.Context, db *sqlx.DB) error {
	return func(ctx context.Context, db *sqlx.DB) error {
		if len(cfg.SeedCommands) == 0 {
			return nil
		}
		n, err := postgres.New(db).SeedCommands(ctx, cfg.SeedCommands)
		if err != nil {
			return err
		}
		logger.Info(ctx, "db.seed", "commands.seeded",
			slog.Int("count", n),
			slog.Int("configured", len(cfg.SeedCommands)),
		)
		return nil
	}
}
