// Package config is the application configuration: the reusable core sections
// plus database, HTTP API, survey state, OpenAI and canned texts.
package config

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/Nemu-x/botlab/core/config"
	coredatabase "github.com/Nemu-x/botlab/core/database"
	"github.com/Nemu-x/botlab/internal/bot"
	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/flow"
	"github.com/Nemu-x/botlab/internal/invite"
	"github.com/Nemu-x/botlab/internal/relay"
)

// Survey state backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// HTTPConfig configures the dashboard REST API.
type HTTPConfig struct {
	Listen string `yaml:"listen" envconfig:"HTTP_LISTEN"`
	// APIKey guards /api with "Authorization: Bearer <key>"; empty disables auth.
	APIKey          string        `yaml:"api_key" envconfig:"HTTP_API_KEY"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"HTTP_SHUTDOWN_TIMEOUT"`
}

// RedisConfig locates the Redis server used by the redis survey store.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// OpenAIConfig enables completion summaries when APIKey is set.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" envconfig:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url" envconfig:"OPENAI_BASE_URL"`
	Model   string `yaml:"model" envconfig:"OPENAI_MODEL"`
}

// SurveyConfig selects the survey state backend and engine behaviour.
type SurveyConfig struct {
	Store            string        `yaml:"store" envconfig:"SURVEY_STORE"`
	StrictReferences bool          `yaml:"strict_references" envconfig:"SURVEY_STRICT_REFERENCES"`
	TTL              time.Duration `yaml:"ttl" envconfig:"SURVEY_TTL"`
}

// TextsConfig overrides canned bot replies. Empty values keep the built-in text.
type TextsConfig struct {
	Greeting      string `yaml:"greeting"`
	Completion    string `yaml:"completion"`
	Apology       string `yaml:"apology"`
	Cancelled     string `yaml:"cancelled"`
	NothingToStop string `yaml:"nothing_to_cancel"`
	DialogClosed  string `yaml:"dialog_closed"`
	Declined      string `yaml:"declined"`
	Invitation    string `yaml:"invitation"`
	StartLabel    string `yaml:"start_label"`
	DeclineLabel  string `yaml:"decline_label"`
	NextLabel     string `yaml:"next_label"`
	StepCounter   string `yaml:"step_counter"`
	FailureToast  string `yaml:"failure_toast"`
	ExpiredToast  string `yaml:"expired_toast"`
	Unsupported   string `yaml:"unsupported"`
	RateLimited   string `yaml:"rate_limited"`
	Reloaded      string `yaml:"reloaded"`
	AdminOnly     string `yaml:"admin_only"`
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database     coredatabase.Config `yaml:"database"`
	HTTP         HTTPConfig          `yaml:"http"`
	Redis        RedisConfig         `yaml:"redis"`
	OpenAI       OpenAIConfig        `yaml:"openai"`
	Survey       SurveyConfig        `yaml:"survey"`
	Texts        TextsConfig         `yaml:"texts"`
	SeedCommands []domain.Command    `yaml:"seed_commands" ignored:"true"`
}

// CoreConfig exposes the framework part of the configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads .env, the YAML file at path and the environment, then validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}
	cfg.Database.Normalize()
	if cfg.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8080"
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 5 * time.Second
	}

	cfg.Survey.Store = strings.ToLower(strings.TrimSpace(cfg.Survey.Store))
	switch cfg.Survey.Store {
	case "":
		cfg.Survey.Store = StoreMemory
	case StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when survey.store is 'redis'")
		}
	default:
		return fmt.Errorf("invalid survey.store %q; allowed: memory, redis", cfg.Survey.Store)
	}
	if cfg.Survey.TTL < 0 {
		return fmt.Errorf("survey.ttl must be >= 0")
	}
	if err := invite.ValidateTemplate(cfg.Texts.Invitation); err != nil {
		return fmt.Errorf("texts.invitation: %w", err)
	}

	for i := range cfg.SeedCommands {
		c := &cfg.SeedCommands[i]
		if strings.TrimSpace(c.Trigger) == "" {
			return fmt.Errorf("seed_commands[%d]: trigger is required", i)
		}
		if c.MatchType == "" {
			c.MatchType = domain.MatchExact
		}
		if !c.MatchType.Valid() {
			return fmt.Errorf("seed_commands[%d]: invalid match_type %q", i, c.MatchType)
		}
	}
	return nil
}

// EngineOptions maps the survey and text settings onto the flow engine.
func (c *Config) EngineOptions() flow.Options {
	opts := flow.DefaultOptions()
	opts.StrictReferences = c.Survey.StrictReferences
	override(&opts.CompletionText, c.Texts.Completion)
	override(&opts.ApologyText, c.Texts.Apology)
	override(&opts.CancelText, c.Texts.Cancelled)
	override(&opts.CounterFormat, c.Texts.StepCounter)
	override(&opts.NextLabel, c.Texts.NextLabel)
	return opts
}

// RelayTexts returns the relay's canned replies.
func (c *Config) RelayTexts() relay.Texts {
	return relay.Texts{
		DialogClosed: c.Texts.DialogClosed,
		Declined:     c.Texts.Declined,
		FailureToast: c.Texts.FailureToast,
		ExpiredToast: c.Texts.ExpiredToast,
	}
}

// InviteTexts returns the invitation wording.
func (c *Config) InviteTexts() invite.Texts {
	return invite.Texts{
		Template:     c.Texts.Invitation,
		StartLabel:   c.Texts.StartLabel,
		DeclineLabel: c.Texts.DeclineLabel,
	}
}

// BotTexts returns the replies of the Telegram commands.
func (c *Config) BotTexts() bot.Texts {
	return bot.Texts{
		Greeting:      c.Texts.Greeting,
		NothingToStop: c.Texts.NothingToStop,
		Unsupported:   c.Texts.Unsupported,
		Reloaded:      c.Texts.Reloaded,
		AdminOnly:     c.Texts.AdminOnly,
	}
}

// LimitedToast is the callback toast shown to throttled users.
func (c *Config) LimitedToast() string {
	if strings.TrimSpace(c.Texts.RateLimited) != "" {
		return c.Texts.RateLimited
	}
	return "Too many requests, please slow down."
}

func override(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}
