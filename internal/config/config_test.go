package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	coreconfig "github.com/Nemu-x/botlab/core/config"
	coredatabase "github.com/Nemu-x/botlab/core/database"
	"github.com/Nemu-x/botlab/internal/domain"
)

func valid() Config {
	return Config{
		Config:   coreconfig.Config{Telegram: coreconfig.TelegramConfig{Token: "t"}},
		Database: coredatabase.Config{Name: "botlab"},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := valid()
	cfg.SeedCommands = []domain.Command{{Trigger: "hours", Response: "9-18"}}
	if err := Normalize(&cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.HTTP.Listen != ":8080" {
		t.Fatalf("http listen = %q", cfg.HTTP.Listen)
	}
	if cfg.Survey.Store != StoreMemory {
		t.Fatalf("survey store = %q", cfg.Survey.Store)
	}
	if cfg.Database.Port != "5432" {
		t.Fatalf("database port = %q", cfg.Database.Port)
	}
	if cfg.SeedCommands[0].MatchType != domain.MatchExact {
		t.Fatalf("seed match type = %q", cfg.SeedCommands[0].MatchType)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"missing db name":    func(c *Config) { c.Database.Name = "" },
		"unknown store":      func(c *Config) { c.Survey.Store = "etcd" },
		"redis without addr": func(c *Config) { c.Survey.Store = "redis" },
		"negative ttl":       func(c *Config) { c.Survey.TTL = -time.Second },
		"seed without trigger": func(c *Config) {
			c.SeedCommands = []domain.Command{{Response: "x"}}
		},
		"seed bad match": func(c *Config) {
			c.SeedCommands = []domain.Command{{Trigger: "x", MatchType: "fuzzy"}}
		},
		"invitation one verb":      func(c *Config) { c.Texts.Invitation = "Take %s?" },
		"invitation swapped verbs": func(c *Config) { c.Texts.Invitation = "%d questions in %s" },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(&cfg)
		if err := Normalize(&cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadReadsAppSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	yml := `telegram:
  token: from-yaml
database:
  name: botlab
survey:
  store: Redis
  ttl: 2h
redis:
  addr: localhost:6379
texts:
  completion: Done!
seed_commands:
  - trigger: price
    match_type: contains
    response: See the price list
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HTTP_API_KEY", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CoreConfig().Telegram.Token != "from-yaml" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.HTTP.APIKey != "secret" {
		t.Fatalf("api key = %q", cfg.HTTP.APIKey)
	}
	if cfg.Survey.Store != StoreRedis || cfg.Survey.TTL != 2*time.Hour {
		t.Fatalf("survey = %+v", cfg.Survey)
	}
	if len(cfg.SeedCommands) != 1 || cfg.SeedCommands[0].MatchType != domain.MatchContains {
		t.Fatalf("seed commands = %+v", cfg.SeedCommands)
	}
	if got := cfg.EngineOptions().CompletionText; got != "Done!" {
		t.Fatalf("completion text = %q", got)
	}
	if got := cfg.EngineOptions().NextLabel; got == "" {
		t.Fatalf("next label must keep its default")
	}
}
