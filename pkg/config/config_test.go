package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FABLEBOT_TELEGRAM_TOKEN", "123:abc")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Backend.BaseURL != "http://localhost:1234/v1" {
		t.Fatalf("base URL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.TimeoutSeconds != 300 {
		t.Fatalf("timeout = %d, want 300", cfg.Backend.TimeoutSeconds)
	}
	if cfg.Chat.HistoryWindow != 10 {
		t.Fatalf("history window = %d, want 10", cfg.Chat.HistoryWindow)
	}
	if cfg.Chat.MaxMessageLength != 4096 {
		t.Fatalf("max message length = %d, want 4096", cfg.Chat.MaxMessageLength)
	}
	if !cfg.Memory.DefaultEnabled {
		t.Fatalf("memory should default to enabled")
	}
	if cfg.Memory.ConsolidationInterval != 15 {
		t.Fatalf("consolidation interval = %d, want 15", cfg.Memory.ConsolidationInterval)
	}
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("FABLEBOT_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("FABLEBOT_TELEGRAM_ALLOW_FROM", "111,222|alice")
	t.Setenv("FABLEBOT_BACKEND_MODEL", "mistral-small")
	t.Setenv("FABLEBOT_MEMORY_DEFAULT_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Telegram.AllowFrom) != 2 || cfg.Telegram.AllowFrom[1] != "222|alice" {
		t.Fatalf("allow from = %v", cfg.Telegram.AllowFrom)
	}
	if cfg.Backend.Model != "mistral-small" {
		t.Fatalf("model = %q", cfg.Backend.Model)
	}
	if cfg.Memory.DefaultEnabled {
		t.Fatalf("memory override ignored")
	}
}

func TestValidateRejectsMissingToken(t *testing.T) {
	t.Setenv("FABLEBOT_TELEGRAM_TOKEN", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("validate accepted an empty token")
	}
}

func TestDerivedPathsLiveUnderDataDir(t *testing.T) {
	t.Setenv("FABLEBOT_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("FABLEBOT_DATA_DIR", "/var/lib/fablebot")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabasePath() != filepath.Join("/var/lib/fablebot", "conversations.db") {
		t.Fatalf("db path = %q", cfg.DatabasePath())
	}
	if cfg.StatePath() != filepath.Join("/var/lib/fablebot", "chat_state.json") {
		t.Fatalf("state path = %q", cfg.StatePath())
	}
}

func TestCatalogLookups(t *testing.T) {
	if _, ok := PersonaByName(DefaultPersonaName); !ok {
		t.Fatalf("default persona missing from catalog")
	}
	if _, ok := SceneryByName(DefaultSceneryName); !ok {
		t.Fatalf("default scenery missing from catalog")
	}
	if _, ok := PersonaByName("No Such Persona"); ok {
		t.Fatalf("lookup invented a persona")
	}
	for _, s := range Sceneries {
		if s.Name == "" || s.Description == "" {
			t.Fatalf("scenery with empty fields: %+v", s)
		}
	}
}
