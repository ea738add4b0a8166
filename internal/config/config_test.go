package config

import (
	"errors"
	"testing"
	"time"
)

// mockBackend is an in-memory ConfigBackend.
type mockBackend struct {
	strings map[string]string
	ints    map[string]int
	err     error
}

func newMockBackend() *mockBackend {
	return &mockBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (m *mockBackend) GetString(key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *mockBackend) GetInt(key string) (int, bool, error) {
	if m.err != nil {
		return 0, false, m.err
	}
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mockBackend) SetString(key, val string) error {
	m.strings[key] = val
	return nil
}

func (m *mockBackend) SetInt(key string, val int) error {
	m.ints[key] = val
	return nil
}

func (m *mockBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMockBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.AI.Provider != "gemini" {
		t.Errorf("AI.Provider = %q, want %q", cfg.AI.Provider, "gemini")
	}
	if cfg.AI.Timeout != 30*time.Second {
		t.Errorf("AI.Timeout = %v, want 30s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxOutputTokens != 1024 {
		t.Errorf("AI.MaxOutputTokens = %d, want 1024", cfg.AI.MaxOutputTokens)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if cfg.Worker.PollInterval != 500*time.Millisecond {
		t.Errorf("Worker.PollInterval = %v, want 500ms", cfg.Worker.PollInterval)
	}
	if !cfg.Records.Seed {
		t.Error("Records.Seed = false, want true")
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

func TestMissingSecretsAreNotAnError(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMockBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AI.APIKey != "" || cfg.Access.Key != "" {
		t.Errorf("secrets = %q/%q, want empty", cfg.AI.APIKey, cfg.Access.Key)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMockBackend()
	b.ints["server.port"] = 5000
	b.strings["storage.data_dir"] = "/tmp/historian-test"
	b.strings["ai.provider"] = "ollama"
	b.strings["ai.timeout"] = "45s"
	b.strings["records.seed"] = "false"
	b.strings["worker.poll_interval"] = "not-a-duration"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/historian-test" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/historian-test")
	}
	if cfg.AI.Provider != "ollama" {
		t.Errorf("AI.Provider = %q, want %q", cfg.AI.Provider, "ollama")
	}
	if cfg.AI.Timeout != 45*time.Second {
		t.Errorf("AI.Timeout = %v, want 45s", cfg.AI.Timeout)
	}
	if cfg.Records.Seed {
		t.Error("Records.Seed = true, want false")
	}
	if cfg.Worker.PollInterval != 500*time.Millisecond {
		t.Errorf("Worker.PollInterval = %v, want default after parse error", cfg.Worker.PollInterval)
	}
}

func TestBackendError(t *testing.T) {
	clearEnv(t)

	b := newMockBackend()
	b.err = errors.New("defaults unavailable")
	if _, err := loadWith(b, mockKeychain{}); err == nil {
		t.Fatal("expected error from failing backend")
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("HISTORIAN_SERVER_PORT", "6000")
	t.Setenv("HISTORIAN_AI_MODEL", "gemini-1.5-pro")
	t.Setenv("HISTORIAN_CACHE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("HISTORIAN_RECORDS_SEED", "0")

	b := newMockBackend()
	b.ints["server.port"] = 5000
	b.strings["ai.model"] = "from-backend"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.AI.Model != "gemini-1.5-pro" {
		t.Errorf("AI.Model = %q, want %q", cfg.AI.Model, "gemini-1.5-pro")
	}
	if cfg.Cache.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Cache.RedisURL = %q", cfg.Cache.RedisURL)
	}
	if cfg.Records.Seed {
		t.Error("Records.Seed = true, want false")
	}
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("HISTORIAN_SERVER_PORT", "not-a-port")
	t.Setenv("HISTORIAN_AI_TIMEOUT", "soon")

	cfg, err := loadWith(newMockBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.AI.Timeout != 30*time.Second {
		t.Errorf("AI.Timeout = %v, want 30s", cfg.AI.Timeout)
	}
}

func TestSecrets(t *testing.T) {
	kc := mockKeychain{values: map[string]string{
		"historian/ai_api_key": "kc-ai",
		"historian/access_key": "kc-access",
	}}

	t.Run("keychain fallback", func(t *testing.T) {
		clearEnv(t)
		cfg, err := loadWith(newMockBackend(), kc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.AI.APIKey != "kc-ai" {
			t.Errorf("AI.APIKey = %q, want %q", cfg.AI.APIKey, "kc-ai")
		}
		if cfg.Access.Key != "kc-access" {
			t.Errorf("Access.Key = %q, want %q", cfg.Access.Key, "kc-access")
		}
	})

	t.Run("env wins over keychain", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("HISTORIAN_AI_API_KEY", "env-ai")
		cfg, err := loadWith(newMockBackend(), kc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.AI.APIKey != "env-ai" {
			t.Errorf("AI.APIKey = %q, want %q", cfg.AI.APIKey, "env-ai")
		}
		if cfg.Access.Key != "kc-access" {
			t.Errorf("Access.Key = %q, want %q", cfg.Access.Key, "kc-access")
		}
	})

	t.Run("secrets ignored in backend", func(t *testing.T) {
		clearEnv(t)
		b := newMockBackend()
		b.strings["ai.api_key"] = "plain-text"
		cfg, err := loadWith(b, mockKeychain{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.AI.APIKey != "" {
			t.Errorf("AI.APIKey = %q, want empty", cfg.AI.APIKey)
		}
	})
}

func TestSetKey(t *testing.T) {
	var secrets []string
	setSecret := func(service, account, value string) error {
		secrets = append(secrets, service+"/"+account+"="+value)
		return nil
	}

	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{"server.port", "4200", false},
		{"server.port", "abc", true},
		{"ai.timeout", "1m", false},
		{"ai.timeout", "forever", true},
		{"records.seed", "false", false},
		{"records.seed", "maybe", true},
		{"ai.provider", "openrouter", false},
		{"no.such.key", "x", true},
		{"ai.api_key", "sk-1", false},
	}
	b := newMockBackend()
	for _, tt := range tests {
		err := setKeyWith(b, setSecret, tt.key, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("setKeyWith(%q, %q) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
		}
	}

	if b.ints["server.port"] != 4200 {
		t.Errorf("server.port = %d, want 4200", b.ints["server.port"])
	}
	if b.strings["ai.timeout"] != "1m" {
		t.Errorf("ai.timeout = %q, want %q", b.strings["ai.timeout"], "1m")
	}
	if _, ok := b.strings["ai.api_key"]; ok {
		t.Error("secret written to plain backend")
	}
	if len(secrets) != 1 || secrets[0] != "historian/ai_api_key=sk-1" {
		t.Errorf("secrets = %v", secrets)
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.AI.APIKey = "sk-secret"

	for _, ki := range ShowAll(cfg) {
		switch ki.Key {
		case "ai.api_key":
			if ki.Value != "(set)" {
				t.Errorf("ai.api_key shown as %q, want (set)", ki.Value)
			}
		case "access.key":
			if ki.Value != "(unset)" {
				t.Errorf("access.key shown as %q, want (unset)", ki.Value)
			}
		case "ai.timeout":
			if ki.Value != "30s" {
				t.Errorf("ai.timeout shown as %q, want 30s", ki.Value)
			}
		}
	}
	if len(ShowAll(cfg)) != len(ValidKeys()) {
		t.Errorf("ShowAll has %d keys, ValidKeys %d", len(ShowAll(cfg)), len(ValidKeys()))
	}
}

func TestIsSecret(t *testing.T) {
	for key, want := range map[string]bool{
		"access.key":  true,
		"ai.api_key":  true,
		"server.port": false,
		"nope":        false,
	} {
		if got := IsSecret(key); got != want {
			t.Errorf("IsSecret(%q) = %v, want %v", key, got, want)
		}
	}
}
