package config

import (
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Access  AccessConfig
	AI      AIConfig
	Ollama  OllamaConfig
	Cache   CacheConfig
	Worker  WorkerConfig
	Records RecordsConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type AccessConfig struct {
	Key string
}

// AIConfig selects the text-generation provider. An empty Model means the
// provider's default.
type AIConfig struct {
	Provider        string
	BaseURL         string
	Model           string
	APIKey          string
	Timeout         time.Duration
	MaxOutputTokens int
}

type OllamaConfig struct {
	BaseURL string
}

// CacheConfig enables the Redis reference cache when RedisURL is set.
type CacheConfig struct {
	RedisURL string
}

type WorkerConfig struct {
	PollInterval time.Duration
}

type RecordsConfig struct {
	Seed bool
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		AI: AIConfig{
			Provider:        "gemini",
			Timeout:         30 * time.Second,
			MaxOutputTokens: 1024,
		},
		Ollama:  OllamaConfig{BaseURL: "http://localhost:11434"},
		Worker:  WorkerConfig{PollInterval: 500 * time.Millisecond},
		Records: RecordsConfig{Seed: true},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.historian.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/historian/config.json
// and secrets fall back to $XDG_DATA_HOME/historian/secrets.json.
//
// Environment variables (HISTORIAN_*) override backend values on all
// platforms. Missing secrets are not an error: the access gate stays locked
// and generation reports a missing key.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "historian"

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
