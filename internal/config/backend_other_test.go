//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "historian", "config.json")

	b := openFileBackend(path)
	if err := b.SetInt("server.port", 4200); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("ai.provider", "ollama"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}

	reopened := openFileBackend(path)
	if port, ok, err := reopened.GetInt("server.port"); err != nil || !ok || port != 4200 {
		t.Errorf("GetInt = %d, %v, %v; want 4200", port, ok, err)
	}
	if p, ok, _ := reopened.GetString("ai.provider"); !ok || p != "ollama" {
		t.Errorf("GetString = %q, %v; want ollama", p, ok)
	}

	if err := reopened.Delete("ai.provider"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := openFileBackend(path).GetString("ai.provider"); ok {
		t.Error("deleted key still present")
	}
}

func TestFileBackend_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{not json"), 0o600)

	b := openFileBackend(path)
	if _, ok, err := b.GetString("ai.provider"); ok || err != nil {
		t.Errorf("GetString on corrupt file = %v, %v; want not found", ok, err)
	}
}

func TestSecretsFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := keychainExec("historian", "ai_api_key"); err == nil {
		t.Fatal("expected error before any secret is stored")
	}
	if err := keychainSet("historian", "ai_api_key", "sk-file"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	got, err := keychainReader{}.Get("historian", "ai_api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-file" {
		t.Errorf("Get = %q, want %q", got, "sk-file")
	}
	if _, err := keychainExec("historian", "access_key"); err == nil {
		t.Error("expected error for missing account")
	}
}
