package config

// ConfigBackend is where non-secret settings persist between runs: a JSON
// file on Linux and UserDefaults on macOS. ok is false for keys that were
// never written.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
