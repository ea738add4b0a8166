//go:build !darwin

package config

import (
	"fmt"
)

// Without a system keychain, secrets live in a per-user JSON file shaped
// {service: {account: value}}.
type secretFile map[string]map[string]string

func secretsFilePath() string {
	return xdgPath("XDG_DATA_HOME", ".local/share", "secrets.json")
}

func keychainExec(service, account string) ([]byte, error) {
	secrets := secretFile{}
	if err := readJSONFile(secretsFilePath(), &secrets); err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret %s/%s", service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	path := secretsFilePath()
	secrets := secretFile{}
	if err := readJSONFile(path, &secrets); err != nil {
		// A corrupt file is replaced rather than blocking the write.
		secrets = secretFile{}
	}
	if secrets[service] == nil {
		secrets[service] = map[string]string{}
	}
	secrets[service][account] = value
	return writeJSONFile(path, secrets)
}
