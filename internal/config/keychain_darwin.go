//go:build darwin

package config

import "os/exec"

// security(1) manages generic passwords in the login keychain. -U updates an
// existing item in place.
func security(args ...string) *exec.Cmd {
	return exec.Command("security", args...)
}

func keychainExec(service, account string) ([]byte, error) {
	return security("find-generic-password", "-s", service, "-a", account, "-w").Output()
}

func keychainSet(service, account, value string) error {
	return security("add-generic-password", "-U", "-s", service, "-a", account, "-w", value).Run()
}
