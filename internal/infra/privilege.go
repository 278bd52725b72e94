package infra

import (
	"os"
	"os/user"
)

// Privileges describes the rights the launcher runs with. The helper's
// packet driver only loads for an elevated process.
type Privileges struct {
	Elevated bool   `json:"elevated"`
	User     string `json:"user"`
}

// DetectPrivileges reports whether the process is elevated and which user
// started it.
func DetectPrivileges() Privileges {
	return Privileges{
		Elevated: isElevated(),
		User:     RealUser(),
	}
}

// RealUser returns the invoking user's name, even when running under sudo.
func RealUser() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		return sudoUser
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
