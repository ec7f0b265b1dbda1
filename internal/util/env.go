package util

import (
	"os"
	"strings"
)

// Truthy reports whether s is one of the accepted "on" spellings for boolean
// environment variables: "true", "1", or "t", case-insensitively.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "t":
		return true
	}
	return false
}

// TruthyEnv reports whether the named environment variable is set to a truthy
// value. Unset and empty variables are false.
func TruthyEnv(name string) bool {
	return Truthy(os.Getenv(name))
}
