// Package identity derives best-effort platform identity (hostname,
// login user, pid, platform) used to synthesize a default agent name
// when the operator does not supply one (spec.md §6 "Environment",
// SPEC_FULL.md §4.10).
package identity

import (
	"fmt"
	"os"
	"os/user"
	"runtime"
)

const unknown = "unknown"

// Hostname returns the machine hostname, degrading to "unknown" on
// failure.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return unknown
	}
	return h
}

// User returns the current login user's name, degrading to "unknown" on
// failure.
func User() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return unknown
	}
	return u.Username
}

// Platform returns the Go runtime's GOOS string.
func Platform() string {
	if runtime.GOOS == "" {
		return unknown
	}
	return runtime.GOOS
}

// DefaultAgent synthesizes the default agent identity from hostname, pid,
// user, and platform when the operator does not pass -a/--agent.
func DefaultAgent() string {
	return fmt.Sprintf("%s-%d-%s-%s", Hostname(), os.Getpid(), User(), Platform())
}
