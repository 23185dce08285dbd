package transport

import (
	"fmt"
	"os"

	"etfmm/internal/config"
)

// ResolveTeamToken returns the team token to authenticate the gateway
// handshake with, in priority order: an explicitly supplied token, the
// DELTA_TOKEN environment variable, then the built-in default. Returns an
// error only when none of the three yields a non-empty token — a missing
// token is a fatal startup condition, never a per-tick one.
func ResolveTeamToken(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(config.TeamTokenEnvVar); env != "" {
		return env, nil
	}
	if config.DefaultTeamToken != "" {
		return config.DefaultTeamToken, nil
	}
	return "", fmt.Errorf("team token is required: set %s or pass one explicitly", config.TeamTokenEnvVar)
}
