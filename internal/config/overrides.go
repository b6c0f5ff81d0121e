package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ApplyOverrides applies command-line KEY=VALUE pairs onto the loaded
// configuration. Upper-cased keys matching a relay or logging setting
// update that setting; every other pair lands in the cvar set verbatim
// and is passed through to the relay at session start.
func (c *Config) ApplyOverrides(args []string) error {
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("malformed override %q, expected KEY=VALUE", arg)
		}
		if err := c.applyOverride(strings.TrimSpace(key), value); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyOverride(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch strings.ToUpper(key) {
	case "ROOM":
		c.RelayData.Room = value
	case "SEED":
		c.RelayData.Seed = value
	case "MODE":
		c.RelayData.Mode = strings.ToUpper(value)
	case "HOST", "HOSTNAME":
		c.RelayData.Hostname = value
	case "PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid port override %q: %w", value, err)
		}
		c.RelayData.Port = port
	case "CLIENT_ID":
		id, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid client id override %q: %w", value, err)
		}
		c.RelayData.PeerClientID = id
	case "LOG_LEVEL":
		c.ApplicationData.Logging.Level = strings.ToLower(value)
	default:
		if c.ApplicationData.CVars == nil {
			c.ApplicationData.CVars = make(map[string]string)
		}
		c.ApplicationData.CVars[key] = value
		log.Debug().Str("cvar", key).Msg("cvar override applied")
	}
	return nil
}
