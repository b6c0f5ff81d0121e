// Package config handles configuration loading, validation, and persistence
// for the Paceline race client.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5000
	DefaultRelayPort  = 38281
)

// Race modes. KICKOFF races start fresh from the configured seed; ONGOING
// races admit participants that already carry matching progress.
const (
	ModeKickoff = "KICKOFF"
	ModeOngoing = "ONGOING"
)

// Config is the root configuration structure for Paceline.
type Config struct {
	mu   sync.RWMutex
	path string

	RelayData       RelayData       `json:"relay_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// RelayData contains race and relay connection configuration.
type RelayData struct {
	// Race identity
	Room string `json:"room"`
	Seed string `json:"seed"`
	Mode string `json:"mode"`

	// Relay endpoint
	Hostname string `json:"relay_hostname"`
	Port     int    `json:"relay_port"`

	// Identity assigned to the peer on the other side of the connection
	PeerClientID int `json:"peer_client_id"`
}

// Addr returns the relay endpoint in host:port form.
func (r RelayData) Addr() string {
	return net.JoinHostPort(r.Hostname, strconv.Itoa(r.Port))
}

// ApplicationData contains client application configuration.
type ApplicationData struct {
	CVars   map[string]string `json:"cvars"`
	API     APIConfig         `json:"api"`
	MQTT    MQTTConfig        `json:"mqtt"`
	Journal JournalConfig     `json:"journal"`
	Logging LoggingConfig     `json:"logging"`
}

// APIConfig holds local REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	UseTLS         bool     `json:"use_tls"`
	CertFile       string   `json:"cert_file"`
	KeyFile        string   `json:"key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// JournalConfig holds race journal settings.
type JournalConfig struct {
	Enabled       bool   `json:"enabled"`
	Directory     string `json:"directory"`
	RetentionDays int    `json:"retention_days"`
	PruneTime     string `json:"prune_time"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RelayData: RelayData{
			Mode:         ModeKickoff,
			Hostname:     "localhost",
			Port:         DefaultRelayPort,
			PeerClientID: 1,
		},
		ApplicationData: ApplicationData{
			CVars: map[string]string{},
			API: APIConfig{
				Enabled:        true,
				Port:           DefaultAPIPort,
				AllowedOrigins: []string{"http://localhost:3000"},
				RateLimitRPS:   100,
				UseTLS:         false,
				CertFile:       "data/api-cert.pem",
				KeyFile:        "data/api-key.pem",
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
			},
			Journal: JournalConfig{
				Enabled:       true,
				Directory:     "data",
				RetentionDays: 30,
				PruneTime:     "04:00",
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
				Console:    true,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	// This ensures config.json always reflects the complete set of options.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Ensure config directory exists
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetRelayData returns a copy of the relay configuration.
func (c *Config) GetRelayData() RelayData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RelayData
}

// SetRelayData updates the relay configuration.
func (c *Config) SetRelayData(data RelayData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RelayData = data
}

// GetApplicationData returns a copy of the application configuration.
// The CVars map is copied so callers cannot mutate shared state.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data := c.ApplicationData
	data.CVars = copyCVars(c.ApplicationData.CVars)
	return data
}

// GetCVars returns a copy of the static cvar set announced to the relay.
func (c *Config) GetCVars() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyCVars(c.ApplicationData.CVars)
}

// SetCVar sets one cvar value.
func (c *Config) SetCVar(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ApplicationData.CVars == nil {
		c.ApplicationData.CVars = make(map[string]string)
	}
	c.ApplicationData.CVars[key] = value
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RelayData.Room == "" || c.RelayData.Seed == ""
}

func copyCVars(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
