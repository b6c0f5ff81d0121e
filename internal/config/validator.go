package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateRelayData(&cfg.RelayData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateRelayData(data *RelayData, result *ValidationResult) {
	// Required fields
	if strings.TrimSpace(data.Room) == "" {
		result.AddError("relay_data.room", "race room is required")
	}

	if strings.TrimSpace(data.Seed) == "" {
		result.AddError("relay_data.seed", "race seed is required")
	}

	switch data.Mode {
	case ModeKickoff, ModeOngoing:
	case "":
		result.AddError("relay_data.mode", "race mode is required")
	default:
		result.AddError("relay_data.mode",
			fmt.Sprintf("unknown race mode %q (must be %s or %s)", data.Mode, ModeKickoff, ModeOngoing))
	}

	if strings.TrimSpace(data.Hostname) == "" {
		result.AddError("relay_data.relay_hostname", "relay hostname is required")
	}
	validatePort(data.Port, "relay_data.relay_port", result)

	if data.PeerClientID < 0 {
		result.AddError("relay_data.peer_client_id", "peer client id cannot be negative")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	// API
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
		if data.API.UseTLS && (data.API.CertFile == "" || data.API.KeyFile == "") {
			result.AddError("application_data.api.cert_file",
				"certificate and key paths are required when TLS is enabled")
		}
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
		if data.MQTT.UseTLS && data.MQTT.CertFile != "" && data.MQTT.KeyFile == "" {
			result.AddError("application_data.mqtt.key_file",
				"MQTT client key file is required when a certificate is configured")
		}
	}

	// Journal
	if data.Journal.Enabled {
		if strings.TrimSpace(data.Journal.Directory) == "" {
			result.AddError("application_data.journal.directory", "journal directory is required when enabled")
		}
		if data.Journal.RetentionDays < 0 {
			result.AddError("application_data.journal.retention_days", "retention days cannot be negative")
		}
		if data.Journal.PruneTime != "" && !strings.Contains(data.Journal.PruneTime, ":") {
			result.AddWarning("application_data.journal.prune_time",
				fmt.Sprintf("invalid prune time %q, the default 04:00 will be used", data.Journal.PruneTime))
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
