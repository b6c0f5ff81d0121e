// Package telemetry publishes race telemetry to an MQTT broker. It is an
// optional integration for race dashboards and overlay tooling that want
// push updates without polling the REST API.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/paceline-project/paceline/internal/config"
	"github.com/paceline-project/paceline/internal/events"
	"github.com/paceline-project/paceline/internal/util"
)

// MQTT topics
const (
	TopicRaceStatus       = "race/status"
	TopicRaceParticipants = "race/participants"
	TopicRaceResets       = "race/resets"
	TopicRaceAdmin        = "race/admin"
)

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	// Build system metadata
	sysInfo := util.GetSystemInfo()
	relayCfg := cfg.GetRelayData()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"platform":    sysInfo.Platform,
		"room":        relayCfg.Room,
		"mode":        relayCfg.Mode,
		"app_version": "1.0.0",
	}
	if ip, err := util.GetLocalIP(); err == nil {
		metadata["local_ip"] = ip
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: metadata,
	}

	// Configure MQTT client
	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("paceline-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	// TLS configuration
	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// Private CA for the broker certificate
		if mqttCfg.CAFile != "" {
			caCert, err := os.ReadFile(mqttCfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("no certificates found in MQTT CA file %s", mqttCfg.CAFile)
			}
			tlsConfig.RootCAs = pool
		}

		// mTLS: load client certificate
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	// Connection callbacks
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker and subscribes to events. It blocks
// until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	// Subscribe to EventBus events for publishing
	h.subscribeEvents()

	// Block until context cancelled
	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventRelayConnected, "mqtt.relayConnected", h.onRelayConnected)
	h.eventBus.Subscribe(events.EventRelayDisconnected, "mqtt.relayDisconnected", h.onRelayDisconnected)
	h.eventBus.Subscribe(events.EventParticipantJoined, "mqtt.participantJoined", h.onParticipantJoined)
	h.eventBus.Subscribe(events.EventParticipantUpdated, "mqtt.participantUpdated", h.onParticipantUpdated)
	h.eventBus.Subscribe(events.EventCorrectionIssued, "mqtt.correctionIssued", h.onCorrectionIssued)
	h.eventBus.Subscribe(events.EventResetOrdered, "mqtt.resetOrdered", h.onResetOrdered)
	h.eventBus.Subscribe(events.EventAnchorChanged, "mqtt.anchorChanged", h.onAnchorChanged)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	// Merge metadata with payload
	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	// Add metadata
	for k, v := range h.metadata {
		msg[k] = v
	}

	// Add payload
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onRelayConnected(ctx context.Context, event events.Event) error {
	h.publish(TopicRaceStatus, map[string]interface{}{
		"event":   "connected",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onRelayDisconnected(ctx context.Context, event events.Event) error {
	h.publish(TopicRaceStatus, map[string]interface{}{
		"event":   "disconnected",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onParticipantJoined(ctx context.Context, event events.Event) error {
	h.publish(TopicRaceParticipants, map[string]interface{}{
		"event":   "joined",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onParticipantUpdated(ctx context.Context, event events.Event) error {
	h.publish(TopicRaceParticipants, map[string]interface{}{
		"event":   "updated",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onCorrectionIssued(ctx context.Context, event events.Event) error {
	h.publish(TopicRaceResets, map[string]interface{}{
		"event":   "correction",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onResetOrdered(ctx context.Context, event events.Event) error {
	h.publish(TopicRaceResets, map[string]interface{}{
		"event":   "reset",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onAnchorChanged(ctx context.Context, event events.Event) error {
	h.publish(TopicRaceAdmin, map[string]interface{}{
		"event":   "anchor",
		"payload": event.Payload,
	})
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicRaceAdmin, map[string]interface{}{
		"event":     "shutdown",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
