package mqtt

import (
	"crypto/tls"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
)

// Connection constants.
const (
	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultBufferSize is the inbound message buffer when none is configured.
	defaultBufferSize = 100

	// protocolVersion311 is the MQTT 3.1.1 protocol level.
	protocolVersion311 = 4

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// subackFailure is the SUBACK return code for a refused topic.
	subackFailure = 0x80

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho options for one connection attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// from the endpoint scheme, default port filled in)
//   - Client ID, credentials and clean-session flag
//   - Keep-alive and last will
//   - No automatic reconnect, connect retry or subscription resume
//   - In-order delivery so the inbound buffer applies back-pressure
func buildClientOptions(cfg session.Config, tlsConfig *tls.Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Secure() {
		scheme = "ssl"
	}
	opts.AddBroker(scheme + "://" + cfg.Address())

	opts.SetClientID(cfg.ClientID)
	opts.SetProtocolVersion(protocolVersion311)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// MQTT 3.1.1 has a single flag for "discard state on connect".
	opts.SetCleanSession(cfg.CleanStart)

	// The session manager owns reconnection and resubscription.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetResumeSubs(false)

	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetOrderMatters(true)

	if cfg.Will != nil {
		opts.SetBinaryWill(cfg.Will.Topic, cfg.Will.Payload, cfg.Will.QoS, cfg.Will.Retain)
	}

	if cfg.Secure() {
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tlsMinVersion}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}

// connectTimeout derives paho's connect timeout from a context deadline.
func connectTimeout(deadline time.Time, ok bool) time.Duration {
	if !ok {
		return 0
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return time.Millisecond
}
