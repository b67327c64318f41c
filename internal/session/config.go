package session

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/registry"
)

// maxKeepAlive is the largest keep-alive the protocol can encode (seconds).
const maxKeepAlive = math.MaxUint16 * time.Second

// Config is the immutable description of the broker session.
type Config struct {
	// Endpoint is the broker URI, e.g. "tcp://localhost:1883" or "ssl://broker:8883".
	Endpoint string

	// ClientID identifies the session on the broker.
	ClientID string

	// Username and Password are optional credentials.
	Username string
	Password string

	// KeepAlive is the MQTT keep-alive interval, in whole seconds.
	KeepAlive time.Duration

	// CleanStart discards any broker-side session state on connect.
	CleanStart bool

	// SessionExpiry is how long the broker keeps the session after a drop
	// (MQTT 5 only).
	SessionExpiry time.Duration

	// Will is the optional last-will message.
	Will *Will

	// Registry is the topic set subscribed on every (re)connect.
	Registry *registry.Registry
}

// Will is a last-will message published by the broker on unclean disconnect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Default broker ports, used when the endpoint omits one.
const (
	DefaultPort       = "1883"
	DefaultSecurePort = "8883"
)

// supportedSchemes lists the endpoint schemes the broker adapters can dial.
var supportedSchemes = map[string]bool{
	"tcp":   true,
	"mqtt":  true,
	"ssl":   true,
	"tls":   true,
	"mqtts": true,
}

// secureSchemes are the schemes dialled over TLS.
var secureSchemes = map[string]bool{
	"ssl":   true,
	"tls":   true,
	"mqtts": true,
}

// Validate checks the configuration. Every failure wraps ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []string

	if c.Endpoint == "" {
		errs = append(errs, "endpoint is required")
	} else if u, err := url.Parse(c.Endpoint); err != nil {
		errs = append(errs, fmt.Sprintf("endpoint %q: %v", c.Endpoint, err))
	} else {
		if !supportedSchemes[strings.ToLower(u.Scheme)] {
			errs = append(errs, fmt.Sprintf("endpoint scheme %q is not supported", u.Scheme))
		}
		if u.Hostname() == "" {
			errs = append(errs, "endpoint host is required")
		}
	}

	if c.ClientID == "" {
		errs = append(errs, "client id is required")
	}
	if c.KeepAlive < 0 || c.KeepAlive > maxKeepAlive {
		errs = append(errs, "keep-alive must be between 0 and 65535 seconds")
	}
	if c.SessionExpiry < 0 || c.SessionExpiry > time.Duration(math.MaxUint32)*time.Second {
		errs = append(errs, "session expiry must be between 0 and 4294967295 seconds")
	}
	if c.Will != nil {
		if c.Will.Topic == "" {
			errs = append(errs, "will topic is required when a will is set")
		}
		if c.Will.QoS > 2 {
			errs = append(errs, "will qos must be 0, 1, or 2")
		}
	}
	if c.Registry == nil || c.Registry.Len() == 0 {
		errs = append(errs, "topic registry is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// KeepAliveSeconds returns the keep-alive as the protocol's uint16 seconds.
func (c Config) KeepAliveSeconds() uint16 {
	return uint16(c.KeepAlive / time.Second) // #nosec G115 -- bounded by Validate
}

// SessionExpirySeconds returns the session expiry as the protocol's uint32 seconds.
func (c Config) SessionExpirySeconds() uint32 {
	return uint32(c.SessionExpiry / time.Second) // #nosec G115 -- bounded by Validate
}

// Secure reports whether the endpoint is dialled over TLS.
func (c Config) Secure() bool {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return false
	}
	return secureSchemes[strings.ToLower(u.Scheme)]
}

// Address returns the endpoint's host:port, filling in the protocol's
// default port when the endpoint has none.
func (c Config) Address() string {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = DefaultPort
		if secureSchemes[strings.ToLower(u.Scheme)] {
			port = DefaultSecurePort
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}
