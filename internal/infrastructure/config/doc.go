// Package config handles loading and validating the forwarder configuration.
//
// This package manages:
//   - Loading configuration from a YAML file
//   - Overriding secrets and endpoints with FORWARDER_* environment variables
//   - Validation that reports every problem at once
//   - Default values matching the forwarder's reconnect behaviour
//
// Security Considerations:
//   - Broker passwords, MySQL DSNs and InfluxDB tokens should come from the
//     environment, not the file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    return err
//	}
//	reg, err := cfg.Registry()
package config
