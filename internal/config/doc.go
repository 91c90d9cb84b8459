// Package config provides configuration management for the keygate engine.
//
// Configuration is loaded from environment variables with the KEYGATE prefix,
// overlaid with an optional YAML file (keygate.yaml or $KEYGATE_CONFIG).
// Environment variables take precedence over file values.
//
// Policy constants (grace period, renewal interval, clock-skew tolerance)
// live here so deployments can tune offline tolerance without code changes.
package config
