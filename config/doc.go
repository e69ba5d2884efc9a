// Package config loads the relay configuration from an optional YAML file,
// environment variables and command line flags. It defines the listener,
// the loopback tunnel backend, timeouts, the tunnel probe, the admin
// listener and logging settings, and validates them before use.
package config
