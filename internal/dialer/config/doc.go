// Package config loads the dialer configuration from defaults, an optional
// YAML file, .env files and DIALER_* environment variables, and command
// line flags, in that order of precedence.
package config
