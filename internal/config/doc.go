// Package config loads, validates, and normalizes Lighthouse
// configuration from TOML files with environment fallbacks for
// deployment-specific values.
package config
