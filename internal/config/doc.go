// Package config loads corpusprep configuration.
//
// Values come from three layers, lowest precedence first: built-in defaults
// that reproduce the original setup script, an optional config file
// (YAML, TOML, JSON or JSONC), and CORPUSPREP_* environment variables.
// Command-line flags are applied on top by the cli package.
package config
