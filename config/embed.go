// Package config provides embedded default configuration for Code Cowboy.
package config

import (
	_ "embed"
)

// DefaultConfigYAML contains the embedded default configuration in YAML
// format. It is the baseline when no ~/.cowboyrc exists, and the reference
// for writing one.
//
//go:embed config.default.yaml
var DefaultConfigYAML []byte
