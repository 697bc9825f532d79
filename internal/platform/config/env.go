package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type validator interface {
	Validate() error
}

// ParseEnv loads configuration from environment variables.
//
// Targets implementing Validate() error are validated after parsing.
func ParseEnv(target any) error {
	return ParseEnvWithPrefix(target, "")
}

// ParseEnvWithPrefix loads configuration from environment variables whose
// names carry prefix in front of the struct tag names.
func ParseEnvWithPrefix(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if v, ok := target.(validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}
	return nil
}
