package encryption

import (
	"fmt"

	"wpsync/internal/config"
	"wpsync/internal/wp"
)

// Sealer is a wp.TokenSealer whose key material can be generated on first use.
type Sealer interface {
	wp.TokenSealer
	Setup() error
	IsConfigured() bool
}

// NewSealerFromConfig creates a Sealer based on the configuration type.
func NewSealerFromConfig(cfg config.EncryptionConfig) (Sealer, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.KeyPath == "" {
			return nil, fmt.Errorf("key_path required for age encryption")
		}
		return NewAgeSealer(cfg), nil
	case "test":
		return NewTestSealer(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
