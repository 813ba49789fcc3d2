package database

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// WriteConcern is the default durability request attached to writes
type WriteConcern struct {
	W int  `mapstructure:"w"`
	J bool `mapstructure:"j"`
}

// Config holds the engine configuration
type Config struct {
	// CursorTTL is how long an idle cursor survives before the
	// reaper closes it
	CursorTTL time.Duration `mapstructure:"-"`

	// CursorTTLMillis is the map/file representation of CursorTTL
	CursorTTLMillis int64 `mapstructure:"cursor_ttl_ms"`

	// MaxBatchSize caps the number of documents per cursor batch
	MaxBatchSize int `mapstructure:"max_batch_size"`

	// OplogEnabled switches oplog emission on
	OplogEnabled bool `mapstructure:"oplog_enabled"`

	// DefaultWriteConcern applies to writes without an explicit one
	DefaultWriteConcern WriteConcern `mapstructure:"default_write_concern"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		CursorTTL:    10 * time.Minute,
		MaxBatchSize: 101,
		OplogEnabled: false,
		DefaultWriteConcern: WriteConcern{
			W: 1,
			J: false,
		},
	}
}

// ConfigFromMap decodes a configuration map, filling unset options
// with their defaults
func ConfigFromMap(m map[string]interface{}) (*Config, error) {
	config := DefaultConfig()
	config.CursorTTLMillis = config.CursorTTL.Milliseconds()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           config,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if config.CursorTTLMillis <= 0 {
		return nil, fmt.Errorf("cursor_ttl_ms must be positive")
	}
	if config.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max_batch_size must be positive")
	}
	config.CursorTTL = time.Duration(config.CursorTTLMillis) * time.Millisecond
	return config, nil
}
