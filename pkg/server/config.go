package server

import "time"

// Config holds the HTTP server configuration
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// DataDir selects the file engine when set; empty keeps the
	// engine in memory
	DataDir string

	// BadgerDir selects the BadgerDB engine when set
	BadgerDir string

	// OplogEnabled switches oplog emission and the tail endpoint on
	OplogEnabled bool
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            27777,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		OplogEnabled:    true,
	}
}
