// Copyright 2025 Certen Protocol
//
// Package config loads the operator-facing settings a burnchaindb process
// needs: where the store lives, what genesis it must agree with, the PoX
// schedule, and the busy-handler's retry budget.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/burnchaindb/pkg/burnchain"
)

// Config holds all configuration for a burnchaindb process.
type Config struct {
	// Store configuration
	StorePath string
	ReadOnly  bool

	// Genesis / PoX schedule. The genesis height, hash and timestamp are
	// seeded into a brand-new store, and height and hash are checked against
	// an existing one on every open (spec §5 supplement); the PoX schedule is
	// not recorded in or checked against the store.
	FirstBlockHeight    uint64
	FirstBlockHash      string
	FirstBlockTimestamp uint64
	RewardCycleLength   uint64
	PrepareLength       uint64

	// Concurrency
	BusyTimeout     time.Duration
	RetryMaxElapsed time.Duration

	LogLevel string
}

// Load reads configuration from environment variables. Call Validate()
// afterward before using the result to open a store.
func Load() (*Config, error) {
	cfg := &Config{
		StorePath: getEnv("BURNCHAINDB_PATH", ""),
		ReadOnly:  getEnvBool("BURNCHAINDB_READ_ONLY", false),

		FirstBlockHeight:    getEnvUint64("BURNCHAINDB_FIRST_BLOCK_HEIGHT", 0),
		FirstBlockHash:      getEnv("BURNCHAINDB_FIRST_BLOCK_HASH", ""),
		FirstBlockTimestamp: getEnvUint64("BURNCHAINDB_FIRST_BLOCK_TIMESTAMP", 0),
		RewardCycleLength:   getEnvUint64("BURNCHAINDB_REWARD_CYCLE_LENGTH", 2100),
		PrepareLength:       getEnvUint64("BURNCHAINDB_PREPARE_LENGTH", 100),

		BusyTimeout:     getEnvDuration("BURNCHAINDB_BUSY_TIMEOUT", 5*time.Second),
		RetryMaxElapsed: getEnvDuration("BURNCHAINDB_RETRY_MAX_ELAPSED", 30*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Validate checks that all settings required to open a store are present
// and well-formed.
func (c *Config) Validate() error {
	var errs []string

	if c.StorePath == "" {
		errs = append(errs, "BURNCHAINDB_PATH is required but not set")
	}
	if c.FirstBlockHash == "" {
		errs = append(errs, "BURNCHAINDB_FIRST_BLOCK_HASH is required but not set")
	} else if !strings.HasPrefix(c.FirstBlockHash, "0x") || len(c.FirstBlockHash) != 66 {
		errs = append(errs, "BURNCHAINDB_FIRST_BLOCK_HASH must be a 0x-prefixed 32-byte hex hash")
	}
	if c.RewardCycleLength == 0 {
		errs = append(errs, "BURNCHAINDB_REWARD_CYCLE_LENGTH must be nonzero")
	}
	if c.PrepareLength == 0 || c.PrepareLength >= c.RewardCycleLength {
		errs = append(errs, "BURNCHAINDB_PREPARE_LENGTH must be nonzero and smaller than the reward cycle length")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Burnchain builds the burnchain parameters this config describes.
func (c *Config) Burnchain() *burnchain.Burnchain {
	return &burnchain.Burnchain{
		FirstBlockHeight:    c.FirstBlockHeight,
		FirstBlockHash:      burnchain.BlockHash(common.HexToHash(c.FirstBlockHash)),
		FirstBlockTimestamp: c.FirstBlockTimestamp,
		PoxConstants: burnchain.PoxConstants{
			RewardCycleLength: c.RewardCycleLength,
			PrepareLength:     c.PrepareLength,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
