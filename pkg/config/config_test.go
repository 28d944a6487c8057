// Copyright 2025 Certen Protocol
package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BURNCHAINDB_PATH", "")
	t.Setenv("BURNCHAINDB_FIRST_BLOCK_HASH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RewardCycleLength != 2100 {
		t.Fatalf("RewardCycleLength = %d, want default 2100", cfg.RewardCycleLength)
	}
	if cfg.PrepareLength != 100 {
		t.Fatalf("PrepareLength = %d, want default 100", cfg.PrepareLength)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to fail without a store path or genesis hash")
	}
}

func TestValidateRequiresWellFormedGenesisHash(t *testing.T) {
	cfg := &Config{
		StorePath:         "/tmp/burnchain.sqlite",
		FirstBlockHash:    "not-hex",
		RewardCycleLength: 2100,
		PrepareLength:     100,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject a malformed genesis hash")
	}

	cfg.FirstBlockHash = "0x" + "11" + hexRepeat("00", 31)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected well-formed config to validate, got %v", err)
	}
}

func TestValidateRejectsPrepareLengthNotSmallerThanCycleLength(t *testing.T) {
	cfg := &Config{
		StorePath:         "/tmp/burnchain.sqlite",
		FirstBlockHash:    "0x" + hexRepeat("ab", 32),
		RewardCycleLength: 100,
		PrepareLength:     100,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject prepare length equal to cycle length")
	}
}

func hexRepeat(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}
