package main

import (
	"testing"

	"github.com/YunHaaaa/fedPrune/internal/config"
)

func TestRunFlagOverridesCascadeIntoDerivedFields(t *testing.T) {
	cmd := newRunCmd()
	if err := cmd.Flags().Set("rounds", "50"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("sparsity", "0.8"); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	applyOverrides(cmd, &cfg)
	cfg = cfg.WithDerived()

	if cfg.RateDecayEnd != 25 {
		t.Errorf("RateDecayEnd = %d, want 25 derived from --rounds", cfg.RateDecayEnd)
	}
	if cfg.FinalSparsity != 0.8 {
		t.Errorf("FinalSparsity = %v, want 0.8 derived from --sparsity", cfg.FinalSparsity)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("overridden config invalid: %v", err)
	}
}

func TestRunFlagOverridesKeepExplicitValues(t *testing.T) {
	cmd := newRunCmd()
	if err := cmd.Flags().Set("rounds", "50"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("final-sparsity", "0.9"); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	applyOverrides(cmd, &cfg)
	cfg = cfg.WithDerived()

	if cfg.FinalSparsity != 0.9 {
		t.Errorf("FinalSparsity = %v, want the explicit 0.9 over the derivation", cfg.FinalSparsity)
	}
}
