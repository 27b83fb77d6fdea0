package model

import (
	"strings"
	"testing"
)

func TestDefaultConfig_Validates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Expected default config to validate, got %v", err)
	}
}

func TestConfig_Validate_NamesField(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Witness.CoolingRate = 1.5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error for cooling rate above 1")
	}
	if !strings.Contains(err.Error(), "CoolingRate") {
		t.Errorf("Expected error to name CoolingRate, got %v", err)
	}
}

func TestConfig_Validate_UnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Provider = "carrier-pigeon"

	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for unknown LLM provider")
	}
}
