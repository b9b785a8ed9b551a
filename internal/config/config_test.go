package config

import (
	"testing"
	"time"
)

func TestDefaultReturnsExpectedBaseline(t *testing.T) {
	c := Default()

	if c.LLMModel != "gpt-4o-mini" {
		t.Errorf("unexpected default model: %q", c.LLMModel)
	}
	if c.MaxRevisions != 2 {
		t.Errorf("unexpected default max revisions: %d", c.MaxRevisions)
	}
	if !c.FallbackWebOnEmptyRetrieval {
		t.Error("expected fallback-to-web enabled by default")
	}
}

func TestLoadOverlaysEnvironmentOnDefaults(t *testing.T) {
	t.Setenv("LLM_MODEL", "gpt-4o")
	t.Setenv("MAX_REVISIONS", "5")
	t.Setenv("T_CLAIM", "10s")
	t.Setenv("FALLBACK_WEB_ON_EMPTY_RETRIEVAL", "false")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.LLMModel != "gpt-4o" {
		t.Errorf("expected env override of LLM_MODEL, got %q", c.LLMModel)
	}
	if c.MaxRevisions != 5 {
		t.Errorf("expected env override of MAX_REVISIONS, got %d", c.MaxRevisions)
	}
	if c.TClaim != 10*time.Second {
		t.Errorf("expected env override of T_CLAIM, got %v", c.TClaim)
	}
	if c.FallbackWebOnEmptyRetrieval {
		t.Error("expected env override disabling fallback")
	}
}

func TestLoadFallsBackToDefaultOnUnparsableEnvValue(t *testing.T) {
	t.Setenv("MAX_REVISIONS", "not-a-number")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.MaxRevisions != 2 {
		t.Errorf("expected default retained for unparsable int, got %d", c.MaxRevisions)
	}
}

func TestGetDurationAcceptsBareSecondsInteger(t *testing.T) {
	t.Setenv("SUB_GRACE", "45")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.SubGrace != 45*time.Second {
		t.Errorf("expected bare integer parsed as seconds, got %v", c.SubGrace)
	}
}
