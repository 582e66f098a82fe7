package config

import (
	"testing"
	"time"
)

func TestResearchConfigValidate(t *testing.T) {
	good := ResearchConfig{MaxURLsPerPlatform: 1, MaxConcurrentSpecialists: 5}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, n := range []int{0, 4, -1} {
		bad := ResearchConfig{MaxURLsPerPlatform: n, MaxConcurrentSpecialists: 5}
		if err := bad.Validate(); err == nil {
			t.Fatalf("max_urls_per_platform=%d should fail validation", n)
		}
	}
	if err := (ResearchConfig{MaxURLsPerPlatform: 2}).Validate(); err == nil {
		t.Fatalf("zero max_concurrent_specialists should fail validation")
	}
}

func TestRoutingFallback(t *testing.T) {
	r := LLMRoutingConfig{Specialist: "gpt-4o-mini", Fallback: "gpt-4o"}
	if got := r.Model("specialist"); got != "gpt-4o-mini" {
		t.Fatalf("expected the stage model, got %s", got)
	}
	if got := r.Model("search"); got != "gpt-4o" {
		t.Fatalf("expected the fallback model, got %s", got)
	}
	if got := r.Model("unknown"); got != "gpt-4o" {
		t.Fatalf("unknown stages should use the fallback, got %s", got)
	}
}

func TestServerConfigDefaultsApplied(t *testing.T) {
	cfg := ServerConfig{Address: ":8097", CreateRPM: 10, StatusRPM: 60, HeartbeatEvery: 30 * time.Second}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
