package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDeductionOrderToggle(t *testing.T) {
	t.Setenv("DEDUCT_ORDER", "")
	if cfg := Load(); cfg.DeductContainersFirst {
		t.Fatalf("expected legacy-first by default")
	}

	t.Setenv("DEDUCT_ORDER", "containers-first")
	if cfg := Load(); !cfg.DeductContainersFirst {
		t.Fatalf("expected containers-first when configured")
	}
}

func TestLoadFallbacks(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")
	t.Setenv("SUMMARY_CACHE_SECONDS", "-5")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected TTL fallback 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.SummaryCacheSeconds != 30 {
		t.Fatalf("expected cache TTL fallback 30, got %d", cfg.SummaryCacheSeconds)
	}
}
