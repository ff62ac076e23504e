package config

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseUUIDList(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"single", a.String(), 1},
		{"two with spaces", a.String() + " , " + b.String(), 2},
		{"skips garbage", a.String() + ",not-a-uuid,,", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseUUIDList(tt.input)
			if len(got) != tt.want {
				t.Errorf("parseUUIDList(%q) returned %d ids, want %d", tt.input, len(got), tt.want)
			}
		})
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	admin := uuid.New()
	t.Setenv("ADMIN_USER_IDS", admin.String())
	t.Setenv("RECONCILE_ENABLED", "false")
	t.Setenv("ESCROW_HTTP_TIMEOUT_MS", "1500")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "oops")

	cfg := Load()

	if !cfg.IsAdmin(admin) {
		t.Errorf("expected %s to be admin", admin)
	}
	if cfg.IsAdmin(uuid.New()) {
		t.Errorf("random id must not be admin")
	}
	if cfg.ReconcileEnabled {
		t.Errorf("RECONCILE_ENABLED=false was not honoured")
	}
	if cfg.EscrowHTTPTimeout.Milliseconds() != 1500 {
		t.Errorf("EscrowHTTPTimeout = %v, want 1.5s", cfg.EscrowHTTPTimeout)
	}
	if cfg.RateLimitPerMinute != 100 {
		t.Errorf("invalid int should fall back to default, got %d", cfg.RateLimitPerMinute)
	}
}

func TestEscrowConfigured(t *testing.T) {
	cfg := &Config{EscrowPlatformAddress: "GPLATFORM"}
	if cfg.EscrowConfigured() {
		t.Fatal("missing trustline must not count as configured")
	}
	cfg.EscrowTrustlineAddress = "GUSDC"
	if !cfg.EscrowConfigured() {
		t.Fatal("expected configured")
	}
}
