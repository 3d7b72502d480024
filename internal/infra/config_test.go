package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"comptoir/internal/domain"

	"github.com/shopspring/decimal"
)

const testConfig = `
app:
  name: comptoir
  version: 0.1.0
custody:
  secret: from-file
oracle:
  items:
    - mint: m1
      symbol: AURY
      seller_fee_basis_points: 500
      creators:
        - address: c1
          share: 100
          verified: true
marketplaces:
  - authority: auth
    fee_percent: "2.5"
    fee_destination: treasury
    settlement_currency: native
    collections:
      - symbol: AURY
        required_verifier: c1
        fee_override_percent: "1"
`

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("COMPTOIR_CUSTODY_SECRET", "")
	cfg, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Custody.Secret != "from-file" {
		t.Errorf("Expected secret from file, got %s", cfg.Custody.Secret)
	}
	if cfg.Server.Addr != "localhost:8080" || cfg.Storage.MaxOpenConns != 1 {
		t.Errorf("Expected defaults, got addr %s conns %d", cfg.Server.Addr, cfg.Storage.MaxOpenConns)
	}
	if len(cfg.Oracle.Items) != 1 || cfg.Oracle.Items[0].RoyaltyBps != 500 || !cfg.Oracle.Items[0].Creators[0].Verified {
		t.Errorf("Unexpected oracle items %+v", cfg.Oracle.Items)
	}

	m := cfg.Marketplaces[0]
	if bps, _ := PercentToBps(m.FeePercent); bps != 250 {
		t.Errorf("Expected 250 bps, got %d", bps)
	}
	if bps, _ := PercentToBps(*m.Collections[0].FeeOverridePercent); bps != 100 {
		t.Errorf("Expected 100 bps override, got %d", bps)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("COMPTOIR_CUSTODY_SECRET", "from-env")
	t.Setenv("COMPTOIR_DB_PATH", "/tmp/x.db")

	cfg, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Custody.Secret != "from-env" || cfg.Storage.DBPath != "/tmp/x.db" {
		t.Errorf("Expected env overrides, got %s %s", cfg.Custody.Secret, cfg.Storage.DBPath)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Setenv("COMPTOIR_CUSTODY_SECRET", "")

	t.Run("missing secret", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "app:\n  name: x\n"))
		var cfgErr *domain.ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Field != "custody.secret" {
			t.Errorf("Expected ConfigError on custody.secret, got %v", err)
		}
	})

	t.Run("bad oracle url", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "custody:\n  secret: s\noracle:\n  url: ftp://x\n"))
		if err == nil {
			t.Error("Expected error for ftp oracle URL")
		}
	})

	t.Run("fee above 100 percent", func(t *testing.T) {
		body := "custody:\n  secret: s\nmarketplaces:\n  - authority: a\n    fee_percent: \"100.01\"\n    fee_destination: d\n    settlement_currency: native\n"
		_, err := LoadConfig(writeConfig(t, body))
		if !errors.Is(err, domain.ErrFeeOutOfRange) {
			t.Errorf("Expected ErrFeeOutOfRange, got %v", err)
		}
	})
}

func TestPercentToBps(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"0", 0, false},
		{"2.5", 250, false},
		{"100", 10000, false},
		{"0.015", 0, true},
		{"-1", 0, true},
		{"100.01", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := PercentToBps(decimal.RequireFromString(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("PercentToBps(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("PercentToBps(%s) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
