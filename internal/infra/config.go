package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"comptoir/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the ledger daemon.
// 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Storage struct {
		DBPath        string `yaml:"db_path"`
		MaxOpenConns  int    `yaml:"max_open_conns"`
		BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	} `yaml:"storage"`

	Custody struct {
		Secret string `yaml:"secret"`
	} `yaml:"custody"`

	Oracle struct {
		URL         string                `yaml:"url"` // Empty: use the static items below
		TimeoutMS   int                   `yaml:"timeout_ms"`
		RetryMax    int                   `yaml:"retry_max"`
		CacheTTLSec int                   `yaml:"cache_ttl_sec"`
		Items       []domain.ItemMetadata `yaml:"items"`
	} `yaml:"oracle"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Events struct {
		InboxSize int `yaml:"inbox_size"`
	} `yaml:"events"`

	Icons struct {
		Dir  string `yaml:"dir"` // Empty: per-user config directory
		Size int    `yaml:"size"`
	} `yaml:"icons"`

	Marketplaces []MarketplaceSeed `yaml:"marketplaces"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// MarketplaceSeed declares a marketplace created on start when missing.
type MarketplaceSeed struct {
	Authority          string           `yaml:"authority"`
	FeePercent         decimal.Decimal  `yaml:"fee_percent"`
	FeeDestination     string           `yaml:"fee_destination"`
	SettlementCurrency string           `yaml:"settlement_currency"`
	Collections        []CollectionSeed `yaml:"collections"`
}

// CollectionSeed declares a collection of a seeded marketplace.
type CollectionSeed struct {
	Symbol               string           `yaml:"symbol"`
	RequiredVerifier     string           `yaml:"required_verifier"`
	FeeOverridePercent   *decimal.Decimal `yaml:"fee_override_percent"`
	IgnoreCreatorRoyalty bool             `yaml:"ignore_creator_royalty"`
	IconURL              string           `yaml:"icon_url"`
}

// LoadConfig reads the YAML file at path, applies .env and environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.MaxOpenConns == 0 {
		c.Storage.MaxOpenConns = 1
	}
	if c.Storage.BusyTimeoutMS == 0 {
		c.Storage.BusyTimeoutMS = 5000
	}
	if c.Oracle.TimeoutMS == 0 {
		c.Oracle.TimeoutMS = 5000
	}
	if c.Oracle.CacheTTLSec == 0 {
		c.Oracle.CacheTTLSec = 300
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "localhost:8080"
	}
	if c.Events.InboxSize == 0 {
		c.Events.InboxSize = 1024
	}
	if c.Icons.Size == 0 {
		c.Icons.Size = 64
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Custody.Secret == "" {
		return &domain.ConfigError{Field: "custody.secret", Err: errors.New("custody secret is required")}
	}

	if c.Oracle.URL != "" && !strings.HasPrefix(c.Oracle.URL, "http://") && !strings.HasPrefix(c.Oracle.URL, "https://") {
		return &domain.ConfigError{Field: "oracle.url", Err: fmt.Errorf("invalid oracle URL: %s", c.Oracle.URL)}
	}
	if c.Oracle.TimeoutMS <= 0 || c.Oracle.CacheTTLSec <= 0 {
		return &domain.ConfigError{Field: "oracle", Err: errors.New("timeouts must be positive")}
	}
	if c.Oracle.RetryMax < 0 {
		return &domain.ConfigError{Field: "oracle.retry_max", Err: errors.New("retry_max must not be negative")}
	}
	if c.Storage.MaxOpenConns < 0 || c.Storage.BusyTimeoutMS < 0 {
		return &domain.ConfigError{Field: "storage", Err: errors.New("pool settings must not be negative")}
	}

	for i, m := range c.Marketplaces {
		if m.Authority == "" || m.FeeDestination == "" || m.SettlementCurrency == "" {
			return &domain.ConfigError{Field: fmt.Sprintf("marketplaces[%d]", i), Err: errors.New("authority, fee_destination and settlement_currency are required")}
		}
		if _, err := PercentToBps(m.FeePercent); err != nil {
			return &domain.ConfigError{Field: fmt.Sprintf("marketplaces[%d].fee_percent", i), Err: err}
		}
		for j, col := range m.Collections {
			field := fmt.Sprintf("marketplaces[%d].collections[%d]", i, j)
			if col.Symbol == "" || col.RequiredVerifier == "" {
				return &domain.ConfigError{Field: field, Err: errors.New("symbol and required_verifier are required")}
			}
			if col.FeeOverridePercent != nil {
				if _, err := PercentToBps(*col.FeeOverridePercent); err != nil {
					return &domain.ConfigError{Field: field + ".fee_override_percent", Err: err}
				}
			}
		}
	}

	return nil
}

// PercentToBps converts a fee percentage such as 2.5 into basis points (250).
// Fractions of a basis point and values outside 0..100% are rejected.
func PercentToBps(p decimal.Decimal) (uint16, error) {
	bps := p.Shift(2)
	if !bps.IsInteger() {
		return 0, fmt.Errorf("%w: %s%% is not a whole number of basis points", domain.ErrFeeOutOfRange, p)
	}
	if bps.IsNegative() || bps.GreaterThan(decimal.NewFromInt(int64(domain.MaxFeeBps))) {
		return 0, fmt.Errorf("%w: %s%%", domain.ErrFeeOutOfRange, p)
	}
	return uint16(bps.IntPart()), nil
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if secret := os.Getenv("COMPTOIR_CUSTODY_SECRET"); secret != "" {
		cfg.Custody.Secret = secret
	}
	if path := os.Getenv("COMPTOIR_DB_PATH"); path != "" {
		cfg.Storage.DBPath = path
	}
	if url := os.Getenv("COMPTOIR_ORACLE_URL"); url != "" {
		cfg.Oracle.URL = url
	}
	if addr := os.Getenv("COMPTOIR_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
}
