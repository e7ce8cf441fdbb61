// Package config loads the typed application configuration from viper.
//
// Every key has a registered default so that BOOKS_* environment variables
// override nested settings without a config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/compliance"
	"github.com/Veraticus/the-books-must-balance/internal/document"
	"github.com/Veraticus/the-books-must-balance/internal/extract"
	"github.com/Veraticus/the-books-must-balance/internal/health"
	"github.com/Veraticus/the-books-must-balance/internal/intent"
	"github.com/Veraticus/the-books-must-balance/internal/ledger"
	"github.com/Veraticus/the-books-must-balance/internal/llm"
	"github.com/Veraticus/the-books-must-balance/internal/pipeline"
	"github.com/Veraticus/the-books-must-balance/internal/ratelimit"
	"github.com/Veraticus/the-books-must-balance/internal/server"
	"github.com/Veraticus/the-books-must-balance/internal/txn"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Ledger backends.
const (
	BackendMemory = "memory"
	BackendSheets = "sheets"
)

// Config is the whole application configuration.
type Config struct {
	Redis       RedisConfig            `mapstructure:"redis"`
	Storage     StorageConfig          `mapstructure:"storage"`
	LLM         llm.Config             `mapstructure:"llm"`
	Ledger      LedgerConfig           `mapstructure:"ledger"`
	Compliance  ComplianceConfig       `mapstructure:"compliance"`
	RateLimit   ratelimit.Config       `mapstructure:"ratelimit"`
	Server      ServerConfig           `mapstructure:"server"`
	Pipeline    pipeline.Config        `mapstructure:"pipeline"`
	Transaction txn.Config             `mapstructure:"transaction"`
	Document    document.Config        `mapstructure:"document"`
	Intent      intent.Config          `mapstructure:"intent"`
	Extract     extract.Config         `mapstructure:"extract"`
	Resolver    extract.ResolverConfig `mapstructure:"resolver"`
	Breaker     health.BreakerConfig   `mapstructure:"breaker"`
	Health      HealthConfig           `mapstructure:"health"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LedgerConfig selects where vouchers are written.
type LedgerConfig struct {
	Backend string              `mapstructure:"backend"`
	Sheets  ledger.SheetsConfig `mapstructure:"sheets"`
}

// RedisConfig enables the shared rate-limit, lock and session stores.
// An empty Addr keeps everything in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	Prefix   string `mapstructure:"prefix"`
	DB       int    `mapstructure:"db"`
}

// ServerConfig adds the listen address and TLS settings to the HTTP settings.
// With TLS on, a self-signed certificate for TLSHosts is kept in CertDir.
type ServerConfig struct {
	Addr          string   `mapstructure:"addr"`
	CertDir       string   `mapstructure:"cert_dir"`
	TLSHosts      []string `mapstructure:"tls_hosts"`
	server.Config `mapstructure:",squash"`
	TLS           bool `mapstructure:"tls"`
}

// HealthConfig bounds dependency probes.
type HealthConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ComplianceConfig is the file form of compliance.Config.
type ComplianceConfig struct {
	BooksLockDate        string            `mapstructure:"books_lock_date"`
	AllowedGSTRates      []decimal.Decimal `mapstructure:"allowed_gst_rates"`
	CashReceiptLimit     decimal.Decimal   `mapstructure:"cash_receipt_limit"`
	CashPaymentLimit     decimal.Decimal   `mapstructure:"cash_payment_limit"`
	TDSThreshold         decimal.Decimal   `mapstructure:"tds_threshold"`
	GSTRegistrationLimit decimal.Decimal   `mapstructure:"gst_registration_limit"`
	HighValueThreshold   decimal.Decimal   `mapstructure:"high_value_threshold"`
	FiscalYearStartMonth int               `mapstructure:"fiscal_year_start_month"`
	GSTRegistered        bool              `mapstructure:"gst_registered"`
}

// Rules converts the file form into the rule engine's thresholds.
func (c ComplianceConfig) Rules() (compliance.Config, error) {
	out := compliance.Config{
		AllowedGSTRates:      c.AllowedGSTRates,
		CashReceiptLimit:     c.CashReceiptLimit,
		CashPaymentLimit:     c.CashPaymentLimit,
		TDSThreshold:         c.TDSThreshold,
		GSTRegistrationLimit: c.GSTRegistrationLimit,
		HighValueThreshold:   c.HighValueThreshold,
		GSTRegistered:        c.GSTRegistered,
		FiscalYearStartMonth: time.Month(c.FiscalYearStartMonth),
	}
	if c.BooksLockDate != "" {
		locked, err := time.Parse(time.DateOnly, c.BooksLockDate)
		if err != nil {
			return compliance.Config{}, fmt.Errorf("books_lock_date %q: expected YYYY-MM-DD", c.BooksLockDate)
		}
		out.BooksLockDate = &locked
	}
	return out, nil
}

// Load registers defaults on v, decodes it and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook()), viper.DecoderConfigOption(zeroFields)); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)
	cfg.Server.CertDir = ExpandPath(cfg.Server.CertDir)
	if cfg.Ledger.Backend == BackendSheets {
		applySheetsEnv(&cfg.Ledger.Sheets)
	}
	// Extraction and the rule engine must agree on which GST slabs exist.
	cfg.Extract.AllowedGSTRates = cfg.Compliance.AllowedGSTRates
	if cfg.Pipeline.HighValue.IsZero() {
		cfg.Pipeline.HighValue = cfg.Compliance.HighValueThreshold
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.TLS && c.Server.CertDir == "" {
		return fmt.Errorf("server.cert_dir is required when server.tls is on")
	}

	switch c.Ledger.Backend {
	case BackendMemory:
	case BackendSheets:
		if err := c.Ledger.Sheets.Validate(); err != nil {
			return fmt.Errorf("ledger.sheets: %w", err)
		}
	default:
		return fmt.Errorf("ledger.backend must be %q or %q, got %q", BackendMemory, BackendSheets, c.Ledger.Backend)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "":
	case llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGemini:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for provider %s", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unsupported llm.provider: %s", c.LLM.Provider)
	}

	if c.Compliance.FiscalYearStartMonth < 1 || c.Compliance.FiscalYearStartMonth > 12 {
		return fmt.Errorf("compliance.fiscal_year_start_month must be 1-12")
	}
	if len(c.Compliance.AllowedGSTRates) == 0 {
		return fmt.Errorf("compliance.allowed_gst_rates cannot be empty")
	}
	for name, limit := range map[string]decimal.Decimal{
		"cash_receipt_limit":     c.Compliance.CashReceiptLimit,
		"cash_payment_limit":     c.Compliance.CashPaymentLimit,
		"tds_threshold":          c.Compliance.TDSThreshold,
		"gst_registration_limit": c.Compliance.GSTRegistrationLimit,
		"high_value_threshold":   c.Compliance.HighValueThreshold,
	} {
		if !limit.IsPositive() {
			return fmt.Errorf("compliance.%s must be positive", name)
		}
	}
	if _, err := c.Compliance.Rules(); err != nil {
		return fmt.Errorf("compliance.%w", err)
	}

	for name, limit := range map[string]ratelimit.Limit{
		"burst":    c.RateLimit.Burst,
		"global":   c.RateLimit.Global,
		"per_ip":   c.RateLimit.PerIP,
		"per_user": c.RateLimit.PerUser,
	} {
		if limit.Requests < 0 || (limit.Requests > 0 && limit.Window <= 0) {
			return fmt.Errorf("ratelimit.%s needs a positive window", name)
		}
	}
	for user, tier := range c.RateLimit.Tiers {
		if !tier.Valid() {
			return fmt.Errorf("ratelimit.tiers.%s: unknown tier %q", user, tier)
		}
	}

	if c.Pipeline.PreviewTTL <= 0 {
		return fmt.Errorf("pipeline.preview_ttl must be positive")
	}
	return nil
}

// ExpandPath expands a leading ~ and any $VARS in path.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}

func zeroFields(dc *mapstructure.DecoderConfig) {
	dc.ZeroFields = true
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decimalHook,
	)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q", v)
		}
		return d, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return data, nil
	}
}
