package config

import (
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/compliance"
	"github.com/Veraticus/the-books-must-balance/internal/document"
	"github.com/Veraticus/the-books-must-balance/internal/extract"
	"github.com/Veraticus/the-books-must-balance/internal/health"
	"github.com/Veraticus/the-books-must-balance/internal/intent"
	"github.com/Veraticus/the-books-must-balance/internal/ledger"
	"github.com/Veraticus/the-books-must-balance/internal/pipeline"
	"github.com/Veraticus/the-books-must-balance/internal/ratelimit"
	"github.com/Veraticus/the-books-must-balance/internal/server"
	"github.com/Veraticus/the-books-must-balance/internal/txn"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// DefaultStoragePath is where the database lives unless configured otherwise.
const DefaultStoragePath = "~/.local/share/books/books.db"

// SetDefaults registers a default for every key Load understands.
func SetDefaults(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("storage.path", DefaultStoragePath)

	srv := server.DefaultConfig()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)
	v.SetDefault("server.body_limit", srv.BodyLimit)
	v.SetDefault("server.tls", false)
	v.SetDefault("server.cert_dir", "~/.config/books/certs")
	v.SetDefault("server.tls_hosts", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "books:")

	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.attempt_timeout", "20s")
	v.SetDefault("llm.retry_delay", "1s")
	v.SetDefault("llm.cache_ttl", "5m")
	v.SetDefault("llm.temperature", 0.1)

	sheets := ledger.DefaultSheetsConfig()
	v.SetDefault("ledger.backend", BackendMemory)
	v.SetDefault("ledger.sheets.client_id", "")
	v.SetDefault("ledger.sheets.client_secret", "")
	v.SetDefault("ledger.sheets.refresh_token", "")
	v.SetDefault("ledger.sheets.service_account_path", "")
	v.SetDefault("ledger.sheets.spreadsheet_id", "")
	v.SetDefault("ledger.sheets.sheet_name", sheets.SheetName)
	v.SetDefault("ledger.sheets.endpoint", "")
	v.SetDefault("ledger.sheets.timeout", sheets.Timeout)

	rules := compliance.DefaultConfig()
	v.SetDefault("compliance.books_lock_date", "")
	v.SetDefault("compliance.allowed_gst_rates", strings.Join(decimalStrings(rules.AllowedGSTRates), ","))
	v.SetDefault("compliance.cash_receipt_limit", rules.CashReceiptLimit.String())
	v.SetDefault("compliance.cash_payment_limit", rules.CashPaymentLimit.String())
	v.SetDefault("compliance.tds_threshold", rules.TDSThreshold.String())
	v.SetDefault("compliance.gst_registration_limit", rules.GSTRegistrationLimit.String())
	v.SetDefault("compliance.high_value_threshold", rules.HighValueThreshold.String())
	v.SetDefault("compliance.fiscal_year_start_month", int(rules.FiscalYearStartMonth))
	v.SetDefault("compliance.gst_registered", rules.GSTRegistered)

	limits := ratelimit.DefaultConfig()
	for name, limit := range map[string]ratelimit.Limit{
		"burst":    limits.Burst,
		"global":   limits.Global,
		"per_ip":   limits.PerIP,
		"per_user": limits.PerUser,
	} {
		v.SetDefault("ratelimit."+name+".requests", limit.Requests)
		v.SetDefault("ratelimit."+name+".window", limit.Window)
	}
	for tier, quota := range limits.DailyQuota {
		v.SetDefault("ratelimit.daily_quota."+string(tier), quota)
	}
	v.SetDefault("ratelimit.tiers", map[string]string{})

	pipe := pipeline.DefaultConfig()
	v.SetDefault("pipeline.command_timeout", pipe.CommandTimeout)
	v.SetDefault("pipeline.approve_timeout", pipe.ApproveTimeout)
	v.SetDefault("pipeline.ledger_timeout", pipe.LedgerTimeout)
	v.SetDefault("pipeline.preview_ttl", pipe.PreviewTTL)
	v.SetDefault("pipeline.session_ttl", pipe.SessionTTL)

	tx := txn.DefaultConfig()
	v.SetDefault("transaction.lock_ttl", tx.LockTTL)
	v.SetDefault("transaction.backup_timeout", tx.BackupTimeout)
	v.SetDefault("transaction.write_timeout", tx.WriteTimeout)
	v.SetDefault("transaction.verify_timeout", tx.VerifyTimeout)
	v.SetDefault("transaction.restore_timeout", tx.RestoreTimeout)
	v.SetDefault("transaction.write_backoff", tx.WriteBackoff)
	v.SetDefault("transaction.write_attempts", tx.WriteAttempts)

	doc := document.DefaultConfig()
	v.SetDefault("document.temperature", doc.Temperature)
	v.SetDefault("document.timeout", doc.Timeout)
	v.SetDefault("document.max_attempts", doc.MaxAttempts)
	v.SetDefault("document.feedback_retries", doc.FeedbackRetries)

	v.SetDefault("intent.threshold", intent.DefaultThreshold)
	v.SetDefault("intent.llm_min_confidence", intent.DefaultLLMConfidence)
	v.SetDefault("intent.timeout", intent.DefaultTimeout)

	ext := extract.DefaultConfig()
	v.SetDefault("extract.allowed_tds_rates", strings.Join(decimalStrings(ext.AllowedTDSRates), ","))
	v.SetDefault("extract.timeout", ext.Timeout)
	v.SetDefault("extract.unusual_factor", ext.UnusualFactor)
	v.SetDefault("extract.min_history", ext.MinHistory)

	res := extract.DefaultResolverConfig()
	v.SetDefault("resolver.min_similarity", res.MinSimilarity)
	v.SetDefault("resolver.margin", res.Margin)
	v.SetDefault("resolver.top_n", res.TopN)
	v.SetDefault("resolver.refresh_every", res.RefreshEvery)

	br := health.DefaultBreakerConfig()
	v.SetDefault("breaker.max_requests", br.MaxRequests)
	v.SetDefault("breaker.interval", br.Interval)
	v.SetDefault("breaker.timeout", br.Timeout)
	v.SetDefault("breaker.consecutive_failures", br.ConsecutiveFailures)

	v.SetDefault("health.timeout", "2s")
}

func decimalStrings(values []decimal.Decimal) []string {
	out := make([]string, len(values))
	for i, d := range values {
		out[i] = d.String()
	}
	return out
}
