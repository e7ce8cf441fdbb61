package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/audit"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/compliance"
	"github.com/Veraticus/the-books-must-balance/internal/config"
	"github.com/Veraticus/the-books-must-balance/internal/document"
	"github.com/Veraticus/the-books-must-balance/internal/extract"
	"github.com/Veraticus/the-books-must-balance/internal/health"
	"github.com/Veraticus/the-books-must-balance/internal/intent"
	"github.com/Veraticus/the-books-must-balance/internal/ledger"
	"github.com/Veraticus/the-books-must-balance/internal/llm"
	"github.com/Veraticus/the-books-must-balance/internal/pipeline"
	"github.com/Veraticus/the-books-must-balance/internal/ratelimit"
	"github.com/Veraticus/the-books-must-balance/internal/safety"
	"github.com/Veraticus/the-books-must-balance/internal/service"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
	"github.com/Veraticus/the-books-must-balance/internal/txn"
	"github.com/redis/go-redis/v9"
)

// app holds every wired component for one process.
type app struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	ledger   service.Ledger
	redis    redis.UniversalClient
	llm      *llm.Service
	rates    ratelimit.CounterStore
	breakers *health.Breakers
	audit    *audit.Logger
	manager  *txn.Manager
	pipeline *pipeline.Pipeline
	guard    *ratelimit.Guard
	checker  *health.Checker
	logger   *slog.Logger
}

// openStorage opens and migrates the database named in cfg.
func openStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// newApp wires the pipeline and its dependencies from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	logger = common.OrDefault(logger)
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.store, err = openStorage(ctx, cfg); err != nil {
		return nil, err
	}

	a.breakers = health.NewBreakers(cfg.Breaker, logger, health.DependencyLedger, health.DependencyLLM, health.DependencyCache)

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err = a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	switch cfg.Ledger.Backend {
	case config.BackendSheets:
		if a.ledger, err = ledger.NewSheetsLedger(ctx, cfg.Ledger.Sheets, logger); err != nil {
			return nil, fmt.Errorf("failed to open sheets ledger: %w", err)
		}
	default:
		logger.Warn("using in-memory ledger; vouchers are lost on exit")
		a.ledger = ledger.NewMemoryLedger()
	}

	var model intent.Generator = unconfiguredModel{}
	if cfg.LLM.Provider != "" {
		client, clientErr := llm.NewClient(ctx, cfg.LLM)
		if clientErr != nil {
			return nil, fmt.Errorf("failed to create llm client: %w", clientErr)
		}
		a.llm = llm.NewService(client, cfg.LLM, a.breakers, logger)
		model = a.llm
	} else {
		logger.Warn("no llm provider configured; only pattern-matched commands are understood")
	}

	rules, err := cfg.Compliance.Rules()
	if err != nil {
		return nil, err
	}

	var (
		locker   txn.Locker
		sessions pipeline.SessionStore
	)
	if a.redis != nil {
		prefix := cfg.Redis.Prefix
		locker = txn.NewRedisLocker(a.redis, prefix+"lock:")
		sessions = pipeline.NewRedisSessions(a.redis, prefix+"session:")
		a.rates = ratelimit.NewRedisStore(a.redis, prefix+"rate:")
	} else {
		locker = txn.NewMemoryLocker()
		sessions = pipeline.NewMemorySessions()
		a.rates = ratelimit.NewMemoryStore(time.Minute)
	}

	a.audit = audit.NewLogger(a.store, logger)

	guard, err := safety.NewValidator(safety.WithRecorder(a.audit), safety.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	classifier, err := intent.NewClassifier(model, cfg.Intent, logger)
	if err != nil {
		return nil, err
	}

	resolver := extract.NewResolver(a.store, cfg.Resolver, logger)
	extractor := extract.NewExtractor(resolver, a.store, cfg.Extract, logger)
	a.manager = txn.NewManager(a.store, a.ledger, locker, a.audit, a.breakers, cfg.Transaction, logger)

	a.pipeline, err = pipeline.New(pipeline.Dependencies{
		Safety:     guard,
		Classifier: classifier,
		Extractor:  extractor,
		Facts:      compliance.NewFactLoader(rules, a.store, a.store, a.ledger, logger),
		Validator:  compliance.NewValidator(rules),
		Generator:  document.NewGenerator(model, cfg.Document, logger),
		Previews:   a.store,
		Entities:   a.store,
		Ledger:     a.ledger,
		Executor:   a.manager,
		Audit:      a.audit,
		Sessions:   sessions,
		Resolver:   resolver,
	}, cfg.Pipeline, logger)
	if err != nil {
		return nil, err
	}

	a.guard = ratelimit.NewGuard(a.rates, cfg.RateLimit, logger)

	pingers := map[string]health.Pinger{
		"storage":               a.store,
		health.DependencyLedger: a.ledger,
	}
	if a.redis != nil {
		client := a.redis
		pingers[health.DependencyCache] = health.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	a.checker = health.NewChecker(a.breakers, pingers, cfg.Health.Timeout)

	return a, nil
}

// Close releases everything newApp opened. It is safe on a partial app.
func (a *app) Close() {
	if a.llm != nil {
		a.llm.Close()
	}
	if a.rates != nil {
		if err := a.rates.Close(); err != nil {
			a.logger.Warn("failed to close rate store", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
}

// unconfiguredModel stands in for the language model when none is set up.
// Pattern-matched commands still work; anything needing the model fails
// with a non-retryable error that says why.
type unconfiguredModel struct{}

var errNoModel = errors.New("no llm provider configured")

func (unconfiguredModel) Generate(context.Context, llm.GenerateRequest) (json.RawMessage, error) {
	return nil, common.NewSystemError("LLM_UNAVAILABLE", "No language model is configured.", errNoModel).
		WithSuggestions("set llm.provider and llm.api_key in the config file")
}
