// Package pipeline runs a command from raw text to a response: safety, intent,
// parameters, rules, document, preview, and on approval the guarded write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/ratelimit"
	"github.com/Veraticus/the-books-must-balance/internal/response"
	"github.com/Veraticus/the-books-must-balance/internal/safety"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Command is one natural-language request.
type Command struct {
	Context     map[string]any   `json:"context,omitempty"`
	Caller      ratelimit.Caller `json:"-"`
	Message     string           `json:"message"`
	AutoApprove bool             `json:"auto_approve"`
}

// ApproveRequest moves a preview into the write pipeline, or discards it.
type ApproveRequest struct {
	Caller        ratelimit.Caller   `json:"-"`
	TransactionID string             `json:"transaction_id"`
	Confirmation  model.Confirmation `json:"confirmation,omitempty"`
	Approved      bool               `json:"approved"`
}

// Config tunes the pipeline.
type Config struct {
	HighValue      decimal.Decimal `mapstructure:"high_value"`
	CommandTimeout time.Duration   `mapstructure:"command_timeout"`
	ApproveTimeout time.Duration   `mapstructure:"approve_timeout"`
	LedgerTimeout  time.Duration   `mapstructure:"ledger_timeout"`
	PreviewTTL     time.Duration   `mapstructure:"preview_ttl"`
	SessionTTL     time.Duration   `mapstructure:"session_ttl"`
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		HighValue:      decimal.NewFromInt(10_00_000),
		CommandTimeout: 30 * time.Second,
		ApproveTimeout: 60 * time.Second,
		LedgerTimeout:  5 * time.Second,
		PreviewTTL:     15 * time.Minute,
		SessionTTL:     5 * time.Minute,
	}
}

// Dependencies are the collaborators a Pipeline drives. Resolver may be nil.
type Dependencies struct {
	Safety     SafetyChecker
	Classifier Classifier
	Extractor  Extractor
	Facts      FactSource
	Validator  RuleValidator
	Generator  DocumentGenerator
	Previews   service.PreviewStore
	Entities   EntityWriter
	Ledger     LedgerReader
	Executor   TransactionExecutor
	Audit      AuditRecorder
	Sessions   SessionStore
	Resolver   Invalidator
}

func (d Dependencies) validate() error {
	switch {
	case d.Safety == nil:
		return errors.New("safety checker is required")
	case d.Classifier == nil:
		return errors.New("classifier is required")
	case d.Extractor == nil:
		return errors.New("extractor is required")
	case d.Facts == nil:
		return errors.New("fact source is required")
	case d.Validator == nil:
		return errors.New("rule validator is required")
	case d.Generator == nil:
		return errors.New("document generator is required")
	case d.Previews == nil:
		return errors.New("preview store is required")
	case d.Entities == nil:
		return errors.New("entity store is required")
	case d.Ledger == nil:
		return errors.New("ledger reader is required")
	case d.Executor == nil:
		return errors.New("transaction executor is required")
	case d.Audit == nil:
		return errors.New("audit recorder is required")
	case d.Sessions == nil:
		return errors.New("session store is required")
	}
	return nil
}

// request carries one command through its handler.
type request struct {
	params   *model.ParameterSet
	cmd      Command
	actor    string
	text     string
	class    model.Classification
	override *model.ExtractedField
}

type handler func(ctx context.Context, req *request) (response.Response, error)

// Pipeline orchestrates commands and approvals.
type Pipeline struct {
	handlers map[model.Intent]handler
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
	deps     Dependencies
	cfg      Config
}

// New wires a pipeline. Every intent must have a handler.
func New(deps Dependencies, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	def := DefaultConfig()
	if !cfg.HighValue.IsPositive() {
		cfg.HighValue = def.HighValue
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.ApproveTimeout <= 0 {
		cfg.ApproveTimeout = def.ApproveTimeout
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = def.LedgerTimeout
	}
	if cfg.PreviewTTL <= 0 {
		cfg.PreviewTTL = def.PreviewTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}

	p := &Pipeline{
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		newID:  newID,
		logger: common.OrDefault(logger),
	}
	p.handlers = map[model.Intent]handler{
		model.IntentClarify:               p.handleClarify,
		model.IntentCreateReceipt:         p.handleVoucher,
		model.IntentCreatePayment:         p.handleVoucher,
		model.IntentCreateSalesInvoice:    p.handleVoucher,
		model.IntentCreatePurchaseInvoice: p.handleVoucher,
		model.IntentCreateEntity:          p.handleCreateEntity,
		model.IntentQueryBalance:          p.handleBalance,
		model.IntentQueryReport:           p.handleReport,
		model.IntentHelp:                  p.handleHelp,
	}
	if err := checkHandlers(p.handlers); err != nil {
		return nil, err
	}
	return p, nil
}

func checkHandlers(handlers map[model.Intent]handler) error {
	for _, intent := range model.AllIntents() {
		if handlers[intent] == nil {
			return fmt.Errorf("no handler for intent %s", intent)
		}
	}
	return nil
}

// Command runs one message through the pipeline. Failures come back as error responses.
func (p *Pipeline) Command(ctx context.Context, cmd Command) response.Response {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CommandTimeout)
	defer cancel()

	actor := actorOf(cmd.Caller)
	ctx = safety.WithActor(ctx, actor)

	if err := p.deps.Safety.Check(ctx, cmd.Message); err != nil {
		return response.FromError(err)
	}

	req := &request{cmd: cmd, actor: actor, text: cmd.Message}
	if err := p.resumeSession(ctx, req); err != nil {
		p.logger.Warn("session lookup failed", "actor", actor, "error", err)
	}

	if req.override == nil {
		req.class = p.deps.Classifier.Classify(ctx, req.text)
	}

	p.logger.Debug("command classified",
		"actor", actor,
		"intent", req.class.Intent.String(),
		"confidence", req.class.Confidence,
		"method", req.class.Method)

	resp, err := p.handlers[req.class.Intent](ctx, req)
	if err != nil {
		p.logger.Warn("command failed",
			"actor", actor,
			"intent", req.class.Intent.String(),
			"code", common.CodeOf(err),
			"error", err)
		return response.FromError(err)
	}
	return resp
}

func actorOf(c ratelimit.Caller) string {
	switch {
	case c.UserID != "":
		return c.UserID
	case c.ID != "":
		return c.ID
	case c.IP != "":
		return c.IP
	default:
		return "anonymous"
	}
}

func (p *Pipeline) record(ctx context.Context, entry model.AuditEntry) {
	if err := p.deps.Audit.Record(ctx, entry); err != nil {
		p.logger.Error("failed to record audit entry",
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"action", entry.Action,
			"error", err)
	}
}
