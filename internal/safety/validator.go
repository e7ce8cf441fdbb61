// Package safety screens raw command text before it reaches classification.
package safety

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// DefaultMaxLength is the hard character cap on a single command.
const DefaultMaxLength = 2000

// Rejection categories recorded with each security event.
const (
	CategoryEmpty     = "empty"
	CategoryOversize  = "oversize"
	CategoryEncoding  = "encoding"
	CategorySQL       = "sql_injection"
	CategoryJailbreak = "jailbreak"
)

var sqlPatterns = []string{
	`\bdrop\s+(table|database|schema)\b`,
	`\bdelete\s+from\b`,
	`\btruncate\s+table\b`,
	`\binsert\s+into\b`,
	`\bupdate\s+\w+\s+set\b`,
	`\bunion\s+(all\s+)?select\b`,
	`\balter\s+table\b`,
	`\bexec(ute)?\s+(xp_|sp_)\w*`,
	`;\s*--`,
	`'\s*or\s+'?\d+'?\s*=\s*'?\d+`,
	`/\*.*\*/`,
}

var jailbreakPatterns = []string{
	`ignore\s+(all\s+)?(the\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`,
	`disregard\s+(all\s+)?(the\s+)?(previous|prior|above|your)\s+(instructions|prompts|rules)`,
	`forget\s+(all\s+)?(your|previous|prior)\s+(instructions|rules)`,
	`you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak)\s*mode`,
	`pretend\s+(you\s+are|to\s+be)\s+(an?\s+)?(unrestricted|unfiltered)`,
	`(reveal|print|show)\s+(your|the)\s+system\s+prompt`,
	`\bact\s+as\s+an?\s+unrestricted\b`,
}

// SecurityRecorder persists security events. The audit logger satisfies it.
type SecurityRecorder interface {
	Record(ctx context.Context, entry model.AuditEntry) error
}

type patternGroup struct {
	category string
	patterns []*regexp.Regexp
}

// Validator rejects unsafe input before classification.
type Validator struct {
	recorder  SecurityRecorder
	logger    *slog.Logger
	groups    []patternGroup
	maxLength int
}

// Option configures a Validator.
type Option func(*Validator)

// WithMaxLength overrides the character cap.
func WithMaxLength(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxLength = n
		}
	}
}

// WithRecorder sets where security events are persisted.
func WithRecorder(r SecurityRecorder) Option {
	return func(v *Validator) { v.recorder = r }
}

// WithLogger sets the logger for security events.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// NewValidator compiles the built-in blocklists.
func NewValidator(opts ...Option) (*Validator, error) {
	v := &Validator{maxLength: DefaultMaxLength}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = common.OrDefault(v.logger)

	for _, g := range []struct {
		category string
		patterns []string
	}{
		{CategorySQL, sqlPatterns},
		{CategoryJailbreak, jailbreakPatterns},
	} {
		compiled, err := common.CompileAll(g.patterns)
		if err != nil {
			return nil, fmt.Errorf("compile %s patterns: %w", g.category, err)
		}
		v.groups = append(v.groups, patternGroup{category: g.category, patterns: compiled})
	}

	return v, nil
}

// Check returns nil for acceptable input, or a security error naming the category.
// The returned error never contains the input.
func (v *Validator) Check(ctx context.Context, text string) error {
	category := v.classify(text)
	if category == "" {
		return nil
	}

	v.report(ctx, category, text)

	return common.NewSecurityError("INPUT_REJECTED", rejectionMessage(category), nil).
		WithSuggestions("rephrase the command as a plain accounting instruction")
}

func (v *Validator) classify(text string) string {
	if strings.TrimSpace(text) == "" {
		return CategoryEmpty
	}
	if !utf8.ValidString(text) || strings.ContainsRune(text, 0) {
		return CategoryEncoding
	}
	if utf8.RuneCountInString(text) > v.maxLength {
		return CategoryOversize
	}
	for _, g := range v.groups {
		for _, re := range g.patterns {
			if re.MatchString(text) {
				return g.category
			}
		}
	}
	return ""
}

func (v *Validator) report(ctx context.Context, category, text string) {
	sum := sha256.Sum256([]byte(text))
	digest := hex.EncodeToString(sum[:])

	// Empty input is a usage error, not an attack.
	if category == CategoryEmpty {
		v.logger.Debug("rejected empty command")
		return
	}

	v.logger.Warn("security event: input rejected",
		"category", category,
		"payload_sha256", digest,
		"payload_len", len(text))

	if v.recorder == nil {
		return
	}

	entry := model.AuditEntry{
		Timestamp:  time.Now().UTC(),
		EntityType: model.AuditEntitySecurity,
		EntityID:   digest,
		Actor:      ActorFrom(ctx),
		Action:     "input_rejected",
		Reason:     category,
		NewValue:   fmt.Sprintf(`{"category":%q,"payload_len":%d}`, category, len(text)),
	}
	if err := v.recorder.Record(ctx, entry); err != nil {
		v.logger.Error("failed to record security event", "category", category, "error", err)
	}
}

func rejectionMessage(category string) string {
	switch category {
	case CategoryEmpty:
		return "the command is empty"
	case CategoryOversize:
		return "the command is too long"
	case CategoryEncoding:
		return "the command contains invalid characters"
	default:
		return "the command contains disallowed content"
	}
}

type actorKey struct{}

// WithActor attaches the caller identity recorded with security events.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the caller identity stored by WithActor, or "anonymous".
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "anonymous"
}
