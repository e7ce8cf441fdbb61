// Package intent maps command text to a closed set of accounting intents.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/llm"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Defaults for Classifier.
const (
	DefaultThreshold     = 0.85
	DefaultLLMConfidence = 0.60
	DefaultTimeout       = 3 * time.Second
)

// Generator produces structured replies. llm.Service satisfies it.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (json.RawMessage, error)
}

// Config tunes the classifier.
type Config struct {
	Threshold     float64       `mapstructure:"threshold"`
	LLMConfidence float64       `mapstructure:"llm_min_confidence"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Classifier tries patterns first and falls back to the language model.
type Classifier struct {
	detector *PatternDetector
	gen      Generator
	logger   *slog.Logger
	cfg      Config
}

// NewClassifier builds a classifier over the default patterns. gen may be nil,
// in which case anything the patterns cannot settle becomes a clarification.
func NewClassifier(gen Generator, cfg Config, logger *slog.Logger) (*Classifier, error) {
	detector, err := NewPatternDetector(DefaultPatterns())
	if err != nil {
		return nil, err
	}

	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.LLMConfidence <= 0 {
		cfg.LLMConfidence = DefaultLLMConfidence
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Classifier{
		detector: detector,
		gen:      gen,
		logger:   common.OrDefault(logger),
		cfg:      cfg,
	}, nil
}

// Classify never fails: every problem degrades to CLARIFY_REQUEST.
func (c *Classifier) Classify(ctx context.Context, text string) model.Classification {
	normalized := Normalize(text)

	match, weak := c.detector.Detect(normalized, c.cfg.Threshold)
	if match != nil {
		c.logger.Debug("intent matched by pattern",
			"pattern", match.PatternName,
			"intent", match.Intent,
			"confidence", match.Confidence)
		return model.Classification{Intent: match.Intent, Confidence: match.Confidence, Method: model.MethodPattern}
	}

	if c.gen == nil {
		return model.Clarify()
	}

	result, err := c.classifyWithLLM(ctx, normalized)
	if err != nil {
		attrs := []any{"error", err}
		if weak != nil {
			attrs = append(attrs, "weak_pattern", weak.PatternName)
		}
		c.logger.Warn("intent fallback failed, asking for clarification", attrs...)
		return model.Clarify()
	}
	return result
}

type llmReply struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

var replySchema = json.RawMessage(`{"type":"object","required":["intent","confidence"],"properties":{"intent":{"type":"string"},"confidence":{"type":"number","minimum":0,"maximum":1}}}`)

func (c *Classifier) classifyWithLLM(ctx context.Context, normalized string) (model.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	raw, err := c.gen.Generate(ctx, llm.GenerateRequest{
		System:      systemPrompt(),
		Prompt:      normalized,
		Schema:      replySchema,
		Temperature: 0.0,
		MaxAttempts: 2,
		CacheKey:    "intent:" + normalized,
	})
	if err != nil {
		return model.Classification{}, err
	}

	var reply llmReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return model.Classification{}, fmt.Errorf("decode intent reply: %w", err)
	}

	intent, err := model.ParseIntent(reply.Intent)
	if err != nil {
		return model.Classification{}, err
	}
	if reply.Confidence < c.cfg.LLMConfidence || reply.Confidence > 1 {
		return model.Classification{}, fmt.Errorf("confidence %.2f outside accepted range", reply.Confidence)
	}
	if intent == model.IntentClarify {
		return model.Clarify(), nil
	}

	return model.Classification{Intent: intent, Confidence: reply.Confidence, Method: model.MethodLLM}, nil
}

func systemPrompt() string {
	names := make([]string, 0, int(model.IntentCount))
	for _, intent := range model.AllIntents() {
		names = append(names, intent.String())
	}

	var b strings.Builder
	b.WriteString("You classify short accounting commands written by a small-business owner.\n")
	b.WriteString("Choose exactly one intent from this list: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".\nUse ")
	b.WriteString(model.IntentClarify.String())
	b.WriteString(" when the command is ambiguous or not about bookkeeping.\n")
	b.WriteString(`Reply as {"intent": "<INTENT>", "confidence": <0..1>}.`)
	return b.String()
}

// Normalize lowercases text and collapses whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
