package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Pattern maps a regular expression to an intent.
type Pattern struct {
	Name       string
	Regex      string
	Priority   int     // Higher priority patterns are checked first
	Confidence float64 // Confidence reported when the pattern matches
	Intent     model.Intent
}

type compiledPattern struct {
	re *regexp.Regexp
	Pattern
}

// Match is a pattern hit.
type Match struct {
	PatternName string
	Intent      model.Intent
	Confidence  float64
}

// PatternDetector evaluates patterns in priority order.
type PatternDetector struct {
	patterns []compiledPattern
	mu       sync.RWMutex
}

// NewPatternDetector compiles patterns case-insensitively.
func NewPatternDetector(patterns []Pattern) (*PatternDetector, error) {
	pd := &PatternDetector{}
	if err := pd.UpdatePatterns(patterns); err != nil {
		return nil, err
	}
	return pd, nil
}

// UpdatePatterns replaces the pattern table.
func (pd *PatternDetector) UpdatePatterns(patterns []Pattern) error {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		regexStr := p.Regex
		if !strings.HasPrefix(regexStr, "(?i)") {
			regexStr = "(?i)" + regexStr
		}

		re, err := regexp.Compile(regexStr)
		if err != nil {
			return fmt.Errorf("failed to compile pattern %s: %w", p.Name, err)
		}
		compiled = append(compiled, compiledPattern{Pattern: p, re: re})
	}

	// Stable so equal priorities keep table order.
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	pd.mu.Lock()
	pd.patterns = compiled
	pd.mu.Unlock()
	return nil
}

// Detect returns the first match whose confidence reaches threshold, and
// separately the best match below it (for logging). Either may be nil.
func (pd *PatternDetector) Detect(text string, threshold float64) (match, weak *Match) {
	pd.mu.RLock()
	defer pd.mu.RUnlock()

	for _, p := range pd.patterns {
		if !p.re.MatchString(text) {
			continue
		}
		m := &Match{PatternName: p.Name, Intent: p.Intent, Confidence: p.Confidence}
		if p.Confidence >= threshold {
			return m, weak
		}
		if weak == nil || m.Confidence > weak.Confidence {
			weak = m
		}
	}
	return nil, weak
}

// PatternCount returns the number of loaded patterns.
func (pd *PatternDetector) PatternCount() int {
	pd.mu.RLock()
	defer pd.mu.RUnlock()
	return len(pd.patterns)
}
