package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// EntitySource lists the known counterparty names.
type EntitySource interface {
	ListEntities(ctx context.Context) ([]model.Entity, error)
}

// ResolverConfig tunes fuzzy matching.
type ResolverConfig struct {
	MinSimilarity float64       `mapstructure:"min_similarity"`
	Margin        float64       `mapstructure:"margin"`
	TopN          int           `mapstructure:"top_n"`
	RefreshEvery  time.Duration `mapstructure:"refresh_every"`
}

// DefaultResolverConfig returns the production matching thresholds.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		MinSimilarity: 0.80,
		Margin:        0.05,
		TopN:          3,
		RefreshEvery:  time.Minute,
	}
}

// Resolution is the outcome of matching one name.
type Resolution struct {
	// Match is set when a single entity was committed.
	Match      string
	Candidates []model.Candidate
	Score      float64
	Exact      bool
	// Approximate marks a committed match where some query word is absent
	// from the name, so the operator should confirm it.
	Approximate bool
}

// Resolved reports whether a single entity was committed.
func (r Resolution) Resolved() bool { return r.Match != "" }

// Resolver matches free-text names against the known-entity list.
// The list is cached and refreshed lazily; stale entries are acceptable.
type Resolver struct {
	loadedAt    time.Time
	source      EntitySource
	logger      *slog.Logger
	levenshtein *metrics.Levenshtein
	jaro        *metrics.JaroWinkler
	entities    []model.Entity
	cfg         ResolverConfig
	mu          sync.Mutex
}

// NewResolver creates a resolver over source.
func NewResolver(source EntitySource, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	def := DefaultResolverConfig()
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = def.MinSimilarity
	}
	if cfg.Margin <= 0 {
		cfg.Margin = def.Margin
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = def.RefreshEvery
	}

	lev := metrics.NewLevenshtein()
	lev.CaseSensitive = false
	jw := metrics.NewJaroWinkler()
	jw.CaseSensitive = false

	return &Resolver{
		source:      source,
		cfg:         cfg,
		logger:      common.OrDefault(logger),
		levenshtein: lev,
		jaro:        jw,
	}
}

// Invalidate forces the next Resolve to reload the entity list.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadedAt = time.Time{}
}

func (r *Resolver) load(ctx context.Context) ([]model.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loadedAt.IsZero() && time.Since(r.loadedAt) < r.cfg.RefreshEvery {
		return r.entities, nil
	}

	entities, err := r.source.ListEntities(ctx)
	if err != nil {
		if r.entities != nil {
			r.logger.Warn("entity refresh failed, using cached list", "error", err)
			return r.entities, nil
		}
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	r.entities = entities
	r.loadedAt = time.Now()
	return entities, nil
}

// Resolve matches query. An exact case-insensitive match always wins.
// Otherwise entities scoring at least MinSimilarity are ranked; the top one is
// committed only when it is the sole candidate or leads the runner-up by Margin.
func (r *Resolver) Resolve(ctx context.Context, query string) (Resolution, error) {
	entities, err := r.load(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}

	normalizedQuery := normalizeName(query)
	if normalizedQuery == "" {
		return Resolution{Candidates: []model.Candidate{}}, nil
	}

	candidates := make([]model.Candidate, 0)
	for _, entity := range entities {
		if normalizeName(entity.Name) == normalizedQuery {
			return Resolution{
				Match:      entity.Name,
				Score:      1,
				Exact:      true,
				Candidates: []model.Candidate{{Name: entity.Name, Score: 1}},
			}, nil
		}

		score := r.Similarity(query, entity.Name)
		if score >= r.cfg.MinSimilarity {
			candidates = append(candidates, model.Candidate{Name: entity.Name, Score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Name < candidates[j].Name
	})
	if len(candidates) > r.cfg.TopN {
		candidates = candidates[:r.cfg.TopN]
	}

	res := Resolution{Candidates: candidates}
	switch {
	case len(candidates) == 1:
		res.Match, res.Score = candidates[0].Name, candidates[0].Score
	case len(candidates) > 1 && candidates[0].Score-candidates[1].Score >= r.cfg.Margin:
		res.Match, res.Score = candidates[0].Name, candidates[0].Score
	}
	if res.Resolved() {
		res.Approximate = !containsWords(res.Match, query)
	}

	r.logger.Debug("resolved entity",
		"query", query,
		"candidates", len(candidates),
		"match", res.Match)
	return res, nil
}

// Similarity is the larger of the whole-string Levenshtein ratio and the mean,
// over query tokens, of each token's best Jaro-Winkler score against the name.
func (r *Resolver) Similarity(query, name string) float64 {
	q, n := normalizeName(query), normalizeName(name)
	if q == "" || n == "" {
		return 0
	}

	whole := strutil.Similarity(q, n, r.levenshtein)

	nameTokens := strings.Fields(n)
	queryTokens := strings.Fields(q)
	total := 0.0
	for _, qt := range queryTokens {
		best := 0.0
		for _, nt := range nameTokens {
			if s := strutil.Similarity(qt, nt, r.jaro); s > best {
				best = s
			}
		}
		total += best
	}
	tokens := total / float64(len(queryTokens))

	return max(whole, tokens)
}

// containsWords reports whether every word of query appears in name.
func containsWords(name, query string) bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(normalizeName(name)) {
		words[w] = true
	}
	for _, w := range strings.Fields(normalizeName(query)) {
		if !words[w] {
			return false
		}
	}
	return true
}

// normalizeName lowercases, drops punctuation and collapses whitespace.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
