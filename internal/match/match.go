// Package match pairs equivalent binary markets across venues. Titles are
// normalized (lowercased, punctuation stripped, stopwords removed) and
// compared as token sets with Jaccard similarity; a pair forms when the
// similarity clears the threshold and both markets resolve within a day of
// each other.
package match

import (
	"strings"
	"time"
	"unicode"

	"github.com/mselser95/prediction-arb/pkg/types"
	"go.uber.org/zap"
)

const (
	// DefaultMinSimilarity is the Jaccard threshold for a cross-venue pair.
	DefaultMinSimilarity = 0.80

	// DefaultMaxEndGap bounds how far apart the two markets may resolve.
	DefaultMaxEndGap = 24 * time.Hour
)

// stopwords are dropped from titles before comparison. Kept deliberately
// small: outcome-bearing words like "win" must survive normalization.
//
//nolint:gochecknoglobals // static token table
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true,
	"will": true, "be": true, "is": true, "are": true, "was": true,
	"do": true, "does": true, "did": true,
	"to": true, "in": true, "on": true, "at": true, "of": true, "by": true,
	"for": true, "and": true, "or": true,
	"it": true, "this": true, "that": true,
}

// Pair couples two markets from distinct venues that track the same event.
type Pair struct {
	A          *types.UnifiedMarket
	B          *types.UnifiedMarket
	Similarity float64
}

// Key returns the pair's lock and cooldown key. The two market keys are
// joined in lexical order so the key is stable regardless of which venue
// came first.
func (p *Pair) Key() string {
	ka, kb := p.A.Key(), p.B.Key()
	if kb < ka {
		ka, kb = kb, ka
	}
	return ka + "|" + kb
}

// Normalize lowercases the title, strips punctuation, drops stopwords and
// returns the remaining tokens.
func Normalize(title string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, title)

	fields := strings.Fields(cleaned)
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if stopwords[field] {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

// Jaccard computes |A ∩ B| / |A ∪ B| over the two token lists treated as
// sets. Two empty sets score zero.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(a))
	for _, token := range a {
		setA[token] = true
	}

	setB := make(map[string]bool, len(b))
	for _, token := range b {
		setB[token] = true
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Config holds matcher configuration.
type Config struct {
	// MinSimilarity is the Jaccard threshold; zero means DefaultMinSimilarity.
	MinSimilarity float64
	// MaxEndGap bounds resolution-time distance; zero means DefaultMaxEndGap.
	MaxEndGap time.Duration
	Logger    *zap.Logger
}

// Matcher finds cross-venue market pairs.
type Matcher struct {
	minSimilarity float64
	maxEndGap     time.Duration
	logger        *zap.Logger
}

// New creates a new matcher.
func New(cfg *Config) *Matcher {
	minSimilarity := cfg.MinSimilarity
	if minSimilarity == 0 {
		minSimilarity = DefaultMinSimilarity
	}

	maxEndGap := cfg.MaxEndGap
	if maxEndGap == 0 {
		maxEndGap = DefaultMaxEndGap
	}

	return &Matcher{
		minSimilarity: minSimilarity,
		maxEndGap:     maxEndGap,
		logger:        cfg.Logger,
	}
}

// Match pairs each market on the left with its best counterpart on the
// right. A right-side market may back multiple left-side markets; the
// engine's per-pair locks keep executions disjoint regardless.
func (m *Matcher) Match(left, right []*types.UnifiedMarket) []Pair {
	if len(left) == 0 || len(right) == 0 {
		return nil
	}

	rightTokens := make([][]string, len(right))
	for i, market := range right {
		rightTokens[i] = Normalize(market.Question)
	}

	pairs := make([]Pair, 0)
	for _, a := range left {
		tokensA := Normalize(a.Question)
		if len(tokensA) == 0 {
			continue
		}

		var best *types.UnifiedMarket
		bestSimilarity := 0.0

		for i, b := range right {
			if !m.closeTogether(a, b) {
				continue
			}

			similarity := Jaccard(tokensA, rightTokens[i])
			CandidatesComparedTotal.Inc()

			if similarity >= m.minSimilarity && similarity > bestSimilarity {
				best = b
				bestSimilarity = similarity
			}
		}

		if best == nil {
			continue
		}

		pair := Pair{A: a, B: best, Similarity: bestSimilarity}
		pairs = append(pairs, pair)
		PairsMatchedTotal.Inc()

		m.logger.Debug("cross-venue-pair-matched",
			zap.String("pair-key", pair.Key()),
			zap.Float64("similarity", bestSimilarity),
			zap.String("left-question", a.Question),
			zap.String("right-question", best.Question))
	}

	return pairs
}

// closeTogether requires both markets to carry an end date and to resolve
// within the configured gap of each other.
func (m *Matcher) closeTogether(a, b *types.UnifiedMarket) bool {
	if a.EndDate.IsZero() || b.EndDate.IsZero() {
		return false
	}

	gap := a.EndDate.Sub(b.EndDate)
	if gap < 0 {
		gap = -gap
	}
	return gap <= m.maxEndGap
}
