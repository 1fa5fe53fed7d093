package match

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/mselser95/prediction-arb/pkg/types"
	"go.uber.org/zap/zaptest"
)

func market(venue types.Venue, id, question string, end time.Time) *types.UnifiedMarket {
	return &types.UnifiedMarket{
		Venue:      venue,
		ID:         id,
		Question:   question,
		EndDate:    end,
		YesTokenID: id + "-yes",
		NoTokenID:  id + "-no",
		Active:     true,
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		title string
		want  []string
	}{
		{
			name:  "strips-punctuation-and-stopwords",
			title: "Will Trump win the 2024 election?",
			want:  []string{"trump", "win", "2024", "election"},
		},
		{
			name:  "lowercases",
			title: "BITCOIN Above $100K",
			want:  []string{"bitcoin", "above", "100k"},
		},
		{
			name:  "outcome-words-survive",
			title: "X to win",
			want:  []string{"x", "win"},
		},
		{
			name:  "all-stopwords",
			title: "Will it be?",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.title)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize(%q) = %v, want %v", tt.title, got, tt.want)
			}
		})
	}
}

func TestJaccard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    []string
		b    []string
		want float64
	}{
		{name: "identical", a: []string{"x", "win"}, b: []string{"x", "win"}, want: 1.0},
		{name: "disjoint", a: []string{"x"}, b: []string{"y"}, want: 0},
		{name: "half-overlap", a: []string{"x", "win"}, b: []string{"x", "lose"}, want: 1.0 / 3.0},
		{name: "empty-side", a: nil, b: []string{"x"}, want: 0},
		{name: "duplicates-collapse", a: []string{"x", "x", "win"}, b: []string{"x", "win"}, want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Jaccard(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Jaccard(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMatch_PairsEquivalentMarkets(t *testing.T) {
	t.Parallel()

	matcher := New(&Config{Logger: zaptest.NewLogger(t)})
	end := time.Now().Add(48 * time.Hour)

	poly := market(types.VenuePolymarket, "p1", "Will X win?", end)
	kalshi := market(types.VenueKalshi, "k1", "X to win", end.Add(6*time.Hour))

	pairs := matcher.Match(
		[]*types.UnifiedMarket{poly},
		[]*types.UnifiedMarket{kalshi},
	)

	if len(pairs) != 1 {
		t.Fatalf("matched %d pairs, want 1", len(pairs))
	}
	if pairs[0].Similarity < 0.80 {
		t.Errorf("similarity = %.2f, want >= 0.80", pairs[0].Similarity)
	}
	if pairs[0].A.ID != "p1" || pairs[0].B.ID != "k1" {
		t.Errorf("pair = (%s, %s), want (p1, k1)", pairs[0].A.ID, pairs[0].B.ID)
	}
}

func TestMatch_BelowThresholdNoPair(t *testing.T) {
	t.Parallel()

	matcher := New(&Config{Logger: zaptest.NewLogger(t)})
	end := time.Now().Add(48 * time.Hour)

	pairs := matcher.Match(
		[]*types.UnifiedMarket{market(types.VenuePolymarket, "p1", "Will X win?", end)},
		[]*types.UnifiedMarket{market(types.VenueKalshi, "k1", "Will Y lose?", end)},
	)

	if len(pairs) != 0 {
		t.Fatalf("matched %d pairs, want 0", len(pairs))
	}
}

func TestMatch_EndDateGapRejects(t *testing.T) {
	t.Parallel()

	matcher := New(&Config{Logger: zaptest.NewLogger(t)})
	end := time.Now().Add(48 * time.Hour)

	pairs := matcher.Match(
		[]*types.UnifiedMarket{market(types.VenuePolymarket, "p1", "X to win", end)},
		[]*types.UnifiedMarket{market(types.VenueKalshi, "k1", "X to win", end.Add(72*time.Hour))},
	)

	if len(pairs) != 0 {
		t.Fatalf("matched %d pairs across 72h end gap, want 0", len(pairs))
	}
}

func TestMatch_MissingEndDateRejects(t *testing.T) {
	t.Parallel()

	matcher := New(&Config{Logger: zaptest.NewLogger(t)})

	pairs := matcher.Match(
		[]*types.UnifiedMarket{market(types.VenuePolymarket, "p1", "X to win", time.Time{})},
		[]*types.UnifiedMarket{market(types.VenueKalshi, "k1", "X to win", time.Now().Add(time.Hour))},
	)

	if len(pairs) != 0 {
		t.Fatalf("matched %d pairs without end dates, want 0", len(pairs))
	}
}

func TestMatch_BestCandidateWins(t *testing.T) {
	t.Parallel()

	matcher := New(&Config{Logger: zaptest.NewLogger(t)})
	end := time.Now().Add(48 * time.Hour)

	poly := market(types.VenuePolymarket, "p1", "Will the Lakers win the NBA finals 2026?", end)
	tight := market(types.VenueKalshi, "k1", "Lakers win NBA finals 2026", end)
	loose := market(types.VenueKalshi, "k2", "Lakers win NBA finals 2027 series", end)

	pairs := matcher.Match(
		[]*types.UnifiedMarket{poly},
		[]*types.UnifiedMarket{loose, tight},
	)

	if len(pairs) != 1 {
		t.Fatalf("matched %d pairs, want 1", len(pairs))
	}
	if pairs[0].B.ID != "k1" {
		t.Errorf("best match = %s, want k1", pairs[0].B.ID)
	}
}

func TestPairKey_StableUnderOrder(t *testing.T) {
	t.Parallel()

	end := time.Now().Add(time.Hour)
	a := market(types.VenuePolymarket, "p1", "X to win", end)
	b := market(types.VenueKalshi, "k1", "X to win", end)

	forward := Pair{A: a, B: b}
	reverse := Pair{A: b, B: a}

	if forward.Key() != reverse.Key() {
		t.Errorf("keys differ: %q vs %q", forward.Key(), reverse.Key())
	}
}
