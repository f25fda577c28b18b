// Package scoring ranks venues for a user from four weighted signals.
package scoring

import (
	"math"
	"strings"

	"github.com/okian/rally/internal/domain/model"
)

// Factor weights out of a total of 10.
const (
	WeightPopularity = 3.0
	WeightCategory   = 2.5
	WeightFriend     = 2.5
	WeightProximity  = 2.0
	MaxScore         = WeightPopularity + WeightCategory + WeightFriend + WeightProximity
)

const (
	defaultPopularitySaturation = 20
	defaultFriendSaturation     = 3

	exactCategoryMatch = 1.0
	fuzzyCategoryMatch = 0.5
)

// Option applies a configuration option to the WeightedScorer.
type Option func(*WeightedScorer)

// WithPopularitySaturation sets the interested count at which popularity maxes out.
func WithPopularitySaturation(n int) Option {
	return func(s *WeightedScorer) {
		if n > 0 {
			s.popularitySaturation = n
		}
	}
}

// WithFriendSaturation sets the friend count at which the friend signal maxes out.
func WithFriendSaturation(n int) Option {
	return func(s *WeightedScorer) {
		if n > 0 {
			s.friendSaturation = n
		}
	}
}

// Input carries everything needed to score one venue for one user.
type Input struct {
	Interests       []string
	Category        string
	InterestedCount int
	// FriendNames are the display names of the user's friends interested in the venue.
	FriendNames []string
	// DistanceKm is nil when either side lacks coordinates.
	DistanceKm *float64
}

// Result is the scored venue.
type Result struct {
	Total     float64
	Breakdown model.ScoreBreakdown
	Reason    string
}

// Scorer computes a deterministic score for a venue.
type Scorer interface {
	Score(in Input) Result
}

// WeightedScorer implements Scorer with fixed weights and saturating normalizers.
type WeightedScorer struct {
	popularitySaturation int
	friendSaturation     int
}

// NewWeightedScorer creates a scorer with configuration options.
func NewWeightedScorer(opts ...Option) *WeightedScorer {
	s := &WeightedScorer{
		popularitySaturation: defaultPopularitySaturation,
		friendSaturation:     defaultFriendSaturation,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the total, the breakdown and the reason text.
func (s *WeightedScorer) Score(in Input) Result {
	pop := s.popularity(in.InterestedCount)
	cat := categoryMatch(in.Interests, in.Category)
	friends := s.friendSignal(len(in.FriendNames))
	prox := proximity(in.DistanceKm)

	b := model.ScoreBreakdown{
		Popularity:    pop * WeightPopularity,
		CategoryMatch: cat * WeightCategory,
		FriendSignal:  friends * WeightFriend,
		Proximity:     prox * WeightProximity,
	}
	return Result{
		Total:     clamp(b.Total(), 0, MaxScore),
		Breakdown: b,
		Reason: reason(reasonInput{
			friendNames: in.FriendNames,
			distanceKm:  in.DistanceKm,
			popularity:  pop,
			count:       in.InterestedCount,
			category:    cat,
			categoryTag: in.Category,
		}),
	}
}

// popularity is log1p(count)/log1p(saturation), capped at 1.
func (s *WeightedScorer) popularity(count int) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(1, math.Log1p(float64(count))/math.Log1p(float64(s.popularitySaturation)))
}

func (s *WeightedScorer) friendSignal(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(min(n, s.friendSaturation)) / float64(s.friendSaturation)
}

// categoryMatch is 1 on an exact case-insensitive match with any declared
// interest and 0.5 when one contains the other or they share a word.
func categoryMatch(interests []string, category string) float64 {
	c := normalize(category)
	if c == "" {
		return 0
	}
	best := 0.0
	for _, raw := range interests {
		i := normalize(raw)
		if i == "" {
			continue
		}
		if i == c {
			return exactCategoryMatch
		}
		if strings.Contains(i, c) || strings.Contains(c, i) || sharesToken(i, c) {
			best = fuzzyCategoryMatch
		}
	}
	return best
}

func proximity(distanceKm *float64) float64 {
	if distanceKm == nil {
		return 0
	}
	d := *distanceKm
	switch {
	case d <= 1:
		return 1.0
	case d <= 3:
		return 0.75
	case d <= 5:
		return 0.5
	case d <= 8:
		return 0.25
	default:
		return 0
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sharesToken(a, b string) bool {
	tokens := make(map[string]struct{})
	for _, t := range strings.FieldsFunc(a, isSeparator) {
		tokens[t] = struct{}{}
	}
	for _, t := range strings.FieldsFunc(b, isSeparator) {
		if _, ok := tokens[t]; ok {
			return true
		}
	}
	return false
}

func isSeparator(r rune) bool {
	return r == ' ' || r == '-' || r == '_' || r == '/' || r == '&' || r == ','
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
