// Package consensus computes the estimation summary of a story.
package consensus

import (
	"math"
	"strconv"

	"github.com/npezzotti/go-poker/internal/types"
)

type Summary struct {
	// EstimatedValues counts users per distinct value. Keys are the values
	// formatted with FormatValue.
	EstimatedValues    map[string]int         `json:"estimatedValues"`
	EstimationCount    int                    `json:"estimationCount"`
	Average            *float64               `json:"average,omitempty"`
	HasConsensus       bool                   `json:"hasConsensus"`
	Recommendation     *float64               `json:"recommendation,omitempty"`
	RecommendationCard *types.CardConfigEntry `json:"recommendationCard,omitempty"`
}

func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Summarize never modifies its arguments.
func Summarize(estimations map[string]float64, cards []types.CardConfigEntry) Summary {
	s := Summary{
		EstimatedValues: make(map[string]int),
		EstimationCount: len(estimations),
	}

	var (
		sum     float64
		numeric int
	)
	for _, v := range estimations {
		s.EstimatedValues[FormatValue(v)]++
		if v < 0 {
			continue
		}
		sum += v
		numeric++
	}

	s.HasConsensus = len(s.EstimatedValues) == 1

	if numeric == 0 {
		return s
	}

	avg := sum / float64(numeric)
	s.Average = &avg

	if rec, ok := recommend(avg, cards); ok {
		s.Recommendation = &rec
		if card, ok := types.FindCard(cards, rec); ok {
			s.RecommendationCard = &card
		}
	}

	return s
}

// recommend picks the non-negative card value closest to avg, preferring
// the lower value on a tie.
func recommend(avg float64, cards []types.CardConfigEntry) (float64, bool) {
	var (
		best  float64
		found bool
	)
	for _, c := range cards {
		if c.IsSentinel() {
			continue
		}
		if !found {
			best, found = c.Value, true
			continue
		}

		d, bd := math.Abs(c.Value-avg), math.Abs(best-avg)
		if d < bd || (d == bd && c.Value < best) {
			best = c.Value
		}
	}
	return best, found
}

// UnanimousValue returns the single value every estimator picked.
func UnanimousValue(estimations map[string]float64) (float64, bool) {
	var (
		first float64
		seen  bool
	)
	for _, v := range estimations {
		if !seen {
			first, seen = v, true
			continue
		}
		if v != first {
			return 0, false
		}
	}
	return first, seen
}

// Settled reports whether a story was settled manually on a value other
// than the one everybody agreed on.
func Settled(estimations map[string]float64, consensus *float64) bool {
	if consensus == nil {
		return false
	}
	v, ok := UnanimousValue(estimations)
	return !ok || v != *consensus
}
