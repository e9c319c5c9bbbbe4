// Package aggregate computes the commitment-savings metrics a report's
// renderers consume.
package aggregate

import (
	"math"

	"github.com/costlens/advisor/internal/models"
)

// CommitmentMetrics summarizes one taxonomy bucket.
type CommitmentMetrics struct {
	Count          int     `json:"count"`
	TotalSavings   float64 `json:"totalSavings"`
	AverageSavings float64 `json:"averageSavings"`
}

func (m *CommitmentMetrics) add(savings float64) {
	m.Count++
	m.TotalSavings += savings
}

func (m *CommitmentMetrics) finalize() {
	m.TotalSavings = round2(m.TotalSavings)
	if m.Count > 0 {
		m.AverageSavings = round2(m.TotalSavings / float64(m.Count))
	}
}

// TermMetrics splits a bucket by commitment term.
type TermMetrics struct {
	OneYear   CommitmentMetrics `json:"oneYear"`
	ThreeYear CommitmentMetrics `json:"threeYear"`
}

// Analysis is the full aggregation result cached on the report.
type Analysis struct {
	TotalRecommendations int                           `json:"totalRecommendations"`
	ByCategory           map[models.Category]int       `json:"byCategory"`
	ByImpact             map[models.BusinessImpact]int `json:"byImpact"`
	TotalSavings         float64                       `json:"totalSavings"`
	AverageSavings       float64                       `json:"averageSavings"`
	Currency             string                        `json:"currency,omitempty"`

	PureReservations TermMetrics       `json:"pureReservations"`
	PureSavingsPlans CommitmentMetrics `json:"pureSavingsPlans"`
	Combined         TermMetrics       `json:"combined"`

	// UncategorizedCount is a diagnostic signal: a high ratio points at
	// an upstream classifier or persistence defect.
	UncategorizedCount int `json:"uncategorizedCount"`
}

// Compute aggregates a report's recommendations. The taxonomy buckets
// partition the set: the four commitment groups plus the uncategorized
// count always sum to TotalRecommendations.
func Compute(recs []models.Recommendation) Analysis {
	a := Analysis{
		TotalRecommendations: len(recs),
		ByCategory:           map[models.Category]int{},
		ByImpact:             map[models.BusinessImpact]int{},
	}

	for _, rec := range recs {
		a.ByCategory[rec.Category]++
		a.ByImpact[rec.BusinessImpact]++
		a.TotalSavings += rec.PotentialSavings
		if a.Currency == "" && rec.Currency != "" {
			a.Currency = rec.Currency
		}

		savings := rec.PotentialSavings
		switch rec.Classification.CommitmentCategory {
		case models.CommitmentPureReservation1Y:
			a.PureReservations.OneYear.add(savings)
		case models.CommitmentPureReservation3Y:
			a.PureReservations.ThreeYear.add(savings)
		case models.CommitmentPureSavingsPlan:
			a.PureSavingsPlans.add(savings)
		case models.CommitmentCombinedSP1Y:
			a.Combined.OneYear.add(savings)
		case models.CommitmentCombinedSP3Y:
			a.Combined.ThreeYear.add(savings)
		default:
			a.UncategorizedCount++
		}
	}

	a.TotalSavings = round2(a.TotalSavings)
	if a.TotalRecommendations > 0 {
		a.AverageSavings = round2(a.TotalSavings / float64(a.TotalRecommendations))
	}
	a.PureReservations.OneYear.finalize()
	a.PureReservations.ThreeYear.finalize()
	a.PureSavingsPlans.finalize()
	a.Combined.OneYear.finalize()
	a.Combined.ThreeYear.finalize()
	return a
}

// CategorizedCount sums the non-uncategorized buckets.
func (a Analysis) CategorizedCount() int {
	return a.PureReservations.OneYear.Count +
		a.PureReservations.ThreeYear.Count +
		a.PureSavingsPlans.Count +
		a.Combined.OneYear.Count +
		a.Combined.ThreeYear.Count
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
