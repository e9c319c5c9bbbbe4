package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costlens/advisor/internal/classifier"
	"github.com/costlens/advisor/internal/models"
)

func TestClassifyReservedInstance(t *testing.T) {
	c := classifier.New(classifier.DefaultOptions())

	got := c.Classify(
		"Consider using Azure Reserved VM Instances",
		"Reduce costs by committing to one or three-year terms",
	)

	assert.True(t, got.IsReservation)
	require.NotNil(t, got.ReservationType)
	assert.Equal(t, models.ReservationTypeInstance, *got.ReservationType)
	require.NotNil(t, got.CommitmentTermYears)
	assert.Equal(t, 3, *got.CommitmentTermYears)
	assert.False(t, got.IsSavingsPlan)
	assert.Equal(t, models.CommitmentPureReservation3Y, got.CommitmentCategory)
}

func TestClassifySavingsPlan(t *testing.T) {
	c := classifier.New(classifier.DefaultOptions())

	got := c.Classify(
		"Purchase a compute savings plan",
		"Flexible discount across VM families",
	)

	assert.True(t, got.IsReservation)
	assert.True(t, got.IsSavingsPlan)
	assert.Equal(t, models.CommitmentPureSavingsPlan, got.CommitmentCategory)
	require.NotNil(t, got.ReservationType)
	assert.Equal(t, models.ReservationTypeSavingsPlan, *got.ReservationType)
}

func TestClassifyNoCommitment(t *testing.T) {
	c := classifier.New(classifier.DefaultOptions())

	got := c.Classify("Enable accelerated networking", "Improve throughput")

	assert.False(t, got.IsReservation)
	assert.False(t, got.IsSavingsPlan)
	assert.Nil(t, got.ReservationType)
	assert.Nil(t, got.CommitmentTermYears)
	assert.Equal(t, models.CommitmentUncategorized, got.CommitmentCategory)
}

func TestClassifyCombined(t *testing.T) {
	c := classifier.New(classifier.DefaultOptions())

	got := c.Classify(
		"Combine a compute savings plan with reserved instances",
		"Stack a 1-year reserved instance purchase on top of the plan",
	)

	assert.True(t, got.IsSavingsPlan)
	assert.Equal(t, models.CommitmentCombinedSP1Y, got.CommitmentCategory)
	require.NotNil(t, got.CommitmentTermYears)
	assert.Equal(t, 1, *got.CommitmentTermYears)
	// The type slot carries the reservation half of the combination;
	// IsSavingsPlan records the plan half.
	require.NotNil(t, got.ReservationType)
	assert.Equal(t, models.ReservationTypeInstance, *got.ReservationType)
}

// The stored category must be reproducible from the other four fields
// alone. In particular a pure savings plan and a combined commitment
// must not collapse onto the same four-tuple.
func TestCategorizeRoundTrip(t *testing.T) {
	c := classifier.New(classifier.DefaultOptions())

	texts := []string{
		"Purchase a compute savings plan",
		"Combine a compute savings plan with reserved instances",
		"Combine a compute savings plan with reserved capacity, 1-year",
		"Consider using Azure Reserved VM Instances",
		"Buy reserved capacity for Cosmos DB",
		"Commit to a spending target",
		"Enable accelerated networking",
	}
	seen := map[string]models.CommitmentCategory{}
	for _, text := range texts {
		got := c.Classify(text, "")

		stripped := got
		stripped.CommitmentCategory = ""
		assert.Equal(t, got.CommitmentCategory, classifier.Categorize(stripped),
			"category not derivable from stored fields for %q", text)

		key := fourTupleKey(got)
		if prev, ok := seen[key]; ok {
			assert.Equal(t, prev, got.CommitmentCategory,
				"identical stored fields carry different categories: %q", text)
		}
		seen[key] = got.CommitmentCategory
	}
}

func fourTupleKey(cls models.Classification) string {
	key := ""
	if cls.IsReservation {
		key += "r"
	}
	if cls.IsSavingsPlan {
		key += "s"
	}
	if cls.ReservationType != nil {
		key += "|" + string(*cls.ReservationType)
	}
	if cls.CommitmentTermYears != nil {
		key += "|" + string(rune('0'+*cls.CommitmentTermYears))
	}
	return key
}

func TestClassifyTerms(t *testing.T) {
	c := classifier.New(classifier.DefaultOptions())

	cases := []struct {
		name     string
		text     string
		wantTerm int
		wantCat  models.CommitmentCategory
	}{
		{"explicit three year", "Buy reserved instances with a 3-year term", 3, models.CommitmentPureReservation3Y},
		{"three year spelled out", "Reserved instance, three year commitment", 3, models.CommitmentPureReservation3Y},
		{"thirty six months", "Reserved instances over 36 months", 3, models.CommitmentPureReservation3Y},
		{"explicit one year", "Buy reserved instances with a 1-year term", 1, models.CommitmentPureReservation1Y},
		{"twelve months", "Reserved instance for 12 months", 1, models.CommitmentPureReservation1Y},
		{"no term stated defaults to three", "Purchase reserved instances", 3, models.CommitmentPureReservation3Y},
		{"multi term defaults to three", "Reserved instances, one or three year terms", 3, models.CommitmentPureReservation3Y},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.text, "")
			require.NotNil(t, got.CommitmentTermYears)
			assert.Equal(t, tc.wantTerm, *got.CommitmentTermYears)
			assert.Equal(t, tc.wantCat, got.CommitmentCategory)
		})
	}
}

func TestClassifyConfigurableDefaultTerm(t *testing.T) {
	c := classifier.New(classifier.Options{DefaultTermYears: 1})

	got := c.Classify("Purchase reserved capacity", "")
	require.NotNil(t, got.CommitmentTermYears)
	assert.Equal(t, 1, *got.CommitmentTermYears)
	assert.Equal(t, models.CommitmentPureReservation1Y, got.CommitmentCategory)
}

func TestClassifyReservedCapacity(t *testing.T) {
	c := classifier.New(classifier.DefaultOptions())

	got := c.Classify("Buy reserved capacity for Cosmos DB", "Commit for 3 years")
	require.NotNil(t, got.ReservationType)
	assert.Equal(t, models.ReservationTypeCapacity, *got.ReservationType)
	assert.Equal(t, models.CommitmentPureReservation3Y, got.CommitmentCategory)
}

// Commitment wording without a resolvable product stays uncategorized
// but is still flagged as a commitment recommendation.
func TestClassifyCommitWordOnly(t *testing.T) {
	c := classifier.New(classifier.DefaultOptions())

	got := c.Classify("Commit to a spending target", "")
	assert.True(t, got.IsReservation)
	require.NotNil(t, got.ReservationType)
	assert.Equal(t, models.ReservationTypeOther, *got.ReservationType)
	assert.Equal(t, models.CommitmentUncategorized, got.CommitmentCategory)
}

func TestClassifyDeterministic(t *testing.T) {
	c := classifier.New(classifier.DefaultOptions())

	first := c.Classify("Consider using Azure Reserved VM Instances", "one or three-year terms")
	second := c.Classify("Consider using Azure Reserved VM Instances", "one or three-year terms")
	assert.Equal(t, first, second)
}

func TestClassifyCaseInsensitive(t *testing.T) {
	c := classifier.New(classifier.DefaultOptions())

	lower := c.Classify("purchase a compute savings plan", "")
	upper := c.Classify("PURCHASE A COMPUTE SAVINGS PLAN", "")
	assert.Equal(t, lower.CommitmentCategory, upper.CommitmentCategory)
}
