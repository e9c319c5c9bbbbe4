// Package classifier assigns a commitment taxonomy bucket to free-text
// advisory recommendations. Classification is a pure function of the
// recommendation and benefits text: no I/O, no hidden state.
package classifier

import (
	"strings"

	"github.com/costlens/advisor/internal/models"
)

// Options tune classification policy.
type Options struct {
	// DefaultTermYears is applied when a commitment is detected but the
	// text states no term. The historical behavior is 3; callers that
	// would rather not bias ambiguous text toward the longer term can
	// set 1.
	DefaultTermYears int
}

// DefaultOptions matches the behavior of the original advisory exports.
func DefaultOptions() Options {
	return Options{DefaultTermYears: 3}
}

// Classifier resolves recommendation text into a Classification.
type Classifier struct {
	opts Options
}

func New(opts Options) *Classifier {
	if opts.DefaultTermYears != 1 && opts.DefaultTermYears != 3 {
		opts.DefaultTermYears = 3
	}
	return &Classifier{opts: opts}
}

// Keyword sets. Matching is done on the lower-cased concatenation of
// recommendation and benefits text, substring semantics.
var (
	savingsPlanKeywords = []string{
		"savings plan",
		"compute savings",
	}

	reservationKeywords = []string{
		"reserved instance",
		"reservation",
		"commit",
		"reserve",
	}

	reservedInstancePhrases = []string{
		"reserved vm",
		"reserved instance",
	}

	reservedCapacityPhrases = []string{
		"reserved capacity",
	}

	multiTermPhrases = []string{
		"one or three year",
		"one or three-year",
		"1 or 3 year",
		"1 or 3-year",
	}

	threeYearPhrases = []string{
		"3-year",
		"3 year",
		"three-year",
		"three year",
		"36-month",
		"36 month",
	}

	oneYearPhrases = []string{
		"1-year",
		"1 year",
		"one-year",
		"one year",
		"12-month",
		"12 month",
	}
)

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// Classify inspects the recommendation and benefits text and returns
// the full classification value object. The five output fields are
// always produced together from one invocation; callers must persist
// them as a whole.
func (c *Classifier) Classify(recommendation, benefits string) models.Classification {
	text := strings.ToLower(recommendation + " " + benefits)

	isSavingsPlan := containsAny(text, savingsPlanKeywords)
	// A savings-plan mention is always a commitment recommendation,
	// even without explicit reservation wording.
	isReservation := isSavingsPlan || containsAny(text, reservationKeywords)

	if !isReservation {
		return models.Classification{
			CommitmentCategory: models.CommitmentUncategorized,
		}
	}

	riMatch := containsAny(text, reservedInstancePhrases)
	rcMatch := containsAny(text, reservedCapacityPhrases)

	// Reserved-instance phrasing beats reserved-capacity phrasing. The
	// savings-plan type is assigned only when no hardware reservation is
	// named alongside it: IsSavingsPlan already records the plan, so the
	// type slot is free to carry the reservation half of a combined
	// commitment.
	var resType models.ReservationType
	switch {
	case riMatch:
		resType = models.ReservationTypeInstance
	case rcMatch:
		resType = models.ReservationTypeCapacity
	case isSavingsPlan:
		resType = models.ReservationTypeSavingsPlan
	default:
		resType = models.ReservationTypeOther
	}

	term := c.extractTerm(text)

	cls := models.Classification{
		IsReservation:       true,
		ReservationType:     &resType,
		CommitmentTermYears: &term,
		IsSavingsPlan:       isSavingsPlan,
	}
	cls.CommitmentCategory = Categorize(cls)
	return cls
}

// extractTerm resolves the commitment term. Multi-term phrasing ("one
// or three year") is checked before single-term phrasing so the
// three-year substring inside it does not force a three-year read, and
// three-year patterns are checked before one-year ones.
func (c *Classifier) extractTerm(text string) int {
	if containsAny(text, multiTermPhrases) {
		return c.opts.DefaultTermYears
	}
	if containsAny(text, threeYearPhrases) {
		return 3
	}
	if containsAny(text, oneYearPhrases) {
		return 1
	}
	return c.opts.DefaultTermYears
}

// Categorize derives the commitment bucket from the other four
// classification fields. The stored category is redundant with them:
// re-running Categorize over a persisted row reproduces it, which is
// what makes the bucket safe to recompute after the fact.
func Categorize(cls models.Classification) models.CommitmentCategory {
	if !cls.IsReservation {
		return models.CommitmentUncategorized
	}
	resType := models.ReservationTypeOther
	if cls.ReservationType != nil {
		resType = *cls.ReservationType
	}
	term := 0
	if cls.CommitmentTermYears != nil {
		term = *cls.CommitmentTermYears
	}
	hardware := resType == models.ReservationTypeInstance || resType == models.ReservationTypeCapacity

	switch {
	case cls.IsSavingsPlan && hardware:
		if term == 1 {
			return models.CommitmentCombinedSP1Y
		}
		return models.CommitmentCombinedSP3Y
	case cls.IsSavingsPlan:
		return models.CommitmentPureSavingsPlan
	case hardware:
		if term == 1 {
			return models.CommitmentPureReservation1Y
		}
		return models.CommitmentPureReservation3Y
	default:
		return models.CommitmentUncategorized
	}
}
