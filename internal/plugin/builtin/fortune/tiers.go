package fortune

// Tier maps an inclusive value range to a label and icon.
type Tier struct {
	Min   int    `json:"min"`
	Max   int    `json:"max"`
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

// Tiers is an ordered level table. The first tier containing a value wins.
type Tiers []Tier

const (
	unknownLabel = "unknown"
	unknownIcon  = "?"
)

func DefaultTiers() Tiers {
	return Tiers{
		{0, 0, "极其倒霉", "😫"},
		{1, 2, "倒大霉", "😣"},
		{3, 10, "十分不顺", "😟"},
		{11, 20, "略微不顺", "😕"},
		{21, 30, "正常运气", "😐"},
		{31, 98, "好运", "😊"},
		{99, 99, "极其好运", "😄"},
		{100, 100, "万事皆允", "🤩"},
	}
}

// Classify returns the label and icon of the first tier containing v, or
// ("unknown", "?") when none does.
func (t Tiers) Classify(v int) (label, icon string) {
	for _, tier := range t {
		if tier.Min <= v && v <= tier.Max {
			return tier.Label, tier.Icon
		}
	}
	return unknownLabel, unknownIcon
}

// Validate checks that tiers are well formed, ascending, disjoint and cover
// every value in [min, max]. Tiers may extend past the range.
func (t Tiers) Validate(min, max int) error {
	if len(t) == 0 {
		return &TierCoverageError{Kind: "empty"}
	}
	for i, tier := range t {
		if tier.Min > tier.Max {
			return &TierCoverageError{Kind: "inverted", From: tier.Min, To: tier.Max}
		}
		if i > 0 && tier.Min <= t[i-1].Max {
			return &TierCoverageError{Kind: "overlap", From: tier.Min, To: t[i-1].Max}
		}
	}

	next := min // smallest value not yet covered
	for _, tier := range t {
		if next > max {
			break
		}
		if tier.Max < next {
			continue
		}
		if tier.Min > next {
			return &TierCoverageError{Kind: "gap", From: next, To: minInt(tier.Min-1, max)}
		}
		if tier.Max >= max {
			return nil
		}
		next = tier.Max + 1
	}
	if next <= max {
		return &TierCoverageError{Kind: "gap", From: next, To: max}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
