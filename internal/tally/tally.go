// Package tally counts ballots and resolves motion outcomes. It holds no
// state and performs no IO so that the same rules apply wherever a count
// is needed.
package tally

// Choice is a single recorded ballot value.
type Choice string

const (
	ChoiceFor     Choice = "for"
	ChoiceAgainst Choice = "against"
	ChoiceAbstain Choice = "abstain"
)

// Outcome is the result of resolving a count under strict majority.
type Outcome string

const (
	OutcomePassed     Outcome = "passed"
	OutcomeFailed     Outcome = "failed"
	OutcomeTied       Outcome = "tied"
	OutcomeUnresolved Outcome = "unresolved"
)

// Count is an aggregated view of the ballots on one motion.
type Count struct {
	For     int `json:"for"`
	Against int `json:"against"`
	Abstain int `json:"abstain"`
}

func (c Count) Total() int {
	return c.For + c.Against + c.Abstain
}

// Tally aggregates raw ballot values. Unknown values are ignored rather
// than rejected; validation belongs at the point of casting.
func Tally(choices []Choice) Count {
	var count Count
	for _, choice := range choices {
		switch choice {
		case ChoiceFor:
			count.For++
		case ChoiceAgainst:
			count.Against++
		case ChoiceAbstain:
			count.Abstain++
		}
	}
	return count
}

// Resolve applies strict majority to a count. Abstentions never sway the
// result. A motion with no ballots at all is unresolved, and an even split
// between for and against is tied.
func Resolve(count Count) Outcome {
	if count.Total() == 0 {
		return OutcomeUnresolved
	}
	switch {
	case count.For > count.Against:
		return OutcomePassed
	case count.Against > count.For:
		return OutcomeFailed
	default:
		return OutcomeTied
	}
}

// ValidChoice reports whether value is a recognised ballot value.
func ValidChoice(value string) bool {
	switch Choice(value) {
	case ChoiceFor, ChoiceAgainst, ChoiceAbstain:
		return true
	default:
		return false
	}
}
