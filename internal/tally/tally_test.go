package tally

import "testing"

func TestTallyCountsChoices(t *testing.T) {
	count := Tally([]Choice{ChoiceFor, ChoiceFor, ChoiceAgainst, ChoiceAbstain, Choice("bogus")})
	if count.For != 2 || count.Against != 1 || count.Abstain != 1 {
		t.Fatalf("unexpected count: %+v", count)
	}
	if count.Total() != 4 {
		t.Fatalf("Total() = %d, want 4", count.Total())
	}
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name  string
		count Count
		want  Outcome
	}{
		{name: "majority for", count: Count{For: 3, Against: 1}, want: OutcomePassed},
		{name: "majority against", count: Count{For: 1, Against: 2}, want: OutcomeFailed},
		{name: "even split", count: Count{For: 2, Against: 2}, want: OutcomeTied},
		{name: "abstain only is tied", count: Count{Abstain: 3}, want: OutcomeTied},
		{name: "abstentions do not sway", count: Count{For: 1, Against: 0, Abstain: 5}, want: OutcomePassed},
		{name: "no ballots", count: Count{}, want: OutcomeUnresolved},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Resolve(tc.count); got != tc.want {
				t.Fatalf("Resolve(%+v) = %q, want %q", tc.count, got, tc.want)
			}
		})
	}
}

func TestValidChoice(t *testing.T) {
	for _, valid := range []string{"for", "against", "abstain"} {
		if !ValidChoice(valid) {
			t.Fatalf("ValidChoice(%q) = false, want true", valid)
		}
	}
	if ValidChoice("maybe") {
		t.Fatal(`ValidChoice("maybe") = true, want false`)
	}
}
