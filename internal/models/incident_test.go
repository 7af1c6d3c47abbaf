package models

import "testing"

func TestSeverityFromScore(t *testing.T) {
	cases := []struct {
		score float64
		want  Severity
	}{
		{0.95, SeverityCritical},
		{0.9, SeverityCritical},
		{0.8, SeverityHigh},
		{0.7, SeverityHigh},
		{0.5, SeverityMedium},
		{0.4, SeverityMedium},
		{0.1, SeverityLow},
		{0, SeverityLow},
	}
	for _, tc := range cases {
		if got := SeverityFromScore(tc.score); got != tc.want {
			t.Fatalf("SeverityFromScore(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestSeverityRankMonotonic(t *testing.T) {
	order := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if SeverityRank(order[i]) <= SeverityRank(order[i-1]) {
			t.Fatalf("rank(%s) not above rank(%s)", order[i], order[i-1])
		}
	}
}

func TestTerminalStatus(t *testing.T) {
	terminal := map[IncidentStatus]bool{
		StatusOpen:       false,
		StatusInProgress: false,
		StatusResolved:   true,
		StatusFailed:     true,
		StatusClosed:     true,
	}
	for status, want := range terminal {
		if got := TerminalStatus(status); got != want {
			t.Fatalf("TerminalStatus(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestIncidentTagAndRelatedDeduplicate(t *testing.T) {
	inc := &Incident{ID: "inc-1"}
	inc.AddTag("deployment_failed")
	inc.AddTag("deployment_failed")
	inc.AddTag("ci-pipeline")
	if len(inc.Tags) != 2 {
		t.Fatalf("tags = %v", inc.Tags)
	}
	if !inc.HasTag("ci-pipeline") || inc.HasTag("missing") {
		t.Fatalf("HasTag misbehaves: %v", inc.Tags)
	}

	inc.AddRelated("inc-2")
	inc.AddRelated("inc-2")
	inc.AddRelated("inc-1") // self-reference ignored
	if len(inc.RelatedIncidents) != 1 || inc.RelatedIncidents[0] != "inc-2" {
		t.Fatalf("related = %v", inc.RelatedIncidents)
	}
}

func TestSuggestedActionKey(t *testing.T) {
	a := SuggestedAction{Type: ActionRollback, Target: "prod", Description: "x"}
	b := SuggestedAction{Type: ActionRollback, Target: "prod", Description: "y"}
	c := SuggestedAction{Type: ActionRollback, Target: "staging"}
	if a.Key() != b.Key() {
		t.Fatal("description must not affect the de-duplication key")
	}
	if a.Key() == c.Key() {
		t.Fatal("different targets must not collide")
	}
}
