package memory

import "testing"

func TestInferImportance(t *testing.T) {
	cases := map[string]float64{
		"NEVER push to main":           0.95,
		"Decision: use postgres":       0.75,
		"roadmap for q3":               0.55,
		"daily standup notes":          0.35,
		"scratch debug output":         0.15,
		"the sky is a pleasant colour": 0.45,
	}
	for content, want := range cases {
		if got := InferImportance(content); got != want {
			t.Errorf("InferImportance(%q) = %v, want %v", content, got, want)
		}
	}
}

func TestInferDecay(t *testing.T) {
	if got := InferDecay("rule", ""); got != 0.1 {
		t.Errorf("rule decay = %v, want 0.1", got)
	}
	if got := InferDecay("note", "architecture decision"); got != 0.5 {
		t.Errorf("typed note decay = %v, want 0.5", got)
	}
	if got := InferDecay("", "architecture decision"); got != 0.2 {
		t.Errorf("untyped decay = %v, want content-inferred 0.2", got)
	}
	if got := InferDecay("", "plain text"); got != DefaultDecayRate {
		t.Errorf("fallback decay = %v, want %v", got, DefaultDecayRate)
	}
}
