package memory

import (
	"context"
	"math"
	"testing"
	"time"
)

func f(v float64) *float64 { return &v }

func tp(t time.Time) *time.Time { return &t }

var refNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestScoreSingleAccessTenDaysAgo(t *testing.T) {
	s := &Scorer{Noise: ZeroNoise}
	created := refNow.Add(-240 * time.Hour)
	it := Item{
		ID:          "m1",
		CreatedAt:   tp(created),
		AccessCount: 1,
		DecayRate:   f(0.5),
		Importance:  f(0.5),
		Confidence:  f(0.5),
	}

	base := BaseLevel(refNow, AccessTimes(refNow, it.CreatedAt, it.LastAccessed, it.AccessCount), 0.5)
	if math.Abs(base-(-2.74)) > 0.01 {
		t.Fatalf("base level = %.4f, want ~-2.74", base)
	}
	got := s.Score(refNow, it)
	if math.Abs(got-(-1.74)) > 0.01 {
		t.Fatalf("score = %.4f, want ~-1.74", got)
	}
}

func TestAccessTimes(t *testing.T) {
	created := refNow.Add(-10 * time.Hour)
	last := refNow.Add(-2 * time.Hour)

	t.Run("zero count uses creation", func(t *testing.T) {
		got := AccessTimes(refNow, &created, &last, 0)
		if len(got) != 1 || !got[0].Equal(created) {
			t.Fatalf("got %v, want [%v]", got, created)
		}
	})
	t.Run("single count uses last access", func(t *testing.T) {
		got := AccessTimes(refNow, &created, &last, 1)
		if len(got) != 1 || !got[0].Equal(last) {
			t.Fatalf("got %v, want [%v]", got, last)
		}
	})
	t.Run("interpolates evenly", func(t *testing.T) {
		got := AccessTimes(refNow, &created, &last, 5)
		if len(got) != 5 {
			t.Fatalf("got %d accesses, want 5", len(got))
		}
		if !got[0].Equal(created) || !got[4].Equal(last) {
			t.Fatalf("endpoints = %v..%v, want %v..%v", got[0], got[4], created, last)
		}
		if step := got[1].Sub(got[0]); step != 2*time.Hour {
			t.Fatalf("step = %v, want 2h", step)
		}
	})
	t.Run("missing timestamps fall back", func(t *testing.T) {
		got := AccessTimes(refNow, nil, nil, 3)
		if len(got) != 3 {
			t.Fatalf("got %d accesses, want 3", len(got))
		}
		for _, a := range got {
			if !a.Equal(refNow) {
				t.Fatalf("access %v, want now", a)
			}
		}
	})
}

func TestBaseLevelFloorsElapsedAndClampsDecay(t *testing.T) {
	// An access at "now" is treated as one second old, not zero.
	got := BaseLevel(refNow, []time.Time{refNow}, 0.5)
	want := math.Log(math.Pow(1.0/3600.0, -0.5))
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("base = %v, want %v", got, want)
	}

	old := []time.Time{refNow.Add(-100 * time.Hour)}
	if a, b := BaseLevel(refNow, old, 5), BaseLevel(refNow, old, 2.0); a != b {
		t.Fatalf("decay 5 gave %v, want clamp to 2.0 (%v)", a, b)
	}
	if a, b := BaseLevel(refNow, old, 0), BaseLevel(refNow, old, 0.01); a != b {
		t.Fatalf("decay 0 gave %v, want clamp to 0.01 (%v)", a, b)
	}
}

func TestScoreMonotonicInImportance(t *testing.T) {
	s := &Scorer{Noise: ZeroNoise}
	created := refNow.Add(-72 * time.Hour)
	b := Item{ID: "b", CreatedAt: tp(created), LastAccessed: tp(refNow.Add(-24 * time.Hour)), AccessCount: 3, Importance: f(0.3), DecayRate: f(0.5), Confidence: f(0.7)}
	a := b
	a.ID = "a"
	a.Importance = f(0.6)
	a.LastAccessed = tp(refNow.Add(-6 * time.Hour))

	if sa, sb := s.Score(refNow, a), s.Score(refNow, b); sa < sb {
		t.Fatalf("score(a)=%v < score(b)=%v", sa, sb)
	}
}

func TestRankStableAcrossRuns(t *testing.T) {
	items := []Item{
		{ID: "low", CreatedAt: tp(refNow.Add(-500 * time.Hour)), Importance: f(0.1)},
		{ID: "mid", CreatedAt: tp(refNow.Add(-48 * time.Hour)), Importance: f(0.5)},
		{ID: "high", CreatedAt: tp(refNow.Add(-time.Hour)), Importance: f(0.9)},
	}

	s := &Scorer{Sigma: DefaultNoise, Noise: NewSeededNoise(7)}
	first := s.Rank(refNow, items)
	second := s.Rank(refNow, items)

	byID := map[string]float64{}
	for _, r := range first {
		byID[r.Item.ID] = r.Score
	}
	for i, r := range second {
		if diff := math.Abs(byID[r.Item.ID] - r.Score); diff > 3*DefaultNoise*2 {
			t.Fatalf("%s drifted by %v", r.Item.ID, diff)
		}
		if r.Item.ID != first[i].Item.ID {
			t.Fatalf("order changed at %d: %s vs %s", i, r.Item.ID, first[i].Item.ID)
		}
	}
	if first[0].Item.ID != "high" || first[2].Item.ID != "low" {
		t.Fatalf("unexpected order: %s, %s, %s", first[0].Item.ID, first[1].Item.ID, first[2].Item.ID)
	}
}

func TestSeededNoiseIsDeterministic(t *testing.T) {
	it := Item{ID: "x", CreatedAt: tp(refNow.Add(-5 * time.Hour)), Importance: f(0.4)}
	a := (&Scorer{Sigma: DefaultNoise, Noise: NewSeededNoise(42)}).Score(refNow, it)
	b := (&Scorer{Sigma: DefaultNoise, Noise: NewSeededNoise(42)}).Score(refNow, it)
	if a != b {
		t.Fatalf("same seed gave %v and %v", a, b)
	}
}

type fakeActivationStore struct {
	items []Item
	saved map[string]float64
	at    time.Time
}

func (f *fakeActivationStore) ActiveItems(context.Context, Scope) ([]Item, error) {
	return f.items, nil
}

func (f *fakeActivationStore) SaveActivations(_ context.Context, _ Scope, scores map[string]float64, at time.Time) error {
	f.saved = scores
	f.at = at
	return nil
}

func TestRescanPersistsEveryItem(t *testing.T) {
	st := &fakeActivationStore{items: []Item{
		{ID: "a", CreatedAt: tp(refNow.Add(-time.Hour)), Importance: f(0.2)},
		{ID: "b", CreatedAt: tp(refNow.Add(-2 * time.Hour)), Importance: f(0.8)},
	}}
	s := &Scorer{Noise: ZeroNoise, Now: func() time.Time { return refNow }}

	ranked, err := s.Rescan(context.Background(), st, ScopeBeliefs)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if len(st.saved) != 2 {
		t.Fatalf("saved %d scores, want 2", len(st.saved))
	}
	if !st.at.Equal(refNow) {
		t.Fatalf("recompute time = %v, want %v", st.at, refNow)
	}
	if ranked[0].Item.ID != "b" {
		t.Fatalf("top = %s, want b", ranked[0].Item.ID)
	}
	if st.saved["b"] != ranked[0].Score {
		t.Fatalf("saved score %v != ranked score %v", st.saved["b"], ranked[0].Score)
	}
}
