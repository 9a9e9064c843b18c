package engine_test

import (
	"math"
	"testing"
	"time"

	"github.com/keepsake-ai/keepsake/internal/engine"
	"github.com/keepsake-ai/keepsake/pkg/types"
)

func decayFact(predicate string, ageHours float64, accessCount int) *types.Fact {
	now := time.Now()
	return &types.Fact{
		ID:          types.GenerateFactID(),
		Principal:   "alice",
		Subject:     "user",
		Predicate:   predicate,
		Object:      "value",
		Confidence:  0.9,
		Importance:  5,
		CreatedAt:   now.Add(-time.Duration(ageHours * float64(time.Hour))),
		UpdatedAt:   now,
		AccessCount: accessCount,
	}
}

func TestWeight_PermanentPredicateNeverDecays(t *testing.T) {
	d := engine.NewDecayEngine(engine.DefaultDecayConfig())
	f := decayFact("NAME", 10000, 0)

	if got := d.Weight(f, time.Now()); got != 1.0 {
		t.Errorf("permanent predicate weight = %f, want 1.0", got)
	}
	if d.Expiry(f) != nil {
		t.Error("permanent predicate must have no expiry")
	}
}

func TestWeight_ReinforcedFactNeverDecays(t *testing.T) {
	d := engine.NewDecayEngine(engine.DefaultDecayConfig())
	f := decayFact("FAVORITE_COLOR", 10000, 3)

	if got := d.Weight(f, time.Now()); got != 1.0 {
		t.Errorf("reinforced fact weight = %f, want 1.0", got)
	}
	if d.Expiry(f) != nil {
		t.Error("reinforced fact must have no expiry")
	}
}

func TestWeight_EphemeralFullyDecayed(t *testing.T) {
	d := engine.NewDecayEngine(engine.DecayConfig{EphemeralTTLHours: 1})
	f := decayFact("FEELING", 2, 0)
	now := time.Now()

	if got := d.Weight(f, now); got != 0 {
		t.Errorf("ephemeral fact past its window: weight = %f, want 0", got)
	}
	if !d.ShouldPrune(f, now) {
		t.Error("fully decayed ephemeral fact must be prunable")
	}
}

func TestWeight_MonotoneOverTime(t *testing.T) {
	d := engine.NewDecayEngine(engine.DefaultDecayConfig())
	now := time.Now()

	prev := math.Inf(1)
	for _, age := range []float64{0, 24, 168, 500, 720} {
		w := d.Weight(decayFact("FAVORITE_COLOR", age, 0), now)
		if w > prev {
			t.Errorf("weight increased with age: %f -> %f at %vh", prev, w, age)
		}
		prev = w
	}
}

func TestWeight_ReinforcementBoost(t *testing.T) {
	d := engine.NewDecayEngine(engine.DefaultDecayConfig())
	now := time.Now()

	base := d.Weight(decayFact("FAVORITE_COLOR", 360, 0), now)
	boosted := d.Weight(decayFact("FAVORITE_COLOR", 360, 2), now)

	if diff := boosted - base; math.Abs(diff-0.2) > 1e-9 {
		t.Errorf("2 accesses must add 0.2, got %f", diff)
	}
}

func TestWeight_NoBoostForEphemeral(t *testing.T) {
	d := engine.NewDecayEngine(engine.DefaultDecayConfig())
	now := time.Now()

	base := d.Weight(decayFact("FEELING", 12, 0), now)
	accessed := d.Weight(decayFact("FEELING", 12, 2), now)

	if accessed != base {
		t.Errorf("ephemeral facts must not earn a boost: %f vs %f", base, accessed)
	}
}

func TestWeight_CappedAtOne(t *testing.T) {
	d := engine.NewDecayEngine(engine.DefaultDecayConfig())
	f := decayFact("FAVORITE_COLOR", 0, 2)

	if got := d.Weight(f, time.Now()); got > 1.0 {
		t.Errorf("weight = %f, must be capped at 1.0", got)
	}
}

func TestWeight_ConfidenceSelectsWindow(t *testing.T) {
	d := engine.NewDecayEngine(engine.DefaultDecayConfig())
	now := time.Now()

	low := decayFact("FAVORITE_COLOR", 100, 0)
	low.Confidence = 0.5
	high := decayFact("FAVORITE_COLOR", 100, 0)
	high.Confidence = 0.9

	if d.Weight(low, now) >= d.Weight(high, now) {
		t.Error("low-confidence facts must decay faster than high-confidence ones")
	}
}

func TestWeight_DecaysFromLastAccess(t *testing.T) {
	d := engine.NewDecayEngine(engine.DefaultDecayConfig())
	now := time.Now()

	stale := decayFact("FAVORITE_COLOR", 700, 1)
	refreshed := decayFact("FAVORITE_COLOR", 700, 1)
	accessedAt := now.Add(-time.Hour)
	refreshed.LastAccessedAt = &accessedAt

	if d.Weight(refreshed, now) <= d.Weight(stale, now) {
		t.Error("a recent access must reset the decay clock")
	}
}

func TestExpiry_MatchesTTLWindow(t *testing.T) {
	d := engine.NewDecayEngine(engine.DefaultDecayConfig())
	f := decayFact("FEELING", 0, 0)

	expiry := d.Expiry(f)
	if expiry == nil {
		t.Fatal("ephemeral fact must have an expiry")
	}
	want := f.CreatedAt.Add(24 * time.Hour)
	if !expiry.Equal(want) {
		t.Errorf("expiry = %v, want %v", expiry, want)
	}
}

func TestShouldPrune_SafetyCriticalNever(t *testing.T) {
	d := engine.NewDecayEngine(engine.DecayConfig{EphemeralTTLHours: 1})
	f := decayFact("MOOD", 100, 0)
	f.Importance = 9

	if d.ShouldPrune(f, time.Now()) {
		t.Error("safety-critical facts must never be pruned")
	}
}

func TestShouldPrune_FreshFactKept(t *testing.T) {
	d := engine.NewDecayEngine(engine.DefaultDecayConfig())
	f := decayFact("FAVORITE_COLOR", 1, 0)

	if d.ShouldPrune(f, time.Now()) {
		t.Error("fresh fact must not be prunable")
	}
}
