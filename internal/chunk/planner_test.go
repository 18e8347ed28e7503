package chunk

import (
	"math/rand"
	"testing"
)

func TestPlan_SingleChunk(t *testing.T) {
	p := &Planner{Budget: 1 << 30}

	ranges, err := p.Plan(100, 400)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(ranges))
	}
	if ranges[0].Start != 0 || ranges[0].End != 100 {
		t.Errorf("expected [0,100), got [%d,%d)", ranges[0].Start, ranges[0].End)
	}
}

func TestPlan_RemainderClamped(t *testing.T) {
	// 10 timesteps over 3 chunks: stride 3, final chunk clamped to the axis.
	p := &Planner{Budget: 40}

	ranges, err := p.Plan(10, 100) // numChunks = ceil(100/40) = 3
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	assertExactCover(t, ranges, 10)
	last := ranges[len(ranges)-1]
	if last.End != 10 {
		t.Errorf("final chunk must end at 10, got %d", last.End)
	}
}

func TestPlan_BudgetExceeded(t *testing.T) {
	// One timestep is larger than the whole budget: no valid chunking.
	p := &Planner{Budget: 10}

	if _, err := p.Plan(5, 1000); err != ErrBudgetExceeded {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestPlan_InvalidTimeLen(t *testing.T) {
	p := &Planner{Budget: 100}
	if _, err := p.Plan(0, 100); err == nil {
		t.Fatal("expected error for zero time length")
	}
}

// TestPlan_ExactCoverProperty checks that for randomized time lengths and
// budgets, the produced ranges cover [0,T) exactly once with no gaps or
// overlaps, including budgets so small that every chunk is one timestep.
func TestPlan_ExactCoverProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		timeLen := 1 + rng.Intn(5000)
		totalBytes := int64(timeLen) * int64(1+rng.Intn(4096))

		// Budget anywhere from one timestep to the whole series.
		perStep := (totalBytes + int64(timeLen) - 1) / int64(timeLen)
		budget := perStep + rng.Int63n(totalBytes)

		p := &Planner{Budget: budget}
		ranges, err := p.Plan(timeLen, totalBytes)
		if err != nil {
			t.Fatalf("T=%d B=%d: %v", timeLen, budget, err)
		}

		assertExactCover(t, ranges, timeLen)
	}
}

func TestPlan_OneStepPerChunk(t *testing.T) {
	// Budget exactly one timestep: num_chunks == T.
	p := &Planner{Budget: 4}

	ranges, err := p.Plan(17, 17*4)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(ranges) != 17 {
		t.Fatalf("expected 17 chunks, got %d", len(ranges))
	}
	assertExactCover(t, ranges, 17)
}

func TestDefaultBudget_Capped(t *testing.T) {
	budget := DefaultBudget()
	if budget <= 0 {
		t.Fatalf("budget must be positive, got %d", budget)
	}
	if budget > HardBudgetCap {
		t.Fatalf("budget %d exceeds hard cap %d", budget, HardBudgetCap)
	}
}

func assertExactCover(t *testing.T, ranges []Range, timeLen int) {
	t.Helper()

	if len(ranges) == 0 {
		t.Fatal("no ranges produced")
	}
	if ranges[0].Start != 0 {
		t.Fatalf("first range starts at %d, want 0", ranges[0].Start)
	}
	for i, r := range ranges {
		if r.Len() < 1 {
			t.Fatalf("range %d is empty: [%d,%d)", i, r.Start, r.End)
		}
		if i > 0 && r.Start != ranges[i-1].End {
			t.Fatalf("gap or overlap at range %d: previous ends %d, this starts %d", i, ranges[i-1].End, r.Start)
		}
	}
	if last := ranges[len(ranges)-1]; last.End != timeLen {
		t.Fatalf("last range ends at %d, want %d", last.End, timeLen)
	}
}
