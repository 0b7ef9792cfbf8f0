/*
timesheet_test.go - Distribution tests

These tests pin the guarantees of the day distributor:
  1. Hours conservation - slices of a sub-activity sum to its estimate
  2. Daily cap - no day exceeds 8 * billability% / 100
  3. Key uniqueness - no two slices share a unique key
  4. Fail-fast on non-positive billability
*/
package engine_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/advisory-engine/engine"
)

func sub(id string, hours float64) engine.SelectedActivity {
	return engine.SelectedActivity{
		ID:            id,
		Name:          id,
		Hours:         decimal.NewFromFloat(hours),
		IsSubActivity: true,
	}
}

func pct(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestDistribute_SplitsAcrossDaysAtHalfBillability(t *testing.T) {
	// GIVEN one 10h sub-activity and a 50% billable day (limit 4h)
	days, err := engine.Distribute([]engine.SelectedActivity{sub("a", 10)}, pct(50))
	if err != nil {
		t.Fatalf("distribute failed: %v", err)
	}

	// THEN the plan is three days of 4, 4, 2 hours
	if len(days) != 3 {
		t.Fatalf("expected 3 days, got %d", len(days))
	}
	wantHours := []string{"4", "4", "2"}
	wantKeys := []string{"a-day0-part1", "a-day1-part2", "a-day2-part3"}
	for i, day := range days {
		if len(day) != 1 {
			t.Fatalf("day %d: expected 1 slice, got %d", i, len(day))
		}
		if day[0].Hours.String() != wantHours[i] {
			t.Errorf("day %d: expected %s hours, got %s", i, wantHours[i], day[0].Hours)
		}
		if day[0].UniqueKey != wantKeys[i] {
			t.Errorf("day %d: expected key %s, got %s", i, wantKeys[i], day[0].UniqueKey)
		}
		if day[0].TotalParts != 3 {
			t.Errorf("day %d: expected 3 total parts, got %d", i, day[0].TotalParts)
		}
	}
}

func TestDistribute_ConservesHoursExactly(t *testing.T) {
	// GIVEN sub-activities with fractional hours that would drift in floats
	subs := []engine.SelectedActivity{
		sub("a", 0.1), sub("b", 0.2), sub("c", 7.3), sub("d", 12.7), sub("e", 3.05),
	}

	// WHEN distributed at 73% billability
	days, err := engine.Distribute(subs, pct(73))
	if err != nil {
		t.Fatalf("distribute failed: %v", err)
	}

	// THEN per-activity slice totals equal the estimate, to the last digit
	got := map[string]decimal.Decimal{}
	for _, day := range days {
		for _, a := range day {
			got[a.SubActivityID] = got[a.SubActivityID].Add(a.Hours)
		}
	}
	for _, s := range subs {
		if !got[s.ID].Equal(s.Hours) {
			t.Errorf("activity %s: slices sum to %s, want %s", s.ID, got[s.ID], s.Hours)
		}
	}
}

func TestDistribute_NeverExceedsDailyCap(t *testing.T) {
	subs := []engine.SelectedActivity{
		sub("a", 9), sub("b", 1), sub("c", 4.5), sub("d", 16),
	}
	for _, billability := range []int64{25, 50, 80, 100} {
		days, err := engine.Distribute(subs, pct(billability))
		if err != nil {
			t.Fatalf("billability %d: distribute failed: %v", billability, err)
		}
		limit := engine.DailyWorkHours.Mul(pct(billability)).Div(decimal.NewFromInt(100))
		for i, day := range days {
			if day.Total().GreaterThan(limit) {
				t.Errorf("billability %d, day %d: total %s exceeds limit %s",
					billability, i, day.Total(), limit)
			}
		}
	}
}

func TestDistribute_UniqueKeysNeverCollide(t *testing.T) {
	// Two sub-activities with identical hours, plus one long one that spans
	// many days.
	subs := []engine.SelectedActivity{sub("x", 3), sub("y", 3), sub("z", 22)}
	days, err := engine.Distribute(subs, pct(100))
	if err != nil {
		t.Fatalf("distribute failed: %v", err)
	}

	seen := map[string]bool{}
	for _, key := range engine.PlanKeys(days) {
		if seen[key] {
			t.Errorf("duplicate unique key %q", key)
		}
		seen[key] = true
	}
}

func TestDistribute_RejectsNonPositiveBillability(t *testing.T) {
	for _, billability := range []int64{0, -10} {
		_, err := engine.Distribute([]engine.SelectedActivity{sub("a", 4)}, pct(billability))
		if !errors.Is(err, engine.ErrInvalidInput) {
			t.Errorf("billability %d: expected ErrInvalidInput, got %v", billability, err)
		}
	}
}

func TestDistribute_SkipsZeroHourActivities(t *testing.T) {
	subs := []engine.SelectedActivity{sub("empty", 0), sub("real", 2)}
	days, err := engine.Distribute(subs, pct(100))
	if err != nil {
		t.Fatalf("distribute failed: %v", err)
	}
	if len(days) != 1 || len(days[0]) != 1 || days[0][0].SubActivityID != "real" {
		t.Errorf("expected a single slice for %q, got %+v", "real", days)
	}
}

func TestDistribute_PacksSmallActivitiesIntoOneDay(t *testing.T) {
	// GIVEN activities that fit one 8h day together
	subs := []engine.SelectedActivity{sub("a", 3), sub("b", 2), sub("c", 3)}

	days, err := engine.Distribute(subs, pct(100))
	if err != nil {
		t.Fatalf("distribute failed: %v", err)
	}

	if len(days) != 1 {
		t.Fatalf("expected 1 day, got %d", len(days))
	}
	if !days[0].Total().Equal(decimal.NewFromInt(8)) {
		t.Errorf("expected the day to total 8h, got %s", days[0].Total())
	}
	// Ascending-hours ordering: b (2) before a and c (3 each, stable).
	if days[0][0].SubActivityID != "b" {
		t.Errorf("expected the shortest activity first, got %s", days[0][0].SubActivityID)
	}
}

func TestDistribute_DeterministicForSameSelection(t *testing.T) {
	subs := []engine.SelectedActivity{sub("a", 5), sub("b", 5), sub("c", 2.5)}
	first, err := engine.Distribute(subs, pct(60))
	if err != nil {
		t.Fatalf("distribute failed: %v", err)
	}
	second, err := engine.Distribute(subs, pct(60))
	if err != nil {
		t.Fatalf("distribute failed: %v", err)
	}

	fk, sk := engine.PlanKeys(first), engine.PlanKeys(second)
	if len(fk) != len(sk) {
		t.Fatalf("plans differ in size: %d vs %d", len(fk), len(sk))
	}
	for i := range fk {
		if fk[i] != sk[i] {
			t.Errorf("plans diverge at slice %d: %s vs %s", i, fk[i], sk[i])
		}
	}
}

func TestSubActivitiesOf_FiltersParents(t *testing.T) {
	selection := []engine.SelectedActivity{
		{ID: "parent", Hours: decimal.NewFromInt(4), IsSubActivity: false},
		{ID: "child", Hours: decimal.NewFromInt(4), IsSubActivity: true},
	}
	subs := engine.SubActivitiesOf(selection)
	if len(subs) != 1 || subs[0].ID != "child" {
		t.Errorf("expected only the sub-activity, got %+v", subs)
	}
}
