/*
timesheet.go - Day distribution of estimated sub-activity hours

PURPOSE:
  Packs a flat list of selected sub-activities into ordered work days,
  capped by the billable share of an 8-hour day. A sub-activity that does
  not fit into the remaining room of a day is split into numbered parts
  carried over to following days.

GUARANTEES:
  - Hours conservation: the slices of a sub-activity sum to its
    estimated_hours exactly (decimal arithmetic, no float drift)
  - Daily cap: a day's total never exceeds 8 * billability% / 100
  - Unique keys: "{id}-day{N}-part{P}" never collides within one plan

INPUT GUARD:
  billabilityPercentage <= 0 is rejected with ErrInvalidInput. A zero
  limit would mean no day can ever make progress.

COMPLETION:
  Completion state lives on the request as uniqueKey -> bool. Stale keys
  from a superseded selection are tolerated and ignored, never purged.

SEE ALSO:
  - types.go: DayActivity and Day
  - api/handlers.go: Serves the plan and merges completion flags
*/
package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Distribute packs sub-activities into ordered days. Input order is
// normalized by sorting ascending on estimated hours (stable, so equal
// activities keep their incoming order) which makes the plan deterministic
// for a given selection.
func Distribute(subActivities []SelectedActivity, billabilityPercentage decimal.Decimal) ([]Day, error) {
	if !billabilityPercentage.IsPositive() {
		return nil, fmt.Errorf("%w: billability percentage must be > 0, got %s",
			ErrInvalidInput, billabilityPercentage)
	}

	dailyLimit := DailyWorkHours.Mul(billabilityPercentage).Div(hundred)

	ordered := make([]SelectedActivity, len(subActivities))
	copy(ordered, subActivities)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Hours.LessThan(ordered[j].Hours)
	})

	var (
		days            []Day
		currentDay      Day
		currentDayHours = decimal.Zero
	)

	closeDay := func() {
		if len(currentDay) > 0 {
			days = append(days, currentDay)
		}
		currentDay = nil
		currentDayHours = decimal.Zero
	}

	for _, sub := range ordered {
		if !sub.Hours.IsPositive() {
			continue
		}

		remaining := sub.Hours
		part := 1
		totalParts := int(sub.Hours.Div(dailyLimit).Ceil().IntPart())

		for remaining.IsPositive() {
			room := dailyLimit.Sub(currentDayHours)
			toAdd := decimal.Min(remaining, room)

			if toAdd.IsPositive() {
				dayIndex := len(days)
				currentDay = append(currentDay, DayActivity{
					SubActivityID: sub.ID,
					Name:          sub.Name,
					Hours:         toAdd,
					Part:          part,
					TotalParts:    totalParts,
					UniqueKey:     fmt.Sprintf("%s-day%d-part%d", sub.ID, dayIndex, part),
				})
				currentDayHours = currentDayHours.Add(toAdd)
				remaining = remaining.Sub(toAdd)
				if remaining.IsPositive() {
					part++
				}
			}

			// Day saturated, or nothing fit: close and continue on a fresh day.
			if currentDayHours.GreaterThanOrEqual(dailyLimit) || (!toAdd.IsPositive() && remaining.IsPositive()) {
				closeDay()
			}
		}
	}

	closeDay()
	return days, nil
}

// SubActivitiesOf filters a canonical selection to the sub-activities with
// hours, the distributor's input.
func SubActivitiesOf(selection []SelectedActivity) []SelectedActivity {
	var out []SelectedActivity
	for _, a := range selection {
		if a.IsSubActivity {
			out = append(out, a)
		}
	}
	return out
}

// PlanKeys returns every unique key in a plan, in day order.
func PlanKeys(days []Day) []string {
	var keys []string
	for _, d := range days {
		for _, a := range d {
			keys = append(keys, a.UniqueKey)
		}
	}
	return keys
}
