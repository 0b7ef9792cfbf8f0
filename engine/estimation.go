/*
estimation.go - Hours, person-day, and cost estimation

PURPOSE:
  Derives the estimation figures shown to users and frozen into the
  request record when estimation completes:
    hours = sum of selected activity/sub-activity estimated_hours
    pd    = hours / 8, rounded to 2 decimals
    cost  = hours * assignee hourly rate

PURITY:
  Every function here is deterministic over its arguments and performs
  no I/O. Totals are never negative.

FROZEN SNAPSHOTS:
  Once a request's EstimationSavedAt is set, the saved_* fields are the
  authoritative snapshot. EstimationFor only recalculates live values as
  a fallback for saved values that are zero or absent.

SEE ALSO:
  - selection.go: Produces the canonical list summed here
  - workflow.go: Freezes the snapshot on Estimation -> Review
*/
package engine

import "github.com/shopspring/decimal"

// DailyWorkHours is the person-day divisor.
var DailyWorkHours = decimal.NewFromInt(8)

// ComputeHours sums the hours of every entry in a canonical selection.
// Legacy bare-boolean sub-activities already carry zero hours, so they
// pass through without special casing.
func ComputeHours(selection []SelectedActivity) decimal.Decimal {
	total := decimal.Zero
	for _, a := range selection {
		if a.Hours.IsPositive() {
			total = total.Add(a.Hours)
		}
	}
	return total
}

// ComputePD converts hours to person-days, rounded to 2 decimals.
func ComputePD(hours decimal.Decimal) decimal.Decimal {
	return hours.Div(DailyWorkHours).Round(2)
}

// ComputeCost multiplies hours by an hourly rate.
func ComputeCost(hours, ratePerHour decimal.Decimal) decimal.Decimal {
	return hours.Mul(ratePerHour)
}

// Estimation is the full figure set for one request.
type Estimation struct {
	Hours  decimal.Decimal
	PD     decimal.Decimal
	Cost   decimal.Decimal
	Rate   decimal.Decimal
	Role   Role
	Frozen bool
}

// EstimationFor returns the authoritative estimation for a request.
// Frozen requests return their snapshot, with live recalculation only
// filling saved values that are zero. Unfrozen requests recalculate from
// the current selection and the given assignee rate/role.
func EstimationFor(r *Request, rate decimal.Decimal, role Role) (Estimation, error) {
	if r.Frozen() {
		est := Estimation{
			Hours:  r.SavedTotalHours,
			PD:     r.SavedTotalPD,
			Cost:   r.SavedTotalCost,
			Rate:   r.SavedAssigneeRate,
			Role:   r.SavedAssigneeRole,
			Frozen: true,
		}
		if est.Hours.IsZero() {
			selection, err := NormalizeRequestSelection(r)
			if err != nil {
				return Estimation{}, err
			}
			est.Hours = ComputeHours(selection)
		}
		if est.PD.IsZero() {
			est.PD = ComputePD(est.Hours)
		}
		if est.Cost.IsZero() {
			est.Cost = ComputeCost(est.Hours, est.Rate)
		}
		return est, nil
	}

	selection, err := NormalizeRequestSelection(r)
	if err != nil {
		return Estimation{}, err
	}
	hours := ComputeHours(selection)
	return Estimation{
		Hours: hours,
		PD:    ComputePD(hours),
		Cost:  ComputeCost(hours, rate),
		Rate:  rate,
		Role:  role,
	}, nil
}
