/*
Package engine provides the core advisory-request engine.

PURPOSE:
  This package contains the types and algorithms for managing consulting
  engagement requests: the status workflow state machine, consultant
  auto-assignment, hours/cost estimation, and timesheet day distribution.

KEY CONCEPTS IN THIS FILE (types.go):
  - Request: The central entity moving through the status workflow
  - Consultant: An assignable team member with services, expertise, and a rate
  - HistoryEntry: Immutable audit record of every workflow action
  - DayActivity: One slice of a sub-activity packed into a timesheet day

DESIGN PRINCIPLES:
  1. Purity: Assignment and estimation are pure functions over caller data
  2. Precision: decimal.Decimal for hours, rates, and costs
  3. Type Safety: Strong typing for IDs, statuses, and roles
  4. Auditability: Every status change appends an immutable history entry

USAGE:
  req := engine.Request{Status: engine.StatusNew, ...}
  c, err := engine.Assign(services, expertise, pool, loads)

SEE ALSO:
  - rules.go: Transition rule table and role permissions
  - workflow.go: The state machine itself
  - estimation.go / timesheet.go: Calculation components
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ConsultantID string
type ServiceID string
type UserID string

// =============================================================================
// STATUS & ROLE
// =============================================================================

type Status string

const (
	StatusNew               Status = "New"
	StatusUnderDiscussion   Status = "Under Discussion"
	StatusEstimation        Status = "Estimation"
	StatusReview            Status = "Review"
	StatusPendingReview     Status = "Pending Review"
	StatusPendingHeadReview Status = "Pending Review by Advisory Head"
	StatusApproval          Status = "Approval"
	StatusApproved          Status = "Approved"
	StatusImplementing      Status = "Implementing"
	StatusAwaitingFeedback  Status = "Awaiting Feedback"
	StatusFeedbackReceived  Status = "Feedback Received"
	StatusImplemented       Status = "Implemented"
	StatusOnHold            Status = "On Hold"
	StatusCancelled         Status = "Cancelled"
	StatusReject            Status = "Reject"
)

// IsTerminal reports whether the status has no outgoing transitions.
// Terminal requests retain their last assignee for history.
func (s Status) IsTerminal() bool {
	return s == StatusImplemented || s == StatusCancelled || s == StatusReject
}

type Role string

const (
	RoleAdmin        Role = "Admin"
	RoleRequestor    Role = "Requestor"
	RoleStandardUser Role = "Standard User"
	RoleConsultant   Role = "Advisory Consultant"
	RoleServiceLead  Role = "Advisory Service Lead"
	RoleServiceHead  Role = "Advisory Service Head"
)

// Satisfies reports whether an acting role satisfies a required role.
// Admin satisfies everything. Requestor and Standard User are aliases:
// a Requestor-gated edge is open to Standard User and vice versa.
func (r Role) Satisfies(required Role) bool {
	if r == RoleAdmin || r == required {
		return true
	}
	requestorAlias := func(x Role) bool { return x == RoleRequestor || x == RoleStandardUser }
	return requestorAlias(r) && requestorAlias(required)
}

// =============================================================================
// CONSULTANT - Assignable team member
// =============================================================================

type Consultant struct {
	ID         ConsultantID
	Name       string
	Title      Role // e.g. RoleConsultant, RoleServiceLead, RoleServiceHead
	ServiceIDs []ServiceID
	Expertise  []string
	HourlyRate decimal.Decimal
	Active     bool
}

// ServesAny reports whether the consultant serves at least one of the services.
func (c Consultant) ServesAny(services []ServiceID) bool {
	for _, want := range services {
		for _, have := range c.ServiceIDs {
			if have == want {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// REQUEST - The central entity
// =============================================================================

type Request struct {
	ID        string // uuid, primary key
	RequestID string // human-readable, e.g. "AR-2026-0042"
	Status    Status

	ServiceIDs  []ServiceID
	OfferingIDs []string // selected tool/offering identifiers (expertise hints)

	RequestorID UserID

	AssigneeID   ConsultantID
	AssigneeName string
	// Original assignee is preserved across every reassignment.
	OriginalAssigneeID   ConsultantID
	OriginalAssigneeName string

	// Arbitrary project metadata (account, PM, owning unit, ...).
	ProjectMeta map[string]string
	// Per-service requirement text keyed by service id.
	Requirements map[ServiceID]string

	// Raw selection as submitted. Heterogeneous across client versions;
	// normalized via NormalizeSelection before any calculation.
	SelectedActivities        []byte
	ServiceOfferingActivities []byte

	// Timesheet completion map: unique key -> completed.
	TimesheetData map[string]bool

	// Frozen estimation snapshot. Authoritative once EstimationSavedAt is set;
	// live recalculation is only a fallback when a saved value is zero.
	SavedTotalHours   decimal.Decimal
	SavedTotalPD      decimal.Decimal
	SavedTotalCost    decimal.Decimal
	SavedAssigneeRate decimal.Decimal
	SavedAssigneeRole Role
	EstimationSavedAt *time.Time

	BillabilityPercentage   decimal.Decimal
	ImplementationStartDate *time.Time

	// Optimistic concurrency: bumped on every store update.
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Frozen reports whether the estimation snapshot has been taken.
func (r *Request) Frozen() bool { return r.EstimationSavedAt != nil }

// =============================================================================
// HISTORY - Append-only audit trail
// =============================================================================

type HistoryEntry struct {
	ID          string
	RequestID   string
	Action      string // e.g. "Status changed", "Assignee changed"
	OldValue    string
	NewValue    string
	PerformedBy UserID
	PerformedAt time.Time
}

const (
	ActionStatusChanged    = "Status changed"
	ActionAssigneeChanged  = "Assignee changed"
	ActionRequestSubmitted = "Request submitted"
	ActionTimesheetUpdated = "Timesheet updated"
)

// =============================================================================
// SELECTED ACTIVITY - Canonical form of the heterogeneous selection shapes
// =============================================================================

// SelectedActivity is one selected catalog entry after normalization.
// Hours are the denormalized estimated_hours captured at save time, so later
// catalog edits never retroactively change a frozen estimate.
type SelectedActivity struct {
	ID            string
	Name          string
	Hours         decimal.Decimal
	IsSubActivity bool
	IsCustom      bool
}

// =============================================================================
// DAY ACTIVITY - One timesheet slice (derived, never a catalog entity)
// =============================================================================

type DayActivity struct {
	SubActivityID string
	Name          string
	Hours         decimal.Decimal
	Part          int
	TotalParts    int
	// UniqueKey is "{subActivityId}-day{N}-part{P}", the completion-tracking
	// key in Request.TimesheetData. Never collides within one distribution.
	UniqueKey string
}

// Day is an ordered list of slices planned for one work day.
type Day []DayActivity

// Total returns the summed hours of all slices in the day.
func (d Day) Total() decimal.Decimal {
	total := decimal.Zero
	for _, a := range d {
		total = total.Add(a.Hours)
	}
	return total
}
