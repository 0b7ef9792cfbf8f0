/*
workflow.go - The request status state machine

PURPOSE:
  Orchestrates the full request lifecycle:
  1. Submission: one request per selected advisory service, auto-assigned
  2. Transition: role-gated status changes with reassignment side effects
  3. Reassignment: manual override for admins
  4. Timesheet completion updates

TRANSITION FLOW:
  ┌────────────────────────────────────────────────────────────────┐
  │                                                                │
  │  Look up rule ──▶ Check role ──▶ Reassign if the target        │
  │  (rule table)     (Satisfies)    status is owned by a          │
  │                                  different role                │
  │                         │                                      │
  │                         ▼                                      │
  │             Apply status + side effects                        │
  │             (freeze estimation, stamp implementation start)    │
  │                         │                                      │
  │                         ▼                                      │
  │             Persist request + history atomically               │
  │                                                                │
  └────────────────────────────────────────────────────────────────┘

ATOMICITY:
  Everything from the request load to the history append runs inside
  TxStore.WithTx with an optimistic version check. A status update is
  never observed without its history entry, and a failed assignment
  leaves the request untouched.

ERROR CONTRACT:
  Business conditions come back as typed errors (errors.go); only
  storage faults propagate as plain wrapped errors. Retry policy is
  the caller's concern.

SEE ALSO:
  - rules.go: The status graph consulted here
  - assignment.go: Consultant selection
  - estimation.go: The snapshot frozen on Estimation -> Review
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OfferingResolver maps stored offering ids to the display names that
// assignment matches against consultant expertise. Implemented by
// advisory.Catalog.
type OfferingResolver interface {
	OfferingNames(ids []string) []string
}

// Workflow is the request lifecycle engine. All mutations of requests and
// history go through it.
type Workflow struct {
	Store     TxStore
	Rules     *RuleTable
	Resolver  OfferingResolver
	Publisher EventPublisher
}

// NewWorkflow wires a workflow engine. A nil resolver treats offering ids
// as expertise hints verbatim; a nil publisher defaults to no-op.
func NewWorkflow(store TxStore, rules *RuleTable, resolver OfferingResolver, pub EventPublisher) *Workflow {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Workflow{Store: store, Rules: rules, Resolver: resolver, Publisher: pub}
}

// expertiseHints resolves offering ids into the names assignment compares
// against consultant expertise. Requests store ids; consultants declare
// expertise by name, so the raw ids would never match.
func (w *Workflow) expertiseHints(offeringIDs []string) []string {
	if w.Resolver == nil {
		return offeringIDs
	}
	return w.Resolver.OfferingNames(offeringIDs)
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submission is the input of a new engagement request.
type Submission struct {
	RequestorID           UserID
	ServiceIDs            []ServiceID
	OfferingIDs           []string
	ProjectMeta           map[string]string
	Requirements          map[ServiceID]string
	SelectedActivities    []byte
	BillabilityPercentage decimal.Decimal
}

// SubmitRequests creates one request per selected advisory service, each in
// StatusNew with a best-effort auto-assignment. A service with no eligible
// consultant still produces a request - unassigned, surfaced to an admin -
// rather than failing the whole submission.
func (w *Workflow) SubmitRequests(ctx context.Context, sub Submission) ([]*Request, error) {
	if len(sub.ServiceIDs) == 0 {
		return nil, fmt.Errorf("%w: submission selects no advisory services", ErrInvalidInput)
	}

	pool, err := w.Store.ListActiveConsultants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list consultants: %w", err)
	}
	loads, err := w.openLoads(ctx, w.Store, pool, nil)
	if err != nil {
		return nil, err
	}
	hints := w.expertiseHints(sub.OfferingIDs)

	var created []*Request
	err = w.Store.WithTx(ctx, func(s Store) error {
		seq, err := s.CountRequests(ctx)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, svc := range sub.ServiceIDs {
			seq++
			r := &Request{
				ID:                    uuid.NewString(),
				RequestID:             fmt.Sprintf("AR-%d-%04d", now.Year(), seq),
				Status:                StatusNew,
				ServiceIDs:            []ServiceID{svc},
				OfferingIDs:           sub.OfferingIDs,
				RequestorID:           sub.RequestorID,
				ProjectMeta:           sub.ProjectMeta,
				Requirements:          map[ServiceID]string{svc: sub.Requirements[svc]},
				SelectedActivities:    sub.SelectedActivities,
				TimesheetData:         map[string]bool{},
				BillabilityPercentage: sub.BillabilityPercentage,
				CreatedAt:             now,
				UpdatedAt:             now,
			}

			if c, err := Assign([]ServiceID{svc}, hints, pool, loads); err == nil {
				r.AssigneeID = c.ID
				r.AssigneeName = c.Name
				r.OriginalAssigneeID = c.ID
				r.OriginalAssigneeName = c.Name
				loads[c.ID]++ // later services in the same submission see the new load
			} else if !errors.Is(err, ErrNoAssigneeAvailable) {
				return err
			}

			if err := s.CreateRequest(ctx, r); err != nil {
				return err
			}
			if err := s.AppendHistory(ctx, HistoryEntry{
				ID:          uuid.NewString(),
				RequestID:   r.ID,
				Action:      ActionRequestSubmitted,
				NewValue:    string(StatusNew),
				PerformedBy: sub.RequestorID,
				PerformedAt: now,
			}); err != nil {
				return err
			}
			created = append(created, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range created {
		w.Publisher.Publish(Event{
			Kind:      EventRequestSubmitted,
			RequestID: r.ID,
			At:        r.CreatedAt,
			Payload:   map[string]string{"assignee_id": string(r.AssigneeID)},
		})
	}
	return created, nil
}

// =============================================================================
// TRANSITION
// =============================================================================

// Transition moves a request along one edge of the status graph.
// The returned request reflects all applied side effects.
func (w *Workflow) Transition(ctx context.Context, requestID string, to Status, actingUserID UserID) (*Request, error) {
	actingRole, _, err := w.Store.RoleOf(ctx, actingUserID)
	if err != nil {
		return nil, err
	}

	var (
		updated *Request
		events  []Event
	)
	err = w.Store.WithTx(ctx, func(s Store) error {
		r, err := s.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		from := r.Status

		// 1. The edge must exist.
		rule := w.Rules.Find(from, to)
		if rule == nil {
			return &TransitionError{From: from, To: to}
		}

		// 2. The acting role must satisfy the edge's gate.
		if !actingRole.Satisfies(rule.Role) {
			return &ForbiddenError{From: from, To: to, Required: rule.Role, Actual: actingRole}
		}

		now := time.Now().UTC()

		// 3. Freeze the estimation snapshot on first exit from Estimation.
		// Uses the estimating assignee's rate, before any reassignment.
		if from == StatusEstimation && to == StatusReview && !r.Frozen() {
			if err := w.freezeEstimation(ctx, s, r, now); err != nil {
				return err
			}
			events = append(events, Event{
				Kind:      EventEstimationFrozen,
				RequestID: r.ID,
				At:        now,
				Payload:   map[string]string{"hours": r.SavedTotalHours.String()},
			})
		}

		// 4. Reassign when the target status is owned by a different role.
		// A failed assignment aborts the whole transition - no partial state.
		if reassigned, err := w.maybeReassign(ctx, s, r, to, actingUserID, now); err != nil {
			return err
		} else if reassigned != "" {
			events = append(events, Event{
				Kind:      EventRequestReassigned,
				RequestID: r.ID,
				At:        now,
				Payload:   map[string]string{"assignee_id": string(reassigned)},
			})
		}

		// 5. Apply the status change and stamps.
		r.Status = to
		if to == StatusImplementing && r.ImplementationStartDate == nil {
			r.ImplementationStartDate = &now
		}
		r.UpdatedAt = now

		if err := s.UpdateRequest(ctx, r, r.Version); err != nil {
			return err
		}

		// 6. History, atomic with the status change.
		if err := s.AppendHistory(ctx, HistoryEntry{
			ID:          uuid.NewString(),
			RequestID:   r.ID,
			Action:      ActionStatusChanged,
			OldValue:    string(from),
			NewValue:    string(to),
			PerformedBy: actingUserID,
			PerformedAt: now,
		}); err != nil {
			return err
		}

		events = append(events, Event{
			Kind:      EventRequestTransitioned,
			RequestID: r.ID,
			At:        now,
			Payload:   map[string]string{"from": string(from), "to": string(to)},
		})
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, e := range events {
		w.Publisher.Publish(e)
	}
	return updated, nil
}

// freezeEstimation persists the saved_* snapshot. Once EstimationSavedAt is
// set this engine never touches the fields again.
func (w *Workflow) freezeEstimation(ctx context.Context, s Store, r *Request, now time.Time) error {
	rate := decimal.Zero
	role := w.Rules.ResponsibleRole(r.Status)
	if r.AssigneeID != "" {
		c, err := s.GetConsultant(ctx, r.AssigneeID)
		if err != nil && !errors.Is(err, ErrConsultantNotFound) {
			return err
		}
		if c != nil {
			rate = c.HourlyRate
			role = c.Title
		}
	}

	selection, err := NormalizeRequestSelection(r)
	if err != nil {
		return fmt.Errorf("%w: unreadable activity selection: %v", ErrInvalidInput, err)
	}

	hours := ComputeHours(selection)
	r.SavedTotalHours = hours
	r.SavedTotalPD = ComputePD(hours)
	r.SavedTotalCost = ComputeCost(hours, rate)
	r.SavedAssigneeRate = rate
	r.SavedAssigneeRole = role
	r.EstimationSavedAt = &now
	return nil
}

// maybeReassign swaps the assignee when the target status belongs to a
// different role than the current assignee holds. Returns the new assignee
// id, or "" when no reassignment happened.
func (w *Workflow) maybeReassign(ctx context.Context, s Store, r *Request, to Status, actor UserID, now time.Time) (ConsultantID, error) {
	if to.IsTerminal() {
		return "", nil // terminal requests keep their last assignee
	}

	targetRole := w.Rules.ResponsibleRole(to)
	if targetRole == RoleRequestor {
		return "", nil // requestor-owned statuses don't consume consultant capacity
	}

	if r.AssigneeID != "" {
		current, err := s.GetConsultant(ctx, r.AssigneeID)
		if err != nil && !errors.Is(err, ErrConsultantNotFound) {
			return "", err
		}
		if current != nil && current.Title == targetRole {
			return "", nil // already in the right hands
		}
	}

	pool, err := s.ListActiveConsultants(ctx)
	if err != nil {
		return "", err
	}
	// Load counts are scoped to the statuses the target role acts on, so a
	// queue full of requests the candidate cannot touch does not bias
	// selection against them.
	loads, err := w.openLoads(ctx, s, pool, w.Rules.ActionableStatuses(targetRole))
	if err != nil {
		return "", err
	}

	c, err := AssignWithRole(r.ServiceIDs, w.expertiseHints(r.OfferingIDs), pool, loads, targetRole)
	if err != nil {
		return "", err
	}

	old := r.AssigneeName
	r.AssigneeID = c.ID
	r.AssigneeName = c.Name
	if r.OriginalAssigneeID == "" {
		r.OriginalAssigneeID = c.ID
		r.OriginalAssigneeName = c.Name
	}

	return c.ID, s.AppendHistory(ctx, HistoryEntry{
		ID:          uuid.NewString(),
		RequestID:   r.ID,
		Action:      ActionAssigneeChanged,
		OldValue:    old,
		NewValue:    c.Name,
		PerformedBy: actor,
		PerformedAt: now,
	})
}

// openLoads counts open requests per pool member, excluding terminal
// statuses always, and restricted to the given statuses when non-nil.
// Takes the store explicitly so transactional callers stay on their tx.
func (w *Workflow) openLoads(ctx context.Context, s Store, pool []Consultant, statuses []Status) (Loads, error) {
	ids := make([]ConsultantID, len(pool))
	for i, c := range pool {
		ids[i] = c.ID
	}
	loads, err := s.CountOpenByAssignee(ctx, ids, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to count open requests: %w", err)
	}
	return loads, nil
}

// =============================================================================
// MANUAL REASSIGNMENT
// =============================================================================

// Reassign overrides the assignee directly, bypassing the assignment
// algorithm. Restricted to Admin and Advisory Service Head.
func (w *Workflow) Reassign(ctx context.Context, requestID string, newAssigneeID ConsultantID, actingUserID UserID) (*Request, error) {
	actingRole, _, err := w.Store.RoleOf(ctx, actingUserID)
	if err != nil {
		return nil, err
	}
	if actingRole != RoleAdmin && actingRole != RoleServiceHead {
		return nil, &ForbiddenError{Required: RoleAdmin, Actual: actingRole}
	}

	var updated *Request
	err = w.Store.WithTx(ctx, func(s Store) error {
		r, err := s.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		c, err := s.GetConsultant(ctx, newAssigneeID)
		if err != nil {
			return err
		}
		if !c.Active || !c.ServesAny(r.ServiceIDs) {
			return fmt.Errorf("%w: %s does not serve this request's services", ErrInvalidInput, c.Name)
		}

		now := time.Now().UTC()
		old := r.AssigneeName
		r.AssigneeID = c.ID
		r.AssigneeName = c.Name
		if r.OriginalAssigneeID == "" {
			r.OriginalAssigneeID = c.ID
			r.OriginalAssigneeName = c.Name
		}
		r.UpdatedAt = now

		if err := s.UpdateRequest(ctx, r, r.Version); err != nil {
			return err
		}
		if err := s.AppendHistory(ctx, HistoryEntry{
			ID:          uuid.NewString(),
			RequestID:   r.ID,
			Action:      ActionAssigneeChanged,
			OldValue:    old,
			NewValue:    c.Name,
			PerformedBy: actingUserID,
			PerformedAt: now,
		}); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.Publisher.Publish(Event{
		Kind:      EventRequestReassigned,
		RequestID: updated.ID,
		At:        updated.UpdatedAt,
		Payload:   map[string]string{"assignee_id": string(updated.AssigneeID)},
	})
	return updated, nil
}

// =============================================================================
// ACTIVITY SELECTION & TIMESHEET
// =============================================================================

// SaveSelection replaces a request's activity selection and billability.
// The frozen estimation snapshot, if any, is deliberately untouched.
func (w *Workflow) SaveSelection(ctx context.Context, requestID string, selection, offeringActivities []byte, billability decimal.Decimal, actingUserID UserID) (*Request, error) {
	// Validate shape up front so garbage never reaches the store.
	if _, err := NormalizeSelection(selection); err != nil {
		return nil, fmt.Errorf("%w: unreadable activity selection: %v", ErrInvalidInput, err)
	}
	if _, err := NormalizeSelection(offeringActivities); err != nil {
		return nil, fmt.Errorf("%w: unreadable offering activities: %v", ErrInvalidInput, err)
	}

	var updated *Request
	err := w.Store.WithTx(ctx, func(s Store) error {
		r, err := s.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Status.IsTerminal() {
			return &TransitionError{From: r.Status, To: r.Status}
		}
		r.SelectedActivities = selection
		r.ServiceOfferingActivities = offeringActivities
		if billability.IsPositive() {
			r.BillabilityPercentage = billability
		}
		r.UpdatedAt = time.Now().UTC()
		updated = r
		return s.UpdateRequest(ctx, r, r.Version)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateTimesheetCompletion flips one completion flag. Independent per key,
// so a version conflict from a colleague's simultaneous checkbox is retried
// rather than surfaced.
func (w *Workflow) UpdateTimesheetCompletion(ctx context.Context, requestID, uniqueKey string, completed bool, actingUserID UserID) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		err = w.Store.WithTx(ctx, func(s Store) error {
			r, err := s.GetRequest(ctx, requestID)
			if err != nil {
				return err
			}
			if r.TimesheetData == nil {
				r.TimesheetData = map[string]bool{}
			}
			r.TimesheetData[uniqueKey] = completed
			r.UpdatedAt = time.Now().UTC()
			return s.UpdateRequest(ctx, r, r.Version)
		})
		if !IsRetryable(err) {
			break
		}
	}
	if err != nil {
		return err
	}

	w.Publisher.Publish(Event{
		Kind:      EventTimesheetUpdated,
		RequestID: requestID,
		At:        time.Now().UTC(),
		Payload:   map[string]string{"unique_key": uniqueKey},
	})
	return nil
}
