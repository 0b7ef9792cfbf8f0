/*
events.go - Domain events emitted by the workflow engine

PURPOSE:
  Downstream surfaces (insights refresh, notifications) react to workflow
  changes without the core polling or blocking on them. Events are emitted
  after the storage transaction commits; a slow or failing subscriber
  never affects a transition.

SEE ALSO:
  - workflow.go: Emission points
  - api: Wires a zap-logging publisher
*/
package engine

import "time"

type EventKind string

const (
	EventRequestSubmitted    EventKind = "request_submitted"
	EventRequestTransitioned EventKind = "request_transitioned"
	EventRequestReassigned   EventKind = "request_reassigned"
	EventEstimationFrozen    EventKind = "estimation_frozen"
	EventTimesheetUpdated    EventKind = "timesheet_updated"
)

// Event is one domain occurrence. Payload keys are event-specific
// ("from", "to", "assignee_id", ...).
type Event struct {
	Kind      EventKind
	RequestID string
	At        time.Time
	Payload   map[string]string
}

// EventPublisher receives events after commit. Implementations must not
// block; the engine fires and forgets.
type EventPublisher interface {
	Publish(e Event)
}

// NopPublisher discards all events. Used when nothing subscribes.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
