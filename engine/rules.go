/*
rules.go - Transition rule table and role permissions

PURPOSE:
  The status graph is data, not code: a static table of
  (from_status, to_status, role_required) triples plus a map from each
  status to the role responsible for acting on it. The engine package
  only defines the table machinery; the advisory package supplies the
  concrete graph (see advisory/rules.go).

WHY A TABLE:
  - The permitted edges and their gates are reviewable in one place
  - No string comparisons scattered through transition checks
  - The same engine can run a different graph in tests

SEE ALSO:
  - workflow.go: Consults the table on every Transition
  - advisory/rules.go: The production advisory graph
*/
package engine

// TransitionRule is one permitted edge in the status graph.
type TransitionRule struct {
	From Status
	To   Status
	// Role that may trigger this edge. Admin always may; Requestor and
	// Standard User alias each other (see Role.Satisfies).
	Role Role
}

// RuleTable holds the full status graph with lookup indexes.
type RuleTable struct {
	rules []TransitionRule
	// Responsible role per status, used to decide when a transition
	// must trigger reassignment.
	statusRoles map[Status]Role
}

// NewRuleTable builds a table from edges and the status-to-role map.
func NewRuleTable(rules []TransitionRule, statusRoles map[Status]Role) *RuleTable {
	return &RuleTable{rules: rules, statusRoles: statusRoles}
}

// Rules returns a copy of all edges, for display surfaces.
func (t *RuleTable) Rules() []TransitionRule {
	out := make([]TransitionRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Find returns the rule for an edge, or nil if the edge does not exist.
// Terminal statuses simply have no outgoing edges in the table.
func (t *RuleTable) Find(from, to Status) *TransitionRule {
	for i := range t.rules {
		if t.rules[i].From == from && t.rules[i].To == to {
			return &t.rules[i]
		}
	}
	return nil
}

// OutgoingFrom returns every edge leaving a status, in table order.
func (t *RuleTable) OutgoingFrom(from Status) []TransitionRule {
	var out []TransitionRule
	for _, r := range t.rules {
		if r.From == from {
			out = append(out, r)
		}
	}
	return out
}

// ResponsibleRole returns the role that acts on requests in a status.
// Falls back to RoleConsultant when a status has no explicit owner.
func (t *RuleTable) ResponsibleRole(s Status) Role {
	if r, ok := t.statusRoles[s]; ok {
		return r
	}
	return RoleConsultant
}

// ActionableStatuses returns the statuses a role is responsible for.
// Used to scope open-request counts during reassignment so a consultant's
// queue of requests they cannot act on does not bias selection.
func (t *RuleTable) ActionableStatuses(role Role) []Status {
	var out []Status
	for s, r := range t.statusRoles {
		if r == role {
			out = append(out, s)
		}
	}
	return out
}
