/*
Package advisory defines the advisory-engagement domain on top of the engine:
the production status graph, the role responsible for each status, and the
service/activity catalog types.

The engine package knows nothing about which edges exist; this package is the
single place the advisory workflow is written down.

STATUS GRAPH:

  New ──▶ Under Discussion ──▶ Estimation ──▶ Review ──▶ Pending Review
                                   ▲             │             │
                                   └─────────────┘             ▼
                                              Pending Review by Advisory Head
                                                               │
              Approved ◀── Approval ◀──────────────────────────┘
                 │
                 ▼
           Implementing ──▶ Awaiting Feedback ──▶ Feedback Received ──▶ Implemented

  Branches: Cancelled (requestor-driven), Reject (consultant/head-driven),
  On Hold (pausable from estimation and implementation, resumable).

SEE ALSO:
  - engine/rules.go: Table machinery
  - engine/workflow.go: Consumes the table
*/
package advisory

import "github.com/warp/advisory-engine/engine"

// StatusRoles maps each status to the role responsible for acting on
// requests sitting in it. Drives reassignment on transitions.
func StatusRoles() map[engine.Status]engine.Role {
	return map[engine.Status]engine.Role{
		engine.StatusNew:               engine.RoleConsultant,
		engine.StatusUnderDiscussion:   engine.RoleConsultant,
		engine.StatusEstimation:        engine.RoleConsultant,
		engine.StatusReview:            engine.RoleServiceLead,
		engine.StatusPendingReview:     engine.RoleServiceLead,
		engine.StatusPendingHeadReview: engine.RoleServiceHead,
		engine.StatusApproval:          engine.RoleRequestor,
		engine.StatusApproved:          engine.RoleConsultant,
		engine.StatusImplementing:      engine.RoleConsultant,
		engine.StatusAwaitingFeedback:  engine.RoleConsultant,
		engine.StatusFeedbackReceived:  engine.RoleServiceLead,
		engine.StatusImplemented:       engine.RoleServiceLead,
	}
}

// TransitionRules returns the production edge list. Terminal statuses
// (Implemented, Cancelled, Reject) have no outgoing edges.
func TransitionRules() []engine.TransitionRule {
	return []engine.TransitionRule{
		// Intake
		{From: engine.StatusNew, To: engine.StatusUnderDiscussion, Role: engine.RoleConsultant},
		{From: engine.StatusNew, To: engine.StatusEstimation, Role: engine.RoleConsultant},
		{From: engine.StatusNew, To: engine.StatusReject, Role: engine.RoleConsultant},
		{From: engine.StatusNew, To: engine.StatusCancelled, Role: engine.RoleRequestor},

		{From: engine.StatusUnderDiscussion, To: engine.StatusEstimation, Role: engine.RoleConsultant},
		{From: engine.StatusUnderDiscussion, To: engine.StatusOnHold, Role: engine.RoleConsultant},
		{From: engine.StatusUnderDiscussion, To: engine.StatusReject, Role: engine.RoleConsultant},
		{From: engine.StatusUnderDiscussion, To: engine.StatusCancelled, Role: engine.RoleRequestor},

		// Estimation and review chain
		{From: engine.StatusEstimation, To: engine.StatusReview, Role: engine.RoleConsultant},
		{From: engine.StatusEstimation, To: engine.StatusOnHold, Role: engine.RoleConsultant},
		{From: engine.StatusEstimation, To: engine.StatusCancelled, Role: engine.RoleRequestor},

		{From: engine.StatusReview, To: engine.StatusPendingReview, Role: engine.RoleServiceLead},
		{From: engine.StatusReview, To: engine.StatusEstimation, Role: engine.RoleServiceLead},
		{From: engine.StatusReview, To: engine.StatusCancelled, Role: engine.RoleRequestor},

		{From: engine.StatusPendingReview, To: engine.StatusPendingHeadReview, Role: engine.RoleServiceLead},
		{From: engine.StatusPendingReview, To: engine.StatusApproval, Role: engine.RoleServiceLead},

		{From: engine.StatusPendingHeadReview, To: engine.StatusApproval, Role: engine.RoleServiceHead},
		{From: engine.StatusPendingHeadReview, To: engine.StatusEstimation, Role: engine.RoleServiceHead},
		{From: engine.StatusPendingHeadReview, To: engine.StatusReject, Role: engine.RoleServiceHead},

		// Requestor sign-off
		{From: engine.StatusApproval, To: engine.StatusApproved, Role: engine.RoleRequestor},
		{From: engine.StatusApproval, To: engine.StatusReject, Role: engine.RoleRequestor},
		{From: engine.StatusApproval, To: engine.StatusCancelled, Role: engine.RoleRequestor},

		// Implementation
		{From: engine.StatusApproved, To: engine.StatusImplementing, Role: engine.RoleConsultant},
		{From: engine.StatusImplementing, To: engine.StatusAwaitingFeedback, Role: engine.RoleConsultant},
		{From: engine.StatusImplementing, To: engine.StatusOnHold, Role: engine.RoleConsultant},
		{From: engine.StatusAwaitingFeedback, To: engine.StatusFeedbackReceived, Role: engine.RoleRequestor},
		{From: engine.StatusFeedbackReceived, To: engine.StatusImplemented, Role: engine.RoleServiceLead},

		// Resume / abandon a hold
		{From: engine.StatusOnHold, To: engine.StatusEstimation, Role: engine.RoleConsultant},
		{From: engine.StatusOnHold, To: engine.StatusImplementing, Role: engine.RoleConsultant},
		{From: engine.StatusOnHold, To: engine.StatusCancelled, Role: engine.RoleRequestor},
	}
}

// DefaultRuleTable builds the production rule table.
func DefaultRuleTable() *engine.RuleTable {
	return engine.NewRuleTable(TransitionRules(), StatusRoles())
}
