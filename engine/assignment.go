/*
assignment.go - Consultant auto-assignment

PURPOSE:
  Selects the best consultant for a request given the required advisory
  services, the expertise hints (selected tool/offering names), the
  candidate pool, and each candidate's current open-request count.

ALGORITHM:
  1. Filter the pool to active consultants serving at least one required service
  2. Prefer candidates with an expertise match (case-insensitive substring,
     either direction) against any expertise hint
  3. Among matches, pick the lowest open-request count; ties keep pool order
  4. No expertise match: fall back to Advisory Service Heads for the service,
     then to the whole filtered set by load
  5. Nothing eligible: NoAssigneeError - a normal outcome, never an excuse
     to assign a wrong-service consultant

PURITY:
  Assign performs no I/O. The caller supplies the pool and the load counts,
  which keeps the selection unit-testable without a store. Load counts must
  exclude terminal statuses (see workflow.go).

SEE ALSO:
  - workflow.go: Calls Assign on submit and on role-changing transitions
  - rules.go: ActionableStatuses used to scope load counts
*/
package engine

import "strings"

// Loads maps consultant id to current open-request count.
type Loads map[ConsultantID]int

// Assign picks a consultant for the given services and expertise hints.
// Returns NoAssigneeError (unwraps to ErrNoAssigneeAvailable) when the
// pool holds nobody eligible.
func Assign(serviceIDs []ServiceID, expertise []string, pool []Consultant, loads Loads) (*Consultant, error) {
	// 1. Active consultants serving one of the required services.
	var eligible []Consultant
	for _, c := range pool {
		if c.Active && c.ServesAny(serviceIDs) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, &NoAssigneeError{ServiceIDs: serviceIDs}
	}

	// 2. Expertise-matched subset.
	var matched []Consultant
	for _, c := range eligible {
		if matchesExpertise(c.Expertise, expertise) {
			matched = append(matched, c)
		}
	}
	if len(matched) > 0 {
		return leastLoaded(matched, loads), nil
	}

	// 3. Fall back to service heads for the required services.
	var heads []Consultant
	for _, c := range eligible {
		if c.Title == RoleServiceHead {
			heads = append(heads, c)
		}
	}
	if len(heads) > 0 {
		return leastLoaded(heads, loads), nil
	}

	// 4. Last resort: anyone serving the service, by load.
	return leastLoaded(eligible, loads), nil
}

// AssignWithRole restricts the pool to a specific title before assigning.
// Used on transitions whose target status is owned by a different role.
func AssignWithRole(serviceIDs []ServiceID, expertise []string, pool []Consultant, loads Loads, role Role) (*Consultant, error) {
	var titled []Consultant
	for _, c := range pool {
		if c.Title == role {
			titled = append(titled, c)
		}
	}
	c, err := Assign(serviceIDs, expertise, titled, loads)
	if err != nil {
		return nil, &NoAssigneeError{ServiceIDs: serviceIDs, TargetRole: role}
	}
	return c, nil
}

// matchesExpertise reports a case-insensitive substring match, in either
// direction, between any consultant tag and any required hint.
// "Kubernetes" matches hint "kubernetes migration" and vice versa.
func matchesExpertise(tags, hints []string) bool {
	for _, tag := range tags {
		lt := strings.ToLower(strings.TrimSpace(tag))
		if lt == "" {
			continue
		}
		for _, hint := range hints {
			lh := strings.ToLower(strings.TrimSpace(hint))
			if lh == "" {
				continue
			}
			if strings.Contains(lt, lh) || strings.Contains(lh, lt) {
				return true
			}
		}
	}
	return false
}

// leastLoaded returns the candidate with the lowest open-request count.
// Ties are broken by first-encountered order, so selection is deterministic
// for a given pool ordering.
func leastLoaded(candidates []Consultant, loads Loads) *Consultant {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if loads[candidates[i].ID] < loads[candidates[best].ID] {
			best = i
		}
	}
	return &candidates[best]
}
