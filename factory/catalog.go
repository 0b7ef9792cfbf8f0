/*
Package factory provides JSON to Go catalog and rule-table conversion.

PURPOSE:
  Lets deployments define their advisory service catalog and, optionally,
  a customized status graph in JSON - service leads can adjust activity
  templates and hour estimates without code changes.

JSON SCHEMA (catalog):
  {
    "services": [
      {
        "id": "eng-excellence",
        "name": "Engineering Excellence",
        "offerings": [{"id": "off-k8s", "name": "Kubernetes"}],
        "activities": [
          {
            "id": "act-assess",
            "name": "Current-state assessment",
            "estimated_hours": 16,
            "sub_activities": [
              {"id": "sub-interviews", "name": "Stakeholder interviews", "estimated_hours": 6}
            ]
          }
        ]
      }
    ]
  }

JSON SCHEMA (rules):
  {
    "rules": [{"from": "New", "to": "Estimation", "role": "Advisory Consultant"}],
    "status_roles": {"Review": "Advisory Service Lead"}
  }

USAGE:
  f := factory.NewCatalogFactory()
  catalog, err := f.ParseCatalog(jsonBytes)

SEE ALSO:
  - advisory/catalog.go: Target types and the built-in default catalog
  - advisory/rules.go: The default status graph
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/advisory-engine/advisory"
	"github.com/warp/advisory-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type CatalogJSON struct {
	Services []ServiceJSON `json:"services"`
}

type ServiceJSON struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Offerings  []OfferingJSON `json:"offerings,omitempty"`
	Activities []ActivityJSON `json:"activities,omitempty"`
}

type OfferingJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ActivityJSON struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	EstimatedHours float64           `json:"estimated_hours"`
	SubActivities  []SubActivityJSON `json:"sub_activities,omitempty"`
}

type SubActivityJSON struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	EstimatedHours float64 `json:"estimated_hours"`
}

type RulesJSON struct {
	Rules       []RuleJSON        `json:"rules"`
	StatusRoles map[string]string `json:"status_roles,omitempty"`
}

type RuleJSON struct {
	From string `json:"from"`
	To   string `json:"to"`
	Role string `json:"role"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

type CatalogFactory struct{}

func NewCatalogFactory() *CatalogFactory { return &CatalogFactory{} }

// ParseCatalog converts catalog JSON into advisory.Catalog, validating ids.
func (f *CatalogFactory) ParseCatalog(data []byte) (*advisory.Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("invalid catalog JSON: %w", err)
	}
	if len(cj.Services) == 0 {
		return nil, fmt.Errorf("catalog defines no services")
	}

	seen := map[string]bool{}
	catalog := &advisory.Catalog{}
	for _, sj := range cj.Services {
		if sj.ID == "" || sj.Name == "" {
			return nil, fmt.Errorf("service requires id and name")
		}
		if seen[sj.ID] {
			return nil, fmt.Errorf("duplicate service id %q", sj.ID)
		}
		seen[sj.ID] = true

		svc := advisory.Service{ID: engine.ServiceID(sj.ID), Name: sj.Name}
		for _, oj := range sj.Offerings {
			svc.Offerings = append(svc.Offerings, advisory.Offering(oj))
		}
		for _, aj := range sj.Activities {
			act := advisory.ActivityTemplate{
				ID:    aj.ID,
				Name:  aj.Name,
				Hours: decimal.NewFromFloat(aj.EstimatedHours),
			}
			for _, sub := range aj.SubActivities {
				act.SubActivities = append(act.SubActivities, advisory.SubActivityTemplate{
					ID:    sub.ID,
					Name:  sub.Name,
					Hours: decimal.NewFromFloat(sub.EstimatedHours),
				})
			}
			svc.Activities = append(svc.Activities, act)
		}
		catalog.Services = append(catalog.Services, svc)
	}
	return catalog, nil
}

// ParseRules converts rules JSON into an engine.RuleTable. Statuses absent
// from status_roles inherit the advisory defaults.
func (f *CatalogFactory) ParseRules(data []byte) (*engine.RuleTable, error) {
	var rj RulesJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return nil, fmt.Errorf("invalid rules JSON: %w", err)
	}
	if len(rj.Rules) == 0 {
		return nil, fmt.Errorf("rule set defines no transitions")
	}

	rules := make([]engine.TransitionRule, 0, len(rj.Rules))
	for _, r := range rj.Rules {
		from, to := engine.Status(r.From), engine.Status(r.To)
		if from.IsTerminal() {
			return nil, fmt.Errorf("terminal status %q cannot have outgoing transitions", r.From)
		}
		rules = append(rules, engine.TransitionRule{From: from, To: to, Role: engine.Role(r.Role)})
	}

	statusRoles := advisory.StatusRoles()
	for s, role := range rj.StatusRoles {
		statusRoles[engine.Status(s)] = engine.Role(role)
	}
	return engine.NewRuleTable(rules, statusRoles), nil
}
