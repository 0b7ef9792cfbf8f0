/*
catalog.go - Advisory service and activity catalog

PURPOSE:
  The shared catalog of advisory services, their offerings (tools), and
  the activity/sub-activity templates with estimated hours. Requests
  denormalize catalog entries into their own selection at save time, so
  catalog edits never retroactively change an existing estimate. Custom
  per-request activities live only on the request, never here.

SEE ALSO:
  - factory/catalog.go: JSON catalog loading
  - engine/selection.go: Canonical selection the catalog feeds
*/
package advisory

import (
	"github.com/shopspring/decimal"

	"github.com/warp/advisory-engine/engine"
)

// Offering is a tool/product a service advises on. Offering names are the
// expertise hints fed to assignment.
type Offering struct {
	ID   string
	Name string
}

// ActivityTemplate is one catalog activity with its sub-activities.
type ActivityTemplate struct {
	ID            string
	Name          string
	Hours         decimal.Decimal
	SubActivities []SubActivityTemplate
}

type SubActivityTemplate struct {
	ID    string
	Name  string
	Hours decimal.Decimal
}

// Service is one advisory service line.
type Service struct {
	ID         engine.ServiceID
	Name       string
	Offerings  []Offering
	Activities []ActivityTemplate
}

// Catalog is the full shared catalog.
type Catalog struct {
	Services []Service
}

// ServiceByID returns the service, or nil.
func (c *Catalog) ServiceByID(id engine.ServiceID) *Service {
	for i := range c.Services {
		if c.Services[i].ID == id {
			return &c.Services[i]
		}
	}
	return nil
}

// OfferingNames resolves offering ids to display names across all services,
// in input order. Unknown ids pass through unchanged so stale selections
// still produce usable expertise hints.
func (c *Catalog) OfferingNames(ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name := id
		for _, svc := range c.Services {
			for _, o := range svc.Offerings {
				if o.ID == id {
					name = o.Name
				}
			}
		}
		names = append(names, name)
	}
	return names
}

// DefaultCatalog returns a starter catalog used in dev and tests. Production
// deployments load theirs from configuration (see factory).
func DefaultCatalog() *Catalog {
	h := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
	return &Catalog{Services: []Service{
		{
			ID:   "eng-excellence",
			Name: "Engineering Excellence",
			Offerings: []Offering{
				{ID: "off-k8s", Name: "Kubernetes"},
				{ID: "off-tf", Name: "Terraform"},
				{ID: "off-obs", Name: "Observability"},
			},
			Activities: []ActivityTemplate{
				{
					ID: "act-assess", Name: "Current-state assessment", Hours: h(16),
					SubActivities: []SubActivityTemplate{
						{ID: "sub-interviews", Name: "Stakeholder interviews", Hours: h(6)},
						{ID: "sub-arch-review", Name: "Architecture review", Hours: h(10)},
					},
				},
				{
					ID: "act-roadmap", Name: "Improvement roadmap", Hours: h(12),
					SubActivities: []SubActivityTemplate{
						{ID: "sub-findings", Name: "Findings write-up", Hours: h(8)},
						{ID: "sub-present", Name: "Roadmap presentation", Hours: h(4)},
					},
				},
			},
		},
		{
			ID:   "cloud-adoption",
			Name: "Cloud Adoption",
			Offerings: []Offering{
				{ID: "off-aws", Name: "AWS Landing Zone"},
				{ID: "off-azure", Name: "Azure Foundations"},
			},
			Activities: []ActivityTemplate{
				{
					ID: "act-migration", Name: "Migration planning", Hours: h(24),
					SubActivities: []SubActivityTemplate{
						{ID: "sub-inventory", Name: "Workload inventory", Hours: h(10)},
						{ID: "sub-wave-plan", Name: "Wave planning", Hours: h(14)},
					},
				},
			},
		},
	}}
}
