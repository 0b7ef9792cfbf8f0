package factory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/advisory-engine/engine"
)

func TestParseCatalog_FullDocument(t *testing.T) {
	data := []byte(`{
		"services": [{
			"id": "eng-excellence",
			"name": "Engineering Excellence",
			"offerings": [{"id": "off-k8s", "name": "Kubernetes"}],
			"activities": [{
				"id": "act-assess",
				"name": "Current-state assessment",
				"estimated_hours": 16,
				"sub_activities": [
					{"id": "sub-interviews", "name": "Stakeholder interviews", "estimated_hours": 6.5}
				]
			}]
		}]
	}`)

	catalog, err := NewCatalogFactory().ParseCatalog(data)
	require.NoError(t, err)
	require.Len(t, catalog.Services, 1)

	svc := catalog.ServiceByID("eng-excellence")
	require.NotNil(t, svc)
	assert.Equal(t, "Engineering Excellence", svc.Name)
	require.Len(t, svc.Activities, 1)
	assert.True(t, svc.Activities[0].Hours.Equal(decimal.NewFromInt(16)))
	require.Len(t, svc.Activities[0].SubActivities, 1)
	assert.True(t, svc.Activities[0].SubActivities[0].Hours.Equal(decimal.NewFromFloat(6.5)))
}

func TestParseCatalog_Rejections(t *testing.T) {
	f := NewCatalogFactory()

	cases := []struct {
		name string
		data string
	}{
		{"malformed JSON", `{"services": `},
		{"no services", `{"services": []}`},
		{"missing id", `{"services": [{"name": "n"}]}`},
		{"missing name", `{"services": [{"id": "a"}]}`},
		{"duplicate id", `{"services": [{"id": "a", "name": "x"}, {"id": "a", "name": "y"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ParseCatalog([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestParseRules_BuildsTableWithRoleOverrides(t *testing.T) {
	data := []byte(`{
		"rules": [
			{"from": "New", "to": "Estimation", "role": "Advisory Consultant"},
			{"from": "Estimation", "to": "Review", "role": "Advisory Consultant"}
		],
		"status_roles": {"Review": "Advisory Service Head"}
	}`)

	table, err := NewCatalogFactory().ParseRules(data)
	require.NoError(t, err)

	rule := table.Find(engine.StatusNew, engine.StatusEstimation)
	require.NotNil(t, rule)
	assert.Equal(t, engine.RoleConsultant, rule.Role)

	// The override wins; untouched statuses keep the advisory defaults.
	assert.Equal(t, engine.RoleServiceHead, table.ResponsibleRole(engine.StatusReview))
	assert.Equal(t, engine.RoleConsultant, table.ResponsibleRole(engine.StatusEstimation))
}

func TestParseRules_RejectsOutgoingFromTerminal(t *testing.T) {
	data := []byte(`{"rules": [{"from": "Implemented", "to": "New", "role": "Admin"}]}`)
	_, err := NewCatalogFactory().ParseRules(data)
	assert.Error(t, err)
}

func TestParseRules_RejectsEmptyRuleSet(t *testing.T) {
	_, err := NewCatalogFactory().ParseRules([]byte(`{"rules": []}`))
	assert.Error(t, err)
}
