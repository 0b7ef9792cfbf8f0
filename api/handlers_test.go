package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/advisory-engine/advisory"
	"github.com/warp/advisory-engine/engine"
	"github.com/warp/advisory-engine/engine/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	st.SeedConsultant(engine.Consultant{
		ID: "carol", Name: "Carol", Title: engine.RoleConsultant,
		ServiceIDs: []engine.ServiceID{"eng-excellence"},
		Expertise:  []string{"Kubernetes"},
		HourlyRate: decimal.NewFromInt(150), Active: true,
	})
	st.SeedConsultant(engine.Consultant{
		ID: "lena", Name: "Lena", Title: engine.RoleServiceLead,
		ServiceIDs: []engine.ServiceID{"eng-excellence"},
		HourlyRate: decimal.NewFromInt(200), Active: true,
	})
	st.SeedUser("admin", engine.RoleAdmin, "")
	st.SeedUser("carol", engine.RoleConsultant, "")
	st.SeedUser("lena", engine.RoleServiceLead, "")

	rules := advisory.DefaultRuleTable()
	wf := engine.NewWorkflow(st, rules, advisory.DefaultCatalog(), nil)
	h := NewHandler(st, wf, rules, advisory.DefaultCatalog(), nil)

	srv := httptest.NewServer(NewRouter(h, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func submitRequest(t *testing.T, srv *httptest.Server) RequestDTO {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/requests", "user1", SubmitBody{
		ServiceIDs:  []string{"eng-excellence"},
		OfferingIDs: []string{"off-k8s"},
		SelectedActivities: json.RawMessage(
			`{"subActivities": {"s1": {"selected": true, "name": "Inventory", "estimated_hours": 10}}}`),
		BillabilityPercentage: "50",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[[]RequestDTO](t, resp)
	require.Len(t, created, 1)
	return created[0]
}

func TestSubmitAndGetRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	created := submitRequest(t, srv)
	assert.Equal(t, "New", created.Status)
	assert.Equal(t, "carol", created.AssigneeID)
	assert.True(t, strings.HasPrefix(created.RequestID, "AR-"))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/requests/"+created.ID, "user1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[RequestDTO](t, resp)
	assert.Equal(t, created.RequestID, got.RequestID)
	assert.Equal(t, "50", got.BillabilityPercentage)
}

func TestGetRequest_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/requests/missing", "user1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestTransitionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	created := submitRequest(t, srv)
	url := srv.URL + "/api/requests/" + created.ID + "/transition"

	// The role gate surfaces as 403.
	resp := doJSON(t, http.MethodPost, url, "user1", TransitionBody{To: "Estimation"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// An invalid edge surfaces as 400.
	resp = doJSON(t, http.MethodPost, url, "carol", TransitionBody{To: "Implemented"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// The consultant takes the edge.
	resp = doJSON(t, http.MethodPost, url, "carol", TransitionBody{To: "Estimation"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[RequestDTO](t, resp)
	assert.Equal(t, "Estimation", updated.Status)
}

func TestListTransitionsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	created := submitRequest(t, srv)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/requests/"+created.ID+"/transitions", "carol", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	options := decode[[]TransitionOptionDTO](t, resp)
	require.NotEmpty(t, options)

	byTarget := map[string]TransitionOptionDTO{}
	for _, o := range options {
		byTarget[o.To] = o
	}
	assert.True(t, byTarget["Estimation"].Allowed)
	// Cancellation is requestor-gated, so the consultant sees it blocked.
	assert.False(t, byTarget["Cancelled"].Allowed)
}

func TestEstimationEndpoint_FreezesOnReview(t *testing.T) {
	srv, _ := newTestServer(t)
	created := submitRequest(t, srv)
	base := srv.URL + "/api/requests/" + created.ID

	// Live estimation uses carol's rate.
	resp := doJSON(t, http.MethodGet, base+"/estimation", "carol", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	live := decode[EstimationDTO](t, resp)
	assert.Equal(t, "10", live.TotalHours)
	assert.Equal(t, "1500", live.TotalCost)
	assert.False(t, live.Frozen)

	// Entering review freezes the snapshot and hands over to the lead.
	doJSON(t, http.MethodPost, base+"/transition", "carol", TransitionBody{To: "Estimation"}).Body.Close()
	doJSON(t, http.MethodPost, base+"/transition", "carol", TransitionBody{To: "Review"}).Body.Close()

	resp = doJSON(t, http.MethodGet, base+"/estimation", "lena", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	frozen := decode[EstimationDTO](t, resp)
	assert.True(t, frozen.Frozen)
	assert.Equal(t, "1500", frozen.TotalCost, "snapshot keeps the estimator's rate, not the lead's")
	assert.NotEmpty(t, frozen.FrozenAt)
}

func TestTimesheetEndpointAndCompletion(t *testing.T) {
	srv, _ := newTestServer(t)
	created := submitRequest(t, srv)
	base := srv.URL + "/api/requests/" + created.ID

	// 10h at 50% billability: 4 + 4 + 2.
	resp := doJSON(t, http.MethodGet, base+"/timesheet", "carol", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ts := decode[TimesheetDTO](t, resp)
	require.Len(t, ts.Days, 3)
	assert.Equal(t, "10", ts.TotalHours)
	assert.Equal(t, 3, ts.TotalSlices)
	assert.Equal(t, 0, ts.CompletedSlices)

	key := ts.Days[0].Activities[0].UniqueKey
	resp = doJSON(t, http.MethodPost, base+"/timesheet/completion", "carol",
		CompletionBody{UniqueKey: key, Completed: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, base+"/timesheet", "carol", nil)
	ts = decode[TimesheetDTO](t, resp)
	assert.Equal(t, 1, ts.CompletedSlices)
	assert.True(t, ts.Days[0].Activities[0].Completed)
}

func TestTimesheetExportEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	created := submitRequest(t, srv)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/requests/"+created.ID+"/timesheet/export", "carol", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	// XLSX is a zip container; PK is its magic number.
	require.Greater(t, buf.Len(), 4)
	assert.Equal(t, "PK", buf.String()[:2])
}

func TestSaveSelectionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	created := submitRequest(t, srv)
	url := srv.URL + "/api/requests/" + created.ID + "/selection"

	resp := doJSON(t, http.MethodPut, url, "carol", SelectionBody{
		SelectedActivities:    json.RawMessage(`{"s2": {"selected": true, "estimated_hours": 6}}`),
		BillabilityPercentage: "80",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[RequestDTO](t, resp)
	assert.Equal(t, "80", updated.BillabilityPercentage)

	// Malformed selections never reach the store.
	resp = doJSON(t, http.MethodPut, url, "carol", map[string]any{
		"selected_activities": json.RawMessage(`[1, 2]`),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestReassignEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	created := submitRequest(t, srv)
	url := srv.URL + "/api/requests/" + created.ID + "/reassign"

	resp := doJSON(t, http.MethodPost, url, "carol", ReassignBody{AssigneeID: "lena"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, url, "admin", ReassignBody{AssigneeID: "lena"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[RequestDTO](t, resp)
	assert.Equal(t, "lena", updated.AssigneeID)
	assert.Equal(t, "carol", updated.OriginalAssigneeID)
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	created := submitRequest(t, srv)
	base := srv.URL + "/api/requests/" + created.ID

	doJSON(t, http.MethodPost, base+"/transition", "carol", TransitionBody{To: "Estimation"}).Body.Close()

	resp := doJSON(t, http.MethodGet, base+"/history", "carol", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]HistoryDTO](t, resp)
	require.Len(t, entries, 2)
	assert.Equal(t, engine.ActionRequestSubmitted, entries[0].Action)
	assert.Equal(t, engine.ActionStatusChanged, entries[1].Action)
}

func TestConsultantAdminEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	body := ConsultantBody{
		ID: "nina", Name: "Nina", Title: string(engine.RoleConsultant),
		ServiceIDs: []string{"cloud-adoption"}, HourlyRate: "180",
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/consultants", "carol", body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "non-admins cannot edit the pool")
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/consultants", "admin", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/consultants", "admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pool := decode[[]ConsultantDTO](t, resp)
	assert.Len(t, pool, 3)
}

func TestStatusSummaryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	created := submitRequest(t, srv)
	doJSON(t, http.MethodPost, srv.URL+"/api/requests/"+created.ID+"/transition", "user1",
		TransitionBody{To: "Cancelled"}).Body.Close()
	submitRequest(t, srv)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/insights/status-summary", "admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[StatusSummaryDTO](t, resp)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Open)
	assert.Equal(t, 1, summary.ByStatus["New"])
	assert.Equal(t, 1, summary.ByStatus["Cancelled"])
}

func TestCatalogEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/catalog", "user1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	catalog := decode[advisory.Catalog](t, resp)
	assert.NotEmpty(t, catalog.Services)
}

func TestRouterLogsEveryRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	st := store.NewMemory()
	rules := advisory.DefaultRuleTable()
	wf := engine.NewWorkflow(st, rules, advisory.DefaultCatalog(), nil)
	h := NewHandler(st, wf, rules, advisory.DefaultCatalog(), zap.New(core))
	srv := httptest.NewServer(NewRouter(h, []string{"*"}))
	t.Cleanup(srv.Close)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/catalog", "user1", nil)
	resp.Body.Close()

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/api/catalog", fields["path"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.NotEmpty(t, fields["request_id"])
}
