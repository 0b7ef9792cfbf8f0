package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/advisory-engine/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRequest(id string) *engine.Request {
	now := time.Now().UTC().Truncate(time.Second)
	return &engine.Request{
		ID:                    id,
		RequestID:             "AR-2026-0001",
		Status:                engine.StatusNew,
		ServiceIDs:            []engine.ServiceID{"cloud"},
		OfferingIDs:           []string{"off-k8s"},
		RequestorID:           "user1",
		AssigneeID:            "carol",
		AssigneeName:          "Carol",
		OriginalAssigneeID:    "carol",
		OriginalAssigneeName:  "Carol",
		ProjectMeta:           map[string]string{"project": "atlas"},
		Requirements:          map[engine.ServiceID]string{"cloud": "migrate"},
		SelectedActivities:    []byte(`{"a": {"selected": true, "estimated_hours": 4}}`),
		TimesheetData:         map[string]bool{"a-day0-part1": true},
		SavedTotalHours:       decimal.NewFromInt(4),
		SavedTotalPD:          decimal.NewFromFloat(0.5),
		SavedTotalCost:        decimal.NewFromInt(600),
		SavedAssigneeRate:     decimal.NewFromInt(150),
		SavedAssigneeRole:     engine.RoleConsultant,
		BillabilityPercentage: decimal.NewFromInt(80),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func TestRequestRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	original := sampleRequest("r1")
	frozenAt := time.Now().UTC().Truncate(time.Second)
	original.EstimationSavedAt = &frozenAt

	require.NoError(t, st.CreateRequest(ctx, original))

	got, err := st.GetRequest(ctx, "r1")
	require.NoError(t, err)

	assert.Equal(t, original.RequestID, got.RequestID)
	assert.Equal(t, engine.StatusNew, got.Status)
	assert.Equal(t, []engine.ServiceID{"cloud"}, got.ServiceIDs)
	assert.Equal(t, "migrate", got.Requirements["cloud"])
	assert.Equal(t, map[string]bool{"a-day0-part1": true}, got.TimesheetData)
	assert.True(t, got.SavedTotalHours.Equal(decimal.NewFromInt(4)))
	assert.True(t, got.SavedTotalPD.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, got.BillabilityPercentage.Equal(decimal.NewFromInt(80)))
	require.NotNil(t, got.EstimationSavedAt)
	assert.True(t, got.EstimationSavedAt.Equal(frozenAt))
	assert.Nil(t, got.ImplementationStartDate)
	assert.Equal(t, 1, got.Version)
	assert.JSONEq(t, string(original.SelectedActivities), string(got.SelectedActivities))
}

func TestGetRequest_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, engine.ErrRequestNotFound)
}

func TestUpdateRequest_OptimisticConcurrency(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	r := sampleRequest("r1")
	require.NoError(t, st.CreateRequest(ctx, r))

	// A matching version updates and bumps.
	r.Status = engine.StatusEstimation
	require.NoError(t, st.UpdateRequest(ctx, r, 1))
	assert.Equal(t, 2, r.Version)

	// A stale version is a conflict, and the row is untouched.
	stale := sampleRequest("r1")
	stale.Status = engine.StatusCancelled
	err := st.UpdateRequest(ctx, stale, 1)
	assert.ErrorIs(t, err, engine.ErrConcurrentModification)

	got, err := st.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusEstimation, got.Status)
	assert.Equal(t, 2, got.Version)
}

func TestUpdateRequest_MissingRow(t *testing.T) {
	st := newTestStore(t)
	err := st.UpdateRequest(context.Background(), sampleRequest("ghost"), 1)
	assert.ErrorIs(t, err, engine.ErrRequestNotFound)
}

func TestCountOpenByAssignee_ExcludesTerminalAndScopes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mk := func(id string, status engine.Status, assignee engine.ConsultantID) {
		r := sampleRequest(id)
		r.RequestID = "AR-2026-" + id
		r.Status = status
		r.AssigneeID = assignee
		require.NoError(t, st.CreateRequest(ctx, r))
	}
	mk("r1", engine.StatusNew, "carol")
	mk("r2", engine.StatusEstimation, "carol")
	mk("r3", engine.StatusImplemented, "carol") // terminal, never counted
	mk("r4", engine.StatusCancelled, "carol")   // terminal, never counted
	mk("r5", engine.StatusReview, "lena")

	loads, err := st.CountOpenByAssignee(ctx, []engine.ConsultantID{"carol", "lena", "idle"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, loads["carol"])
	assert.Equal(t, 1, loads["lena"])
	assert.Equal(t, 0, loads["idle"], "pool members with no requests still appear")

	// Scoped to specific statuses.
	scoped, err := st.CountOpenByAssignee(ctx,
		[]engine.ConsultantID{"carol", "lena"}, []engine.Status{engine.StatusReview})
	require.NoError(t, err)
	assert.Equal(t, 0, scoped["carol"])
	assert.Equal(t, 1, scoped["lena"])
}

func TestConsultantUpsertAndLookup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c := engine.Consultant{
		ID:         "carol",
		Name:       "Carol",
		Title:      engine.RoleConsultant,
		ServiceIDs: []engine.ServiceID{"cloud"},
		Expertise:  []string{"Kubernetes"},
		HourlyRate: decimal.NewFromInt(150),
		Active:     true,
	}
	require.NoError(t, st.SaveConsultant(ctx, c))

	// Upsert: deactivate and raise the rate.
	c.Active = false
	c.HourlyRate = decimal.NewFromInt(175)
	require.NoError(t, st.SaveConsultant(ctx, c))

	got, err := st.GetConsultant(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.True(t, got.HourlyRate.Equal(decimal.NewFromInt(175)))

	active, err := st.ListActiveConsultants(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := st.ListConsultants(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = st.GetConsultant(ctx, "nobody")
	assert.ErrorIs(t, err, engine.ErrConsultantNotFound)
}

func TestRoleOf_DefaultsToStandardUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	role, _, err := st.RoleOf(ctx, "stranger")
	require.NoError(t, err)
	assert.Equal(t, engine.RoleStandardUser, role)

	require.NoError(t, st.SaveUser(ctx, "boss", engine.RoleAdmin, "Director"))
	role, title, err := st.RoleOf(ctx, "boss")
	require.NoError(t, err)
	assert.Equal(t, engine.RoleAdmin, role)
	assert.Equal(t, "Director", title)
}

func TestHistoryAppendOnlyAndOrdered(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, action := range []string{engine.ActionRequestSubmitted, engine.ActionStatusChanged} {
		require.NoError(t, st.AppendHistory(ctx, engine.HistoryEntry{
			ID:          string(rune('a' + i)),
			RequestID:   "r1",
			Action:      action,
			PerformedBy: "carol",
			PerformedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := st.ListHistory(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, engine.ActionRequestSubmitted, entries[0].Action)
	assert.Equal(t, engine.ActionStatusChanged, entries[1].Action)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(s engine.Store) error {
		if err := s.CreateRequest(ctx, sampleRequest("r1")); err != nil {
			return err
		}
		if err := s.AppendHistory(ctx, engine.HistoryEntry{
			ID: "h1", RequestID: "r1", Action: engine.ActionRequestSubmitted,
			PerformedBy: "carol", PerformedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// Neither the request nor its history survived.
	_, err = st.GetRequest(ctx, "r1")
	assert.ErrorIs(t, err, engine.ErrRequestNotFound)
	entries, err := st.ListHistory(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(s engine.Store) error {
		return s.CreateRequest(ctx, sampleRequest("r1"))
	})
	require.NoError(t, err)

	got, err := st.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "AR-2026-0001", got.RequestID)
}
