// Package store provides an in-memory engine.TxStore for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/advisory-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	requests    map[string]*engine.Request
	history     map[string][]engine.HistoryEntry
	consultants []engine.Consultant
	users       map[engine.UserID]memoryUser
	created     int
}

type memoryUser struct {
	Role  engine.Role
	Title string
}

// Compile-time check that Memory satisfies the full transactional surface.
var _ engine.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		requests: make(map[string]*engine.Request),
		history:  make(map[string][]engine.HistoryEntry),
		users:    make(map[engine.UserID]memoryUser),
	}
}

// SeedConsultant adds a pool member. Order of seeding is pool order.
func (m *Memory) SeedConsultant(c engine.Consultant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consultants = append(m.consultants, c)
}

// SeedUser registers a user's role for RoleOf lookups.
func (m *Memory) SeedUser(id engine.UserID, role engine.Role, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = memoryUser{Role: role, Title: title}
}

// SaveConsultant upserts a pool member by id.
func (m *Memory) SaveConsultant(_ context.Context, c engine.Consultant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.consultants {
		if m.consultants[i].ID == c.ID {
			m.consultants[i] = c
			return nil
		}
	}
	m.consultants = append(m.consultants, c)
	return nil
}

// SaveUser upserts a user's role.
func (m *Memory) SaveUser(_ context.Context, id engine.UserID, role engine.Role, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = memoryUser{Role: role, Title: title}
	return nil
}

// =============================================================================
// REQUEST STORE
// =============================================================================

func (m *Memory) GetRequest(_ context.Context, id string) (*engine.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, engine.ErrRequestNotFound
	}
	cp := cloneRequest(r)
	return &cp, nil
}

func (m *Memory) CreateRequest(_ context.Context, r *engine.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Version = 1
	cp := cloneRequest(r)
	m.requests[r.ID] = &cp
	m.created++
	return nil
}

func (m *Memory) UpdateRequest(_ context.Context, r *engine.Request, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[r.ID]
	if !ok {
		return engine.ErrRequestNotFound
	}
	if stored.Version != expectedVersion {
		return engine.ErrConcurrentModification
	}
	r.Version = expectedVersion + 1
	cp := cloneRequest(r)
	m.requests[r.ID] = &cp
	return nil
}

func (m *Memory) ListRequests(_ context.Context) ([]*engine.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*engine.Request, 0, len(m.requests))
	for _, r := range m.requests {
		cp := cloneRequest(r)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].RequestID > out[j].RequestID
	})
	return out, nil
}

func (m *Memory) CountRequests(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.created, nil
}

func (m *Memory) CountOpenByAssignee(_ context.Context, ids []engine.ConsultantID, statuses []engine.Status) (engine.Loads, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[engine.ConsultantID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	statusFilter := make(map[engine.Status]bool, len(statuses))
	for _, s := range statuses {
		statusFilter[s] = true
	}

	loads := engine.Loads{}
	for _, id := range ids {
		loads[id] = 0
	}
	for _, r := range m.requests {
		if !wanted[r.AssigneeID] || r.Status.IsTerminal() {
			continue
		}
		if len(statusFilter) > 0 && !statusFilter[r.Status] {
			continue
		}
		loads[r.AssigneeID]++
	}
	return loads, nil
}

// =============================================================================
// CONSULTANT STORE / USER DIRECTORY
// =============================================================================

// ListConsultants returns the whole pool including inactive members.
func (m *Memory) ListConsultants(_ context.Context) ([]engine.Consultant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Consultant, len(m.consultants))
	copy(out, m.consultants)
	return out, nil
}

func (m *Memory) ListActiveConsultants(_ context.Context) ([]engine.Consultant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Consultant
	for _, c := range m.consultants {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) GetConsultant(_ context.Context, id engine.ConsultantID) (*engine.Consultant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.consultants {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, engine.ErrConsultantNotFound
}

func (m *Memory) RoleOf(_ context.Context, id engine.UserID) (engine.Role, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		return u.Role, u.Title, nil
	}
	// Unknown users default to standard users, matching a directory that
	// only tracks elevated roles.
	return engine.RoleStandardUser, "", nil
}

// =============================================================================
// HISTORY STORE
// =============================================================================

func (m *Memory) AppendHistory(_ context.Context, e engine.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[e.RequestID] = append(m.history[e.RequestID], e)
	return nil
}

func (m *Memory) ListHistory(_ context.Context, requestID string) ([]engine.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.HistoryEntry, len(m.history[requestID]))
	copy(out, m.history[requestID])
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx serializes the callback and restores a snapshot on error, giving
// the same all-or-nothing behavior the SQLite store gets from real
// transactions.
func (m *Memory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapReq, snapHist, snapCreated := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snapReq, snapHist, snapCreated)
		return err
	}
	return nil
}

func (m *Memory) snapshot() (map[string]*engine.Request, map[string][]engine.HistoryEntry, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reqs := make(map[string]*engine.Request, len(m.requests))
	for k, v := range m.requests {
		cp := cloneRequest(v)
		reqs[k] = &cp
	}
	hist := make(map[string][]engine.HistoryEntry, len(m.history))
	for k, v := range m.history {
		cp := make([]engine.HistoryEntry, len(v))
		copy(cp, v)
		hist[k] = cp
	}
	return reqs, hist, m.created
}

func (m *Memory) restore(reqs map[string]*engine.Request, hist map[string][]engine.HistoryEntry, created int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = reqs
	m.history = hist
	m.created = created
}

// cloneRequest copies the mutable parts so callers never share maps or
// slices with the store.
func cloneRequest(r *engine.Request) engine.Request {
	cp := *r
	cp.ServiceIDs = append([]engine.ServiceID(nil), r.ServiceIDs...)
	cp.OfferingIDs = append([]string(nil), r.OfferingIDs...)
	cp.SelectedActivities = append([]byte(nil), r.SelectedActivities...)
	cp.ServiceOfferingActivities = append([]byte(nil), r.ServiceOfferingActivities...)
	if r.ProjectMeta != nil {
		cp.ProjectMeta = make(map[string]string, len(r.ProjectMeta))
		for k, v := range r.ProjectMeta {
			cp.ProjectMeta[k] = v
		}
	}
	if r.Requirements != nil {
		cp.Requirements = make(map[engine.ServiceID]string, len(r.Requirements))
		for k, v := range r.Requirements {
			cp.Requirements[k] = v
		}
	}
	if r.TimesheetData != nil {
		cp.TimesheetData = make(map[string]bool, len(r.TimesheetData))
		for k, v := range r.TimesheetData {
			cp.TimesheetData[k] = v
		}
	}
	return cp
}
