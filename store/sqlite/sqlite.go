/*
Package sqlite provides a SQLite-backed implementation of the engine storage
interfaces.

PURPOSE:
  Implements engine.TxStore using database/sql + go-sqlite3. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  requests:        The central entity; JSON columns for metadata, selection,
                   and the timesheet completion map
  consultants:     The assignment candidate pool
  request_history: Immutable audit trail - INSERT only, no UPDATE/DELETE
  users:           Acting-user role directory

OPTIMISTIC CONCURRENCY:
  requests carries a version column. UpdateRequest matches on
  (id, version) and bumps the version; zero rows affected means a
  concurrent writer won and the caller gets ErrConcurrentModification.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/advisory.db")
  defer st.Close()
  wf := engine.NewWorkflow(st, advisory.DefaultRuleTable(), advisory.DefaultCatalog(), nil)

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/advisory-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	q  querier // s.db outside transactions, *sql.Tx inside
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ engine.TxStore = (*Store)(nil)

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; serialize access at the pool level so
	// concurrent transitions queue instead of returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, q: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	-- Requests (the central entity)
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		service_ids TEXT NOT NULL,
		offering_ids TEXT NOT NULL DEFAULT '[]',
		requestor_id TEXT NOT NULL,
		assignee_id TEXT NOT NULL DEFAULT '',
		assignee_name TEXT NOT NULL DEFAULT '',
		original_assignee_id TEXT NOT NULL DEFAULT '',
		original_assignee_name TEXT NOT NULL DEFAULT '',
		project_meta TEXT NOT NULL DEFAULT '{}',
		requirements TEXT NOT NULL DEFAULT '{}',
		selected_activities TEXT,
		service_offering_activities TEXT,
		timesheet_data TEXT NOT NULL DEFAULT '{}',
		saved_total_hours TEXT NOT NULL DEFAULT '0',
		saved_total_pd TEXT NOT NULL DEFAULT '0',
		saved_total_cost TEXT NOT NULL DEFAULT '0',
		saved_assignee_rate TEXT NOT NULL DEFAULT '0',
		saved_assignee_role TEXT NOT NULL DEFAULT '',
		estimation_saved_at TEXT,
		billability_percentage TEXT NOT NULL DEFAULT '100',
		implementation_start_date TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_assignee
		ON requests(assignee_id, status);

	-- Consultants (assignment candidate pool)
	CREATE TABLE IF NOT EXISTS consultants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		title TEXT NOT NULL,
		service_ids TEXT NOT NULL DEFAULT '[]',
		expertise TEXT NOT NULL DEFAULT '[]',
		hourly_rate TEXT NOT NULL DEFAULT '0',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- History (append-only audit trail, no UPDATE or DELETE ever)
	CREATE TABLE IF NOT EXISTS request_history (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		action TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		performed_by TEXT NOT NULL,
		performed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_request
		ON request_history(request_id, performed_at);

	-- Users (role directory for workflow gating)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REQUEST STORE
// =============================================================================

const requestColumns = `id, request_id, status, service_ids, offering_ids,
	requestor_id, assignee_id, assignee_name, original_assignee_id,
	original_assignee_name, project_meta, requirements, selected_activities,
	service_offering_activities, timesheet_data, saved_total_hours,
	saved_total_pd, saved_total_cost, saved_assignee_rate, saved_assignee_role,
	estimation_saved_at, billability_percentage, implementation_start_date,
	version, created_at, updated_at`

func (s *Store) GetRequest(ctx context.Context, id string) (*engine.Request, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	return r, nil
}

func (s *Store) CreateRequest(ctx context.Context, r *engine.Request) error {
	r.Version = 1
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		requestArgs(r)...)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (s *Store) UpdateRequest(ctx context.Context, r *engine.Request, expectedVersion int) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE requests SET
			status = ?, service_ids = ?, offering_ids = ?,
			assignee_id = ?, assignee_name = ?,
			original_assignee_id = ?, original_assignee_name = ?,
			project_meta = ?, requirements = ?, selected_activities = ?,
			service_offering_activities = ?, timesheet_data = ?,
			saved_total_hours = ?, saved_total_pd = ?, saved_total_cost = ?,
			saved_assignee_rate = ?, saved_assignee_role = ?,
			estimation_saved_at = ?, billability_percentage = ?,
			implementation_start_date = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		r.Status,
		marshalJSON(r.ServiceIDs),
		marshalJSON(r.OfferingIDs),
		r.AssigneeID,
		r.AssigneeName,
		r.OriginalAssigneeID,
		r.OriginalAssigneeName,
		marshalJSON(r.ProjectMeta),
		marshalJSON(r.Requirements),
		nullBytes(r.SelectedActivities),
		nullBytes(r.ServiceOfferingActivities),
		marshalJSON(r.TimesheetData),
		r.SavedTotalHours.String(),
		r.SavedTotalPD.String(),
		r.SavedTotalCost.String(),
		r.SavedAssigneeRate.String(),
		r.SavedAssigneeRole,
		nullTime(r.EstimationSavedAt),
		r.BillabilityPercentage.String(),
		nullTime(r.ImplementationStartDate),
		r.UpdatedAt.UTC().Format(time.RFC3339),
		r.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		// Either the row vanished or the version moved on.
		var exists int
		if err := s.q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM requests WHERE id = ?`, r.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check request existence: %w", err)
		}
		if exists == 0 {
			return engine.ErrRequestNotFound
		}
		return engine.ErrConcurrentModification
	}
	r.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListRequests(ctx context.Context) ([]*engine.Request, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM requests ORDER BY created_at DESC, request_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*engine.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CountRequests(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return n, nil
}

func (s *Store) CountOpenByAssignee(ctx context.Context, ids []engine.ConsultantID, statuses []engine.Status) (engine.Loads, error) {
	loads := engine.Loads{}
	for _, id := range ids {
		loads[id] = 0
	}
	if len(ids) == 0 {
		return loads, nil
	}

	terminal := []engine.Status{engine.StatusImplemented, engine.StatusCancelled, engine.StatusReject}

	var sb strings.Builder
	args := make([]any, 0, len(ids)+len(statuses)+len(terminal))
	sb.WriteString(`SELECT assignee_id, COUNT(*) FROM requests WHERE assignee_id IN (`)
	sb.WriteString(placeholders(len(ids)))
	sb.WriteString(`) AND status NOT IN (`)
	sb.WriteString(placeholders(len(terminal)))
	sb.WriteString(`)`)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, st := range terminal {
		args = append(args, st)
	}
	if len(statuses) > 0 {
		sb.WriteString(` AND status IN (`)
		sb.WriteString(placeholders(len(statuses)))
		sb.WriteString(`)`)
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	sb.WriteString(` GROUP BY assignee_id`)

	rows, err := s.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count open requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id engine.ConsultantID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan load count: %w", err)
		}
		loads[id] = n
	}
	return loads, rows.Err()
}

// =============================================================================
// CONSULTANT STORE
// =============================================================================

func (s *Store) SaveConsultant(ctx context.Context, c engine.Consultant) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO consultants (id, name, title, service_ids, expertise, hourly_rate, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, title = excluded.title,
			service_ids = excluded.service_ids, expertise = excluded.expertise,
			hourly_rate = excluded.hourly_rate, active = excluded.active`,
		c.ID, c.Name, c.Title,
		marshalJSON(c.ServiceIDs), marshalJSON(c.Expertise),
		c.HourlyRate.String(), c.Active,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save consultant: %w", err)
	}
	return nil
}

func (s *Store) ListActiveConsultants(ctx context.Context) ([]engine.Consultant, error) {
	return s.listConsultants(ctx, `WHERE active`)
}

// ListConsultants returns the whole pool including inactive members,
// for the admin surface.
func (s *Store) ListConsultants(ctx context.Context) ([]engine.Consultant, error) {
	return s.listConsultants(ctx, ``)
}

func (s *Store) listConsultants(ctx context.Context, where string) ([]engine.Consultant, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, title, service_ids, expertise, hourly_rate, active
		FROM consultants `+where+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list consultants: %w", err)
	}
	defer rows.Close()

	var out []engine.Consultant
	for rows.Next() {
		c, err := scanConsultant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetConsultant(ctx context.Context, id engine.ConsultantID) (*engine.Consultant, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, title, service_ids, expertise, hourly_rate, active
		FROM consultants WHERE id = ?`, id)
	c, err := scanConsultant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrConsultantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// =============================================================================
// USER DIRECTORY
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, id engine.UserID, role engine.Role, title string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, role, title) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET role = excluded.role, title = excluded.title`,
		id, role, title)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) RoleOf(ctx context.Context, id engine.UserID) (engine.Role, string, error) {
	var role engine.Role
	var title string
	err := s.q.QueryRowContext(ctx,
		`SELECT role, title FROM users WHERE id = ?`, id).Scan(&role, &title)
	if errors.Is(err, sql.ErrNoRows) {
		// Unknown users are standard users; the directory only tracks
		// elevated roles.
		return engine.RoleStandardUser, "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve user role: %w", err)
	}
	return role, title, nil
}

// =============================================================================
// HISTORY STORE
// =============================================================================

func (s *Store) AppendHistory(ctx context.Context, e engine.HistoryEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO request_history (id, request_id, action, old_value, new_value, performed_by, performed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.Action, e.OldValue, e.NewValue, e.PerformedBy,
		e.PerformedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *Store) ListHistory(ctx context.Context, requestID string) ([]engine.HistoryEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, request_id, action, old_value, new_value, performed_by, performed_at
		FROM request_history WHERE request_id = ? ORDER BY performed_at, id`,
		requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var out []engine.HistoryEntry
	for rows.Next() {
		var e engine.HistoryEntry
		var at string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Action, &e.OldValue, &e.NewValue, &e.PerformedBy, &at); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.PerformedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a store view bound to one SQL transaction.
// fn's error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txStore := &Store{db: s.db, q: tx}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed (%v) after: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// SCAN / MARSHAL HELPERS
// =============================================================================

type rowScanner interface{ Scan(dest ...any) error }

func scanRequest(row rowScanner) (*engine.Request, error) {
	var (
		r                                 engine.Request
		serviceIDs, offeringIDs           string
		projectMeta, requirements         string
		selectedActs, offeringActs        sql.NullString
		timesheet                         string
		hours, pd, cost, rate             string
		estSavedAt, implStart             sql.NullString
		billability, createdAt, updatedAt string
	)
	err := row.Scan(
		&r.ID, &r.RequestID, &r.Status, &serviceIDs, &offeringIDs,
		&r.RequestorID, &r.AssigneeID, &r.AssigneeName, &r.OriginalAssigneeID,
		&r.OriginalAssigneeName, &projectMeta, &requirements, &selectedActs,
		&offeringActs, &timesheet, &hours, &pd, &cost, &rate,
		&r.SavedAssigneeRole, &estSavedAt, &billability, &implStart,
		&r.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	unmarshalJSON(serviceIDs, &r.ServiceIDs)
	unmarshalJSON(offeringIDs, &r.OfferingIDs)
	unmarshalJSON(projectMeta, &r.ProjectMeta)
	unmarshalJSON(requirements, &r.Requirements)
	unmarshalJSON(timesheet, &r.TimesheetData)
	if selectedActs.Valid {
		r.SelectedActivities = []byte(selectedActs.String)
	}
	if offeringActs.Valid {
		r.ServiceOfferingActivities = []byte(offeringActs.String)
	}
	r.SavedTotalHours = mustDecimal(hours)
	r.SavedTotalPD = mustDecimal(pd)
	r.SavedTotalCost = mustDecimal(cost)
	r.SavedAssigneeRate = mustDecimal(rate)
	r.BillabilityPercentage = mustDecimal(billability)
	r.EstimationSavedAt = parseNullTime(estSavedAt)
	r.ImplementationStartDate = parseNullTime(implStart)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

func scanConsultant(row rowScanner) (engine.Consultant, error) {
	var (
		c                           engine.Consultant
		serviceIDs, expertise, rate string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Title, &serviceIDs, &expertise, &rate, &c.Active); err != nil {
		return engine.Consultant{}, err
	}
	unmarshalJSON(serviceIDs, &c.ServiceIDs)
	unmarshalJSON(expertise, &c.Expertise)
	c.HourlyRate = mustDecimal(rate)
	return c, nil
}

func requestArgs(r *engine.Request) []any {
	return []any{
		r.ID, r.RequestID, r.Status,
		marshalJSON(r.ServiceIDs), marshalJSON(r.OfferingIDs),
		r.RequestorID, r.AssigneeID, r.AssigneeName,
		r.OriginalAssigneeID, r.OriginalAssigneeName,
		marshalJSON(r.ProjectMeta), marshalJSON(r.Requirements),
		nullBytes(r.SelectedActivities), nullBytes(r.ServiceOfferingActivities),
		marshalJSON(r.TimesheetData),
		r.SavedTotalHours.String(), r.SavedTotalPD.String(),
		r.SavedTotalCost.String(), r.SavedAssigneeRate.String(),
		r.SavedAssigneeRole,
		nullTime(r.EstimationSavedAt),
		r.BillabilityPercentage.String(),
		nullTime(r.ImplementationStartDate),
		r.Version,
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshalJSON(s string, v any) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), v)
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
