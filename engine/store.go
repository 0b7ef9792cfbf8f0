/*
store.go - Persistence interfaces for the engine

PURPOSE:
  Defines the boundary between the workflow engine and the database.
  Implementations exist for SQLite (store/sqlite) and in-memory
  (engine/store) use; the engine never touches SQL itself.

OPTIMISTIC CONCURRENCY:
  UpdateRequest takes the version the caller loaded. Implementations must
  reject the write with ErrConcurrentModification when the stored version
  differs - last-writer-wins without detection is not acceptable for
  status transitions.

ATOMICITY:
  A transition's request update and its history append must be observed
  together. TxStore.WithTx provides all-or-nothing semantics where the
  backend supports transactions.

HISTORY CONTRACT:
  AppendHistory is append-only. No update or delete exists; the audit
  trail is immutable.

SEE ALSO:
  - workflow.go: The only writer of requests and history
  - store/memory.go, store/sqlite: Implementations
*/
package engine

import "context"

// RequestStore persists requests.
type RequestStore interface {
	// GetRequest returns ErrRequestNotFound for missing ids.
	GetRequest(ctx context.Context, id string) (*Request, error)

	// CreateRequest inserts a new request at version 1.
	CreateRequest(ctx context.Context, r *Request) error

	// UpdateRequest writes r if the stored version equals expectedVersion,
	// bumping the version; otherwise returns ErrConcurrentModification.
	UpdateRequest(ctx context.Context, r *Request, expectedVersion int) error

	// ListRequests returns all requests, newest first.
	ListRequests(ctx context.Context) ([]*Request, error)

	// CountRequests returns the total number of requests ever created,
	// used for human-readable request numbering.
	CountRequests(ctx context.Context) (int, error)

	// CountOpenByAssignee counts non-terminal requests per assignee,
	// optionally restricted to the given statuses (nil = all non-terminal).
	CountOpenByAssignee(ctx context.Context, ids []ConsultantID, statuses []Status) (Loads, error)
}

// ConsultantStore provides the assignment candidate pool.
type ConsultantStore interface {
	// ListActiveConsultants returns the active pool in stable order.
	ListActiveConsultants(ctx context.Context) ([]Consultant, error)

	// GetConsultant returns ErrConsultantNotFound for missing ids.
	GetConsultant(ctx context.Context, id ConsultantID) (*Consultant, error)
}

// HistoryStore is the append-only audit trail.
type HistoryStore interface {
	AppendHistory(ctx context.Context, e HistoryEntry) error
	ListHistory(ctx context.Context, requestID string) ([]HistoryEntry, error)
}

// UserDirectory resolves an acting user to a workflow role.
type UserDirectory interface {
	// RoleOf returns the user's role and display title.
	RoleOf(ctx context.Context, id UserID) (Role, string, error)
}

// Store is the full persistence surface the workflow engine needs.
type Store interface {
	RequestStore
	ConsultantStore
	HistoryStore
	UserDirectory
}

// TxStore adds transactional semantics. WithTx executes fn against a
// store view whose writes commit together; any error rolls back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
