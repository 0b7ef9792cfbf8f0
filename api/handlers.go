/*
handlers.go - HTTP API handlers for the advisory request system

PURPOSE:
  Exposes the workflow engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Requests:
    POST   /api/requests                    Submit (one request per service)
    GET    /api/requests                    List, filterable by status/assignee
    GET    /api/requests/{id}               Get one request
    GET    /api/requests/{id}/history       Audit trail
    GET    /api/requests/{id}/transitions   Edges available to the caller
    POST   /api/requests/{id}/transition    Move along one edge
    POST   /api/requests/{id}/reassign      Manual assignee override
    PUT    /api/requests/{id}/selection     Replace activity selection
    GET    /api/requests/{id}/estimation    Hours/PD/cost summary
    GET    /api/requests/{id}/timesheet     Day-by-day plan
    POST   /api/requests/{id}/timesheet/completion  Flip one flag
    GET    /api/requests/{id}/timesheet/export      XLSX download

  Catalog:
    GET    /api/catalog                     Services, offerings, activities

  Admin:
    GET    /api/consultants                 Full pool
    POST   /api/consultants                 Upsert a consultant
    POST   /api/admin/users                 Register a user role

  Insights:
    GET    /api/insights/status-summary     Per-status rollup

ACTING USER:
  The caller identifies via the X-User-Id header. There is no
  authentication layer; role resolution happens against the user
  directory and the engine enforces the role gates.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid transition, invalid input
  - 403: Role gate not satisfied
  - 404: Request or consultant not found
  - 409: Concurrent modification (client should reload and retry)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - export.go: XLSX timesheet export
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/advisory-engine/advisory"
	"github.com/warp/advisory-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the handlers need from persistence beyond the engine's own
// interfaces: the admin surface for consultants and users.
type Store interface {
	engine.TxStore
	ListConsultants(ctx context.Context) ([]engine.Consultant, error)
	SaveConsultant(ctx context.Context, c engine.Consultant) error
	SaveUser(ctx context.Context, id engine.UserID, role engine.Role, title string) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Workflow *engine.Workflow
	Rules    *engine.RuleTable
	Catalog  *advisory.Catalog
	Log      *zap.Logger
}

// NewHandler creates a new handler. A nil logger defaults to no-op.
func NewHandler(store Store, wf *engine.Workflow, rules *engine.RuleTable, catalog *advisory.Catalog, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Store: store, Workflow: wf, Rules: rules, Catalog: catalog, Log: log}
}

func actingUser(r *http.Request) engine.UserID {
	return engine.UserID(r.Header.Get("X-User-Id"))
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequests creates one request per selected advisory service.
func (h *Handler) SubmitRequests(w http.ResponseWriter, r *http.Request) {
	var body SubmitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	billability := decimal.NewFromInt(100)
	if body.BillabilityPercentage != "" {
		var err error
		billability, err = decimal.NewFromString(body.BillabilityPercentage)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid billability percentage", err)
			return
		}
	}

	services := make([]engine.ServiceID, len(body.ServiceIDs))
	for i, s := range body.ServiceIDs {
		services[i] = engine.ServiceID(s)
	}
	requirements := make(map[engine.ServiceID]string, len(body.Requirements))
	for k, v := range body.Requirements {
		requirements[engine.ServiceID(k)] = v
	}

	created, err := h.Workflow.SubmitRequests(r.Context(), engine.Submission{
		RequestorID:           actingUser(r),
		ServiceIDs:            services,
		OfferingIDs:           body.OfferingIDs,
		ProjectMeta:           body.ProjectMeta,
		Requirements:          requirements,
		SelectedActivities:    body.SelectedActivities,
		BillabilityPercentage: billability,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to submit requests", err)
		return
	}

	h.Log.Info("requests submitted",
		zap.Int("count", len(created)),
		zap.String("requestor", string(actingUser(r))))

	dtos := make([]RequestDTO, len(created))
	for i, req := range created {
		dtos[i] = toRequestDTO(req)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// ListRequests returns all requests, optionally filtered by status or
// assignee via query parameters.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Store.ListRequests(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list requests", err)
		return
	}

	status := r.URL.Query().Get("status")
	assignee := r.URL.Query().Get("assignee_id")

	dtos := []RequestDTO{}
	for _, req := range requests {
		if status != "" && string(req.Status) != status {
			continue
		}
		if assignee != "" && string(req.AssigneeID) != assignee {
			continue
		}
		dtos = append(dtos, toRequestDTO(req))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRequest returns a single request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Store.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to get request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// GetHistory returns the audit trail of a request.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Store.GetRequest(r.Context(), id); err != nil {
		h.writeEngineError(w, "Failed to get request", err)
		return
	}

	entries, err := h.Store.ListHistory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}

	dtos := make([]HistoryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = HistoryDTO{
			Action:      e.Action,
			OldValue:    e.OldValue,
			NewValue:    e.NewValue,
			PerformedBy: string(e.PerformedBy),
			PerformedAt: e.PerformedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListTransitions returns the edges leaving the request's current status,
// flagged with whether the calling user's role can take them.
func (h *Handler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	req, err := h.Store.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to get request", err)
		return
	}

	role, _, err := h.Store.RoleOf(r.Context(), actingUser(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve role", err)
		return
	}

	options := []TransitionOptionDTO{}
	for _, rule := range h.Rules.OutgoingFrom(req.Status) {
		options = append(options, TransitionOptionDTO{
			To:           string(rule.To),
			RequiredRole: string(rule.Role),
			Allowed:      role.Satisfies(rule.Role),
		})
	}
	writeJSON(w, http.StatusOK, options)
}

// Transition moves a request along one edge of the status graph.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var body TransitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.To == "" {
		writeError(w, http.StatusBadRequest, "Missing target status", nil)
		return
	}

	req, err := h.Workflow.Transition(r.Context(), chi.URLParam(r, "id"), engine.Status(body.To), actingUser(r))
	if err != nil {
		h.writeEngineError(w, "Transition failed", err)
		return
	}

	h.Log.Info("request transitioned",
		zap.String("request_id", req.RequestID),
		zap.String("to", body.To))
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// Reassign overrides the assignee. Admin and service head only.
func (h *Handler) Reassign(w http.ResponseWriter, r *http.Request) {
	var body ReassignBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req, err := h.Workflow.Reassign(r.Context(), chi.URLParam(r, "id"), engine.ConsultantID(body.AssigneeID), actingUser(r))
	if err != nil {
		h.writeEngineError(w, "Reassignment failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// SaveSelection replaces the activity selection and billability.
func (h *Handler) SaveSelection(w http.ResponseWriter, r *http.Request) {
	var body SelectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	billability := decimal.Zero // zero means "leave unchanged"
	if body.BillabilityPercentage != "" {
		var err error
		billability, err = decimal.NewFromString(body.BillabilityPercentage)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid billability percentage", err)
			return
		}
	}

	req, err := h.Workflow.SaveSelection(r.Context(), chi.URLParam(r, "id"),
		body.SelectedActivities, body.OfferingActivities, billability, actingUser(r))
	if err != nil {
		h.writeEngineError(w, "Failed to save selection", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// =============================================================================
// ESTIMATION
// =============================================================================

// GetEstimation returns the hours/PD/cost summary. Frozen requests serve
// the saved snapshot; live requests recompute from the current selection
// and the current assignee's rate.
func (h *Handler) GetEstimation(w http.ResponseWriter, r *http.Request) {
	req, err := h.Store.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to get request", err)
		return
	}

	rate := decimal.Zero
	role := h.Rules.ResponsibleRole(req.Status)
	if req.AssigneeID != "" {
		c, err := h.Store.GetConsultant(r.Context(), req.AssigneeID)
		if err != nil && !errors.Is(err, engine.ErrConsultantNotFound) {
			writeError(w, http.StatusInternalServerError, "Failed to load assignee", err)
			return
		}
		if c != nil {
			rate = c.HourlyRate
			role = c.Title
		}
	}

	est, err := engine.EstimationFor(req, rate, role)
	if err != nil {
		h.writeEngineError(w, "Failed to compute estimation", err)
		return
	}

	dto := EstimationDTO{
		TotalHours:   est.Hours.String(),
		TotalPD:      est.PD.String(),
		TotalCost:    est.Cost.String(),
		AssigneeRate: est.Rate.String(),
		AssigneeRole: string(est.Role),
		Frozen:       est.Frozen,
	}
	if req.EstimationSavedAt != nil {
		dto.FrozenAt = req.EstimationSavedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// TIMESHEET
// =============================================================================

// GetTimesheet returns the day-by-day plan derived from the request's
// sub-activity selection, merged with the stored completion flags.
func (h *Handler) GetTimesheet(w http.ResponseWriter, r *http.Request) {
	req, err := h.Store.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to get request", err)
		return
	}

	days, err := h.timesheetDays(req)
	if err != nil {
		h.writeEngineError(w, "Failed to build timesheet", err)
		return
	}

	dto := TimesheetDTO{
		Days:                  []DayDTO{},
		BillabilityPercentage: req.BillabilityPercentage.String(),
	}
	total := decimal.Zero
	for i, day := range days {
		d := DayDTO{Day: i + 1, TotalHours: day.Total().String()}
		for _, a := range day {
			dto.TotalSlices++
			completed := req.TimesheetData[a.UniqueKey]
			if completed {
				dto.CompletedSlices++
			}
			d.Activities = append(d.Activities, DayActivityDTO{
				SubActivityID: a.SubActivityID,
				Name:          a.Name,
				Hours:         a.Hours.String(),
				Part:          a.Part,
				TotalParts:    a.TotalParts,
				UniqueKey:     a.UniqueKey,
				Completed:     completed,
			})
		}
		total = total.Add(day.Total())
		dto.Days = append(dto.Days, d)
	}
	dto.TotalHours = total.String()
	writeJSON(w, http.StatusOK, dto)
}

// UpdateCompletion flips one timesheet completion flag.
func (h *Handler) UpdateCompletion(w http.ResponseWriter, r *http.Request) {
	var body CompletionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.UniqueKey == "" {
		writeError(w, http.StatusBadRequest, "Missing unique_key", nil)
		return
	}

	err := h.Workflow.UpdateTimesheetCompletion(r.Context(), chi.URLParam(r, "id"),
		body.UniqueKey, body.Completed, actingUser(r))
	if err != nil {
		h.writeEngineError(w, "Failed to update completion", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) timesheetDays(req *engine.Request) ([]engine.Day, error) {
	selection, err := engine.NormalizeRequestSelection(req)
	if err != nil {
		return nil, err
	}
	return engine.Distribute(engine.SubActivitiesOf(selection), req.BillabilityPercentage)
}

// =============================================================================
// CATALOG
// =============================================================================

// GetCatalog returns the advisory service catalog.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Catalog)
}

// =============================================================================
// ADMIN
// =============================================================================

// ListConsultants returns the whole pool, including inactive members.
func (h *Handler) ListConsultants(w http.ResponseWriter, r *http.Request) {
	pool, err := h.Store.ListConsultants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list consultants", err)
		return
	}
	dtos := make([]ConsultantDTO, len(pool))
	for i, c := range pool {
		dtos[i] = toConsultantDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveConsultant creates or updates a consultant. Admin only.
func (h *Handler) SaveConsultant(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body ConsultantBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ID == "" || body.Name == "" {
		writeError(w, http.StatusBadRequest, "Consultant id and name are required", nil)
		return
	}

	rate := decimal.Zero
	if body.HourlyRate != "" {
		var err error
		rate, err = decimal.NewFromString(body.HourlyRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid hourly rate", err)
			return
		}
	}

	services := make([]engine.ServiceID, len(body.ServiceIDs))
	for i, s := range body.ServiceIDs {
		services[i] = engine.ServiceID(s)
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}

	c := engine.Consultant{
		ID:         engine.ConsultantID(body.ID),
		Name:       body.Name,
		Title:      engine.Role(body.Title),
		ServiceIDs: services,
		Expertise:  body.Expertise,
		HourlyRate: rate,
		Active:     active,
	}
	if err := h.Store.SaveConsultant(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save consultant", err)
		return
	}
	writeJSON(w, http.StatusOK, toConsultantDTO(c))
}

// SaveUser registers a user's role. Admin only.
func (h *Handler) SaveUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body UserBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ID == "" || body.Role == "" {
		writeError(w, http.StatusBadRequest, "User id and role are required", nil)
		return
	}

	if err := h.Store.SaveUser(r.Context(), engine.UserID(body.ID), engine.Role(body.Role), body.Title); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	role, _, err := h.Store.RoleOf(r.Context(), actingUser(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve role", err)
		return false
	}
	if role != engine.RoleAdmin {
		writeError(w, http.StatusForbidden, "Admin role required", nil)
		return false
	}
	return true
}

// =============================================================================
// INSIGHTS
// =============================================================================

// StatusSummary returns the per-status request count rollup.
func (h *Handler) StatusSummary(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Store.ListRequests(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list requests", err)
		return
	}

	summary := StatusSummaryDTO{ByStatus: map[string]int{}}
	for _, req := range requests {
		summary.Total++
		summary.ByStatus[string(req.Status)]++
		if !req.Status.IsTerminal() {
			summary.Open++
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, engine.ErrForbidden):
		writeError(w, http.StatusForbidden, message, err)
	case errors.Is(err, engine.ErrConcurrentModification):
		writeError(w, http.StatusConflict, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Log.Error("internal error", zap.String("message", message), zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
