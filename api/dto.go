/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Body: Request body types from clients

TYPES:
  Requests:
    RequestDTO, SubmitBody, TransitionBody, ReassignBody, SelectionBody

  Estimation:
    EstimationDTO

  Timesheet:
    TimesheetDTO, DayDTO, DayActivityDTO, CompletionBody

  Admin:
    ConsultantDTO, ConsultantBody, UserBody

  Insights:
    StatusSummaryDTO

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: The domain model these project
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/advisory-engine/engine"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RequestDTO represents an advisory request in API responses.
type RequestDTO struct {
	ID                      string            `json:"id"`
	RequestID               string            `json:"request_id"`
	Status                  string            `json:"status"`
	ServiceIDs              []string          `json:"service_ids"`
	OfferingIDs             []string          `json:"offering_ids,omitempty"`
	RequestorID             string            `json:"requestor_id"`
	AssigneeID              string            `json:"assignee_id,omitempty"`
	AssigneeName            string            `json:"assignee_name,omitempty"`
	OriginalAssigneeID      string            `json:"original_assignee_id,omitempty"`
	OriginalAssigneeName    string            `json:"original_assignee_name,omitempty"`
	ProjectMeta             map[string]string `json:"project_meta,omitempty"`
	Requirements            map[string]string `json:"requirements,omitempty"`
	SelectedActivities      json.RawMessage   `json:"selected_activities,omitempty"`
	OfferingActivities      json.RawMessage   `json:"service_offering_activities,omitempty"`
	BillabilityPercentage   string            `json:"billability_percentage"`
	EstimationFrozen        bool              `json:"estimation_frozen"`
	ImplementationStartDate *string           `json:"implementation_start_date,omitempty"`
	Version                 int               `json:"version"`
	CreatedAt               string            `json:"created_at"`
	UpdatedAt               string            `json:"updated_at"`
}

func toRequestDTO(r *engine.Request) RequestDTO {
	services := make([]string, len(r.ServiceIDs))
	for i, s := range r.ServiceIDs {
		services[i] = string(s)
	}
	requirements := make(map[string]string, len(r.Requirements))
	for k, v := range r.Requirements {
		requirements[string(k)] = v
	}
	dto := RequestDTO{
		ID:                    r.ID,
		RequestID:             r.RequestID,
		Status:                string(r.Status),
		ServiceIDs:            services,
		OfferingIDs:           r.OfferingIDs,
		RequestorID:           string(r.RequestorID),
		AssigneeID:            string(r.AssigneeID),
		AssigneeName:          r.AssigneeName,
		OriginalAssigneeID:    string(r.OriginalAssigneeID),
		OriginalAssigneeName:  r.OriginalAssigneeName,
		ProjectMeta:           r.ProjectMeta,
		Requirements:          requirements,
		SelectedActivities:    json.RawMessage(r.SelectedActivities),
		OfferingActivities:    json.RawMessage(r.ServiceOfferingActivities),
		BillabilityPercentage: r.BillabilityPercentage.String(),
		EstimationFrozen:      r.Frozen(),
		Version:               r.Version,
		CreatedAt:             r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             r.UpdatedAt.Format(time.RFC3339),
	}
	if r.ImplementationStartDate != nil {
		d := r.ImplementationStartDate.Format("2006-01-02")
		dto.ImplementationStartDate = &d
	}
	return dto
}

// SubmitBody is the request to create one or more advisory requests.
// One request is created per entry in service_ids.
type SubmitBody struct {
	ServiceIDs            []string          `json:"service_ids"`
	OfferingIDs           []string          `json:"offering_ids"`
	ProjectMeta           map[string]string `json:"project_meta"`
	Requirements          map[string]string `json:"requirements"`
	SelectedActivities    json.RawMessage   `json:"selected_activities"`
	BillabilityPercentage string            `json:"billability_percentage"`
}

// TransitionBody asks for one status change.
type TransitionBody struct {
	To string `json:"to"`
}

// ReassignBody overrides the current assignee.
type ReassignBody struct {
	AssigneeID string `json:"assignee_id"`
}

// SelectionBody replaces the activity selection on a request. Both fields
// accept any of the historical selection shapes; the engine normalizes.
type SelectionBody struct {
	SelectedActivities    json.RawMessage `json:"selected_activities"`
	OfferingActivities    json.RawMessage `json:"service_offering_activities"`
	BillabilityPercentage string          `json:"billability_percentage"`
}

// TransitionOptionDTO is one edge available from the current status.
type TransitionOptionDTO struct {
	To           string `json:"to"`
	RequiredRole string `json:"required_role"`
	Allowed      bool   `json:"allowed"`
}

// HistoryDTO is one audit trail entry.
type HistoryDTO struct {
	Action      string `json:"action"`
	OldValue    string `json:"old_value,omitempty"`
	NewValue    string `json:"new_value,omitempty"`
	PerformedBy string `json:"performed_by"`
	PerformedAt string `json:"performed_at"`
}

// =============================================================================
// ESTIMATION & TIMESHEET TYPES
// =============================================================================

// EstimationDTO is the hours/PD/cost summary for a request.
type EstimationDTO struct {
	TotalHours   string `json:"total_hours"`
	TotalPD      string `json:"total_pd"`
	TotalCost    string `json:"total_cost"`
	AssigneeRate string `json:"assignee_rate"`
	AssigneeRole string `json:"assignee_role"`
	Frozen       bool   `json:"frozen"`
	FrozenAt     string `json:"frozen_at,omitempty"`
}

// DayActivityDTO is one timesheet slice.
type DayActivityDTO struct {
	SubActivityID string `json:"sub_activity_id"`
	Name          string `json:"name"`
	Hours         string `json:"hours"`
	Part          int    `json:"part"`
	TotalParts    int    `json:"total_parts"`
	UniqueKey     string `json:"unique_key"`
	Completed     bool   `json:"completed"`
}

// DayDTO is one planned work day.
type DayDTO struct {
	Day        int              `json:"day"`
	Activities []DayActivityDTO `json:"activities"`
	TotalHours string           `json:"total_hours"`
}

// TimesheetDTO is the full day-by-day plan for a request.
type TimesheetDTO struct {
	Days                  []DayDTO `json:"days"`
	TotalHours            string   `json:"total_hours"`
	BillabilityPercentage string   `json:"billability_percentage"`
	CompletedSlices       int      `json:"completed_slices"`
	TotalSlices           int      `json:"total_slices"`
}

// CompletionBody flips one timesheet completion flag.
type CompletionBody struct {
	UniqueKey string `json:"unique_key"`
	Completed bool   `json:"completed"`
}

// =============================================================================
// ADMIN TYPES
// =============================================================================

// ConsultantDTO represents a consultant in API responses.
type ConsultantDTO struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	ServiceIDs []string `json:"service_ids"`
	Expertise  []string `json:"expertise"`
	HourlyRate string   `json:"hourly_rate"`
	Active     bool     `json:"active"`
}

func toConsultantDTO(c engine.Consultant) ConsultantDTO {
	services := make([]string, len(c.ServiceIDs))
	for i, s := range c.ServiceIDs {
		services[i] = string(s)
	}
	return ConsultantDTO{
		ID:         string(c.ID),
		Name:       c.Name,
		Title:      string(c.Title),
		ServiceIDs: services,
		Expertise:  c.Expertise,
		HourlyRate: c.HourlyRate.String(),
		Active:     c.Active,
	}
}

// ConsultantBody creates or updates a consultant.
type ConsultantBody struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	ServiceIDs []string `json:"service_ids"`
	Expertise  []string `json:"expertise"`
	HourlyRate string   `json:"hourly_rate"`
	Active     *bool    `json:"active"`
}

// UserBody registers a user's role in the directory.
type UserBody struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Title string `json:"title"`
}

// =============================================================================
// INSIGHTS
// =============================================================================

// StatusSummaryDTO is the per-status request count rollup.
type StatusSummaryDTO struct {
	Total    int            `json:"total"`
	Open     int            `json:"open"`
	ByStatus map[string]int `json:"by_status"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
