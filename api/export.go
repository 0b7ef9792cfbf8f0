/*
export.go - XLSX timesheet export

PURPOSE:
  Renders a request's day-by-day timesheet plan as a spreadsheet for
  consultants who track their engagement offline. One row per slice,
  grouped by day, with a completion column mirroring the stored flags.

FORMAT:
  excelize (.xlsx). Sheet "Timesheet":
    Day | Sub-Activity | Hours | Part | Completed
  plus a trailing totals row.

SEE ALSO:
  - handlers.go: GetTimesheet, the JSON rendition of the same plan
  - engine/timesheet.go: The distribution algorithm
*/
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const timesheetSheet = "Timesheet"

// ExportTimesheet streams the request's timesheet plan as an XLSX file.
func (h *Handler) ExportTimesheet(w http.ResponseWriter, r *http.Request) {
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

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(timesheetSheet)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create sheet", err)
		return
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDDDDD"}},
	})

	headers := []string{"Day", "Sub-Activity", "Hours", "Part", "Completed"}
	for i, hd := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(timesheetSheet, cell, hd)
	}
	f.SetCellStyle(timesheetSheet, "A1", "E1", headerStyle)
	f.SetColWidth(timesheetSheet, "B", "B", 40)

	row := 2
	total := decimal.Zero
	for i, day := range days {
		for _, a := range day {
			completed := "No"
			if req.TimesheetData[a.UniqueKey] {
				completed = "Yes"
			}
			hours, _ := a.Hours.Float64()
			f.SetCellValue(timesheetSheet, fmt.Sprintf("A%d", row), i+1)
			f.SetCellValue(timesheetSheet, fmt.Sprintf("B%d", row), a.Name)
			f.SetCellValue(timesheetSheet, fmt.Sprintf("C%d", row), hours)
			f.SetCellValue(timesheetSheet, fmt.Sprintf("D%d", row), fmt.Sprintf("%d/%d", a.Part, a.TotalParts))
			f.SetCellValue(timesheetSheet, fmt.Sprintf("E%d", row), completed)
			row++
		}
		total = total.Add(day.Total())
	}

	totalHours, _ := total.Float64()
	f.SetCellValue(timesheetSheet, fmt.Sprintf("B%d", row), "Total")
	f.SetCellValue(timesheetSheet, fmt.Sprintf("C%d", row), totalHours)

	filename := fmt.Sprintf("timesheet-%s.xlsx", req.RequestID)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	if err := f.Write(w); err != nil {
		h.Log.Error("failed to stream timesheet export",
			zap.String("request_id", req.RequestID), zap.Error(err))
	}
}
