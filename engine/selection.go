/*
selection.go - Adapter for the heterogeneous selected-activities shapes

PURPOSE:
  Clients have stored activity selections in several shapes over time:

    1. Single-service object:
         {"activities": {id: entry}, "subActivities": {id: entry}}
       where maps may also be arrays of entries carrying an "id" field.
    2. Multi-service array of per-offering objects with the same inner shape.
    3. Flat map keyed directly by activity id: {id: entry}.

  Entries are {selected, name, estimated_hours, isCustom} objects, or in the
  oldest data a bare boolean true for a selected sub-activity.

  All shape sniffing lives here. Everything downstream (estimation,
  timesheet) consumes the canonical []SelectedActivity.

KNOWN LIMITATION:
  A bare boolean sub-activity entry carries no hours, so it contributes 0.
  Hours are indeterminable from that representation; we do not guess.

PRECEDENCE:
  A request may carry both the multi-service form and the single-service
  form describing the same selection. They are alternatives, never additive:
  when the multi-service form yields entries, the single form is ignored.

SEE ALSO:
  - estimation.go: Sums the canonical list
  - timesheet.go: Distributes its sub-activities
*/
package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// selectionEntry is the common shape of one activity/sub-activity record.
// Nested subActivities inside an entry are not a supported shape; clients
// always flatten them into the sibling subActivities group.
type selectionEntry struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Selected       *bool        `json:"selected"`
	EstimatedHours *json.Number `json:"estimated_hours"`
	IsCustom       bool         `json:"isCustom"`
}

// NormalizeRequestSelection resolves a request's stored selection into the
// canonical list, honoring the multi-service precedence rule.
func NormalizeRequestSelection(r *Request) ([]SelectedActivity, error) {
	if len(bytes.TrimSpace(r.ServiceOfferingActivities)) > 0 {
		acts, err := NormalizeSelection(r.ServiceOfferingActivities)
		if err != nil {
			return nil, err
		}
		if len(acts) > 0 {
			return acts, nil
		}
	}
	return NormalizeSelection(r.SelectedActivities)
}

// NormalizeSelection converts any supported raw shape into the canonical
// []SelectedActivity, keeping only selected entries.
func NormalizeSelection(raw []byte) ([]SelectedActivity, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	// Multi-service array form. The same sub-activity id may legally appear
	// under two per-offering objects; repeated ids get the ordinal of their
	// carrying object suffixed so downstream timesheet keys stay unique.
	if raw[0] == '[' {
		var services []json.RawMessage
		if err := json.Unmarshal(raw, &services); err != nil {
			return nil, err
		}
		var out []SelectedActivity
		seen := make(map[string]bool)
		for i, svc := range services {
			acts, err := NormalizeSelection(svc)
			if err != nil {
				return nil, err
			}
			for _, a := range acts {
				for n := i + 1; seen[a.ID]; n++ {
					a.ID = fmt.Sprintf("%s-svc%d", a.ID, n)
				}
				seen[a.ID] = true
				out = append(out, a)
			}
		}
		return out, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}

	// Single-service object form: dedicated activities/subActivities keys.
	actsRaw, hasActs := obj["activities"]
	subsRaw, hasSubs := obj["subActivities"]
	if hasActs || hasSubs {
		var out []SelectedActivity
		if hasActs {
			acts, err := normalizeGroup(actsRaw, false)
			if err != nil {
				return nil, err
			}
			out = append(out, acts...)
		}
		if hasSubs {
			subs, err := normalizeGroup(subsRaw, true)
			if err != nil {
				return nil, err
			}
			out = append(out, subs...)
		}
		return out, nil
	}

	// Flat map keyed by activity id.
	return normalizeMap(obj, false)
}

// normalizeGroup handles one activities/subActivities value, which may be a
// map keyed by id or an array of entries carrying their own ids.
func normalizeGroup(raw json.RawMessage, sub bool) ([]SelectedActivity, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var entries []json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, err
		}
		var out []SelectedActivity
		for _, e := range entries {
			act, ok, err := normalizeEntry("", e, sub)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, act)
			}
		}
		return out, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, err
	}
	return normalizeMap(m, sub)
}

func normalizeMap(m map[string]json.RawMessage, sub bool) ([]SelectedActivity, error) {
	// Deterministic order: sort keys so repeated normalization of the same
	// document yields the same list.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []SelectedActivity
	for _, k := range keys {
		act, ok, err := normalizeEntry(k, m[k], sub)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, act)
		}
	}
	return out, nil
}

// normalizeEntry converts one record. Returns ok=false for unselected entries.
func normalizeEntry(id string, raw json.RawMessage, sub bool) (SelectedActivity, bool, error) {
	trimmed := bytes.TrimSpace(raw)

	// Legacy shape: bare boolean. Selected but hours unknown, contribute 0.
	var flag bool
	if err := json.Unmarshal(trimmed, &flag); err == nil {
		if !flag {
			return SelectedActivity{}, false, nil
		}
		return SelectedActivity{ID: id, IsSubActivity: sub, Hours: decimal.Zero}, true, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var entry selectionEntry
	if err := dec.Decode(&entry); err != nil {
		return SelectedActivity{}, false, err
	}

	// Absent "selected" with hours present counts as selected (legacy default).
	selected := entry.Selected == nil || *entry.Selected
	if !selected {
		return SelectedActivity{}, false, nil
	}

	hours := decimal.Zero
	if entry.EstimatedHours != nil {
		h, err := decimal.NewFromString(entry.EstimatedHours.String())
		if err == nil && h.IsPositive() {
			hours = h
		}
	}

	if entry.ID != "" {
		id = entry.ID
	}

	return SelectedActivity{
		ID:            id,
		Name:          entry.Name,
		Hours:         hours,
		IsSubActivity: sub,
		IsCustom:      entry.IsCustom,
	}, true, nil
}
