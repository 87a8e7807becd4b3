package vacancies

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is one vacancy in canonical form. Only Title is always rendered;
// every other field is optional.
type Record struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Requirements string `json:"requirements,omitempty"`
	Location     string `json:"location,omitempty"`
	Salary       string `json:"salary,omitempty"`
	Schedule     string `json:"schedule,omitempty"`
	Benefits     string `json:"benefits,omitempty"`
}

// fieldAliases maps each canonical field to the upstream key spellings seen
// in the vacancies API. First non-empty match wins.
var fieldAliases = map[string][]string{
	"title":        {"Puesto", "puesto", "title", "Title"},
	"description":  {"descripcion", "Descripcion", "description"},
	"requirements": {"requisitos", "Requisitos", "requirements"},
	"location":     {"Ubicacion", "ubicacion", "location"},
	"salary":       {"Sueldo", "salario", "Salario", "salary"},
	"schedule":     {"Horario", "horario", "schedule"},
	"benefits":     {"beneficios", "Beneficios", "benefits"},
}

// decodeRecords parses an upstream payload into canonical records.
// Accepts a bare JSON array or an object wrapping it under "data" or "vacantes".
func decodeRecords(body []byte) ([]Record, error) {
	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		var wrapped map[string]json.RawMessage
		if werr := json.Unmarshal(body, &wrapped); werr != nil {
			return nil, fmt.Errorf("decode vacancies: %w", err)
		}
		inner, ok := wrapped["data"]
		if !ok {
			inner, ok = wrapped["vacantes"]
		}
		if !ok {
			return nil, fmt.Errorf("decode vacancies: no array in response")
		}
		if err := json.Unmarshal(inner, &raw); err != nil {
			return nil, fmt.Errorf("decode vacancies: %w", err)
		}
	}

	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		records = append(records, normalize(r))
	}
	return records, nil
}

// normalize maps one upstream object onto Record.
func normalize(raw map[string]any) Record {
	return Record{
		Title:        pick(raw, "title"),
		Description:  pick(raw, "description"),
		Requirements: pick(raw, "requirements"),
		Location:     pick(raw, "location"),
		Salary:       pick(raw, "salary"),
		Schedule:     pick(raw, "schedule"),
		Benefits:     pick(raw, "benefits"),
	}
}

func pick(raw map[string]any, field string) string {
	for _, key := range fieldAliases[field] {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				parts = append(parts, fmt.Sprint(p))
			}
			s = strings.Join(parts, ", ")
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
