package vacancies

import (
	"fmt"
	"strings"
)

// NoneAvailable is rendered when there are no vacancies.
const NoneAvailable = "No hay vacantes disponibles en este momento."

const untitled = "Puesto sin especificar"

// Format renders records as numbered plain text. Empty optional fields are omitted.
func Format(records []Record) string {
	if len(records) == 0 {
		return NoneAvailable
	}

	var sb strings.Builder
	sb.WriteString("VACANTES DISPONIBLES:\n\n")
	for i, r := range records {
		title := r.Title
		if title == "" {
			title = untitled
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, title)
		writeField(&sb, "Descripción", r.Description)
		writeField(&sb, "Requisitos", r.Requirements)
		writeField(&sb, "Ubicación", r.Location)
		writeField(&sb, "Salario", r.Salary)
		writeField(&sb, "Horario", r.Schedule)
		writeField(&sb, "Beneficios", r.Benefits)
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeField(sb *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "   %s: %s\n", label, value)
}
