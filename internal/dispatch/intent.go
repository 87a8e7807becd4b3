package dispatch

import "strings"

var vacancyKeywords = []string{
	"vacante", "trabajo", "empleo", "puesto", "contratar", "contratación",
	"trabajar", "empleos", "oportunidad", "oportunidades", "busco trabajo",
	"necesito trabajo", "hay trabajo", "están contratando", "requisitos",
	"salario", "sueldo", "horario", "turno", "disponible", "disponibles",
	"plaza", "plazas", "personal", "reclutamiento", "cv", "currículum",
}

// AsksAboutVacancies reports whether text mentions jobs or hiring.
func AsksAboutVacancies(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range vacancyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
