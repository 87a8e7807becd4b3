package vacancies

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceNormalizesFieldVariants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"Puesto": "Auxiliar de limpieza", "descripcion": "Turno matutino", "Sueldo": 9500, "Ubicacion": "Monterrey"},
			{"puesto": "Supervisor", "Requisitos": "Experiencia 2 años", "salario": "12,000", "horario": "L-V", "Beneficios": ["IMSS", "vales"]},
			{"Descripcion": "Sin puesto"}
		]`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, "test-agent")
	records, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, Record{
		Title:       "Auxiliar de limpieza",
		Description: "Turno matutino",
		Location:    "Monterrey",
		Salary:      "9500",
	}, records[0])
	assert.Equal(t, Record{
		Title:        "Supervisor",
		Requirements: "Experiencia 2 años",
		Salary:       "12,000",
		Schedule:     "L-V",
		Benefits:     "IMSS, vales",
	}, records[1])
	assert.Equal(t, "", records[2].Title)
	assert.Equal(t, "Sin puesto", records[2].Description)
}

func TestHTTPSourceAcceptsWrappedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"puesto": "Chofer"}]}`))
	}))
	defer srv.Close()

	records, err := NewHTTPSource(srv.URL, "").Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Chofer", records[0].Title)
}

func TestHTTPSourceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, "").Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestFormat(t *testing.T) {
	assert.Equal(t, NoneAvailable, Format(nil))
	assert.Equal(t, NoneAvailable, Format([]Record{}))

	out := Format([]Record{
		{Title: "Auxiliar", Salary: "9500"},
		{Description: "Sin título"},
	})
	want := "VACANTES DISPONIBLES:\n\n" +
		"1. Auxiliar\n" +
		"   Salario: 9500\n" +
		"\n" +
		"2. Puesto sin especificar\n" +
		"   Descripción: Sin título\n" +
		"\n"
	assert.Equal(t, want, out)
	assert.NotContains(t, out, "Requisitos")
}
