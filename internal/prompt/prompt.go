// Package prompt loads the assistant's prompt profile: the base system
// prompt, the wording around the vacancy data, the support marker and the
// apology texts sent when a reply cannot be generated.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SupportMarker is the token the model emits to hand the user to support.
const SupportMarker = "{{ACTIVAR_SOPORTE}}"

// Profile holds every user-facing text the bridge sends or feeds the model.
type Profile struct {
	SystemPrompt    string `yaml:"system_prompt"`
	DataHeader      string `yaml:"data_header"`
	DataInstruction string `yaml:"data_instruction"`
	SupportMarker   string `yaml:"support_marker"`
	Apology         string `yaml:"apology"`
	ConfigApology   string `yaml:"config_apology"`
}

const defaultSystemPrompt = `Eres el asistente virtual de reclutamiento de la empresa. Atiendes por WhatsApp a candidatos interesados en nuestras vacantes.

- Responde siempre en español, con un tono amable, breve y profesional.
- Informa sobre vacantes, requisitos, ubicación, salario, horario y beneficios.
- Si el candidato quiere postularse, pídele su nombre completo y la vacante de su interés.
- No compartas datos personales de otros candidatos.
- Si el candidato pide hablar con una persona, tiene un problema que no puedes resolver o muestra molestia, responde que un asesor lo atenderá en breve e incluye exactamente el texto ` + SupportMarker + ` al final de tu respuesta.`

// Default returns the built-in profile.
func Default() Profile {
	return Profile{
		SystemPrompt:    defaultSystemPrompt,
		DataHeader:      "[INFORMACIÓN ACTUALIZADA DE VACANTES]",
		DataInstruction: "IMPORTANTE: Usa ÚNICAMENTE la información de vacantes proporcionada arriba. NO inventes puestos, salarios o requisitos. Si no hay vacantes disponibles o si la información solicitada no está en los datos proporcionados, indícalo claramente al candidato.",
		SupportMarker:   SupportMarker,
		Apology:         "Lo siento, ocurrió un error. Inténtalo de nuevo.",
		ConfigApology:   "Error de configuración del bot. Por favor, contacta al administrador.",
	}
}

// Load reads a YAML profile from path. Fields missing from the file keep
// their defaults. An empty path returns Default().
func Load(path string) (Profile, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read prompt profile: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Profile{}, fmt.Errorf("parse prompt profile %s: %w", path, err)
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return Profile{}, fmt.Errorf("prompt profile %s: system_prompt is empty", path)
	}
	if strings.TrimSpace(p.SupportMarker) == "" {
		p.SupportMarker = SupportMarker
	}
	return p, nil
}

// System renders the system prompt with the enrichment data appended.
func (p Profile) System(data string) string {
	var b strings.Builder
	b.WriteString(p.SystemPrompt)
	b.WriteString("\n\n")
	b.WriteString(p.DataHeader)
	b.WriteString("\n")
	b.WriteString(data)
	if p.DataInstruction != "" {
		b.WriteString("\n\n")
		b.WriteString(p.DataInstruction)
	}
	return b.String()
}
