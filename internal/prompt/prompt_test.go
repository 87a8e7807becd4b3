package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
	assert.Contains(t, p.SystemPrompt, SupportMarker)
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system_prompt: |\n  Eres un asistente.\napology: Perdón.\n"), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Eres un asistente.\n", p.SystemPrompt)
	assert.Equal(t, "Perdón.", p.Apology)
	assert.Equal(t, Default().ConfigApology, p.ConfigApology)
	assert.Equal(t, SupportMarker, p.SupportMarker)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sistem_prompt: typo\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSystem(t *testing.T) {
	p := Profile{SystemPrompt: "BASE", DataHeader: "[DATA]", DataInstruction: "ONLY DATA"}
	got := p.System("1. Cajero")
	assert.Equal(t, "BASE\n\n[DATA]\n1. Cajero\n\nONLY DATA", got)

	p.DataInstruction = ""
	assert.False(t, strings.HasSuffix(p.System("x"), "\n"))
}
