package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "vacancy-bridge dev (unknown)\n", out.String())
}

func TestResetSessionCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "auth")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "creds.json"), []byte("{}"), 0o600))
	t.Setenv("VB_CREDENTIALS_DIR", dir)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"reset-session"})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
