package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FileCoreWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inkwell.log")

	log := New(Options{FilePath: path, Quiet: true})
	log.Named("gateway").Info("fallback write")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"message":"fallback write"`), line)
	assert.True(t, strings.Contains(line, `"logger":"gateway"`), line)
	assert.True(t, strings.Contains(line, `"level":"INFO"`), line)
}

func TestNew_NoCoresIsNop(t *testing.T) {
	log := New(Options{Quiet: true})
	// Nop loggers accept writes without panicking.
	log.Info("dropped")
	assert.NotNil(t, log)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := New(Options{Quiet: true})
	assert.Same(t, l, OrNop(l))
}
