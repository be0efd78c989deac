package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/modhost/internal/testmodules"
)

func TestListEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"list", "--root", dir})
	require.NoError(t, cmd.Execute())
	assert.Empty(t, out.String())
}

func TestListMissingConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"list", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, cmd.Execute())
}

func TestFormatDependencies(t *testing.T) {
	counter := testmodules.NewCounter()
	defer counter.Close()
	dependent := testmodules.NewDependent()
	defer dependent.Close()

	assert.Equal(t, "-", formatDependencies(counter))
	assert.Equal(t, "TestModule 0.1.0(unresolved)", formatDependencies(dependent))
}
