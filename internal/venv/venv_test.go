package venv

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentPaths_POSIX(t *testing.T) {
	env := Environment{Dir: "/workspace/venv", Layout: LayoutPOSIX}

	assert.Equal(t, "/workspace/venv/bin", env.BinDir())
	assert.Equal(t, "/workspace/venv/bin/python", env.Python())
	assert.Equal(t, "/workspace/venv/bin/pip", env.Pip())
}

func TestEnvironmentPaths_Windows(t *testing.T) {
	env := Environment{Dir: "venv", Layout: LayoutWindows}

	assert.Equal(t, filepath.Join("venv", "Scripts"), env.BinDir())
	assert.Equal(t, filepath.Join("venv", "Scripts", "python.exe"), env.Python())
}

func TestEnv(t *testing.T) {
	env := Environment{Dir: "/workspace/venv", Layout: LayoutPOSIX}

	got := env.Env("/usr/local/bin:/usr/bin")
	assert.Equal(t, "/workspace/venv", got["VIRTUAL_ENV"])
	assert.Equal(t, "/workspace/venv/bin:/usr/local/bin:/usr/bin", got["PATH"])

	assert.Equal(t, "/workspace/venv/bin", env.Env("")["PATH"])
}

func TestExistsAndRemove(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink layout test is POSIX-only")
	}

	dir := filepath.Join(t.TempDir(), "venv")
	env := New(dir)
	assert.False(t, env.Exists())

	require.NoError(t, os.MkdirAll(env.BinDir(), 0o755))
	// A dangling symlink still counts: the base interpreter may live in a
	// container image rather than on the host.
	require.NoError(t, os.Symlink("/nonexistent/python3.11", env.Python()))
	assert.True(t, env.Exists())

	require.NoError(t, env.Remove())
	assert.False(t, env.Exists())
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// Removing a missing venv is not an error.
	require.NoError(t, env.Remove())
}
