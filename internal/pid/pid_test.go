package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/apify/crawlee-sub000/internal/errors"
	"github.com/apify/crawlee-sub000/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathPrefersRuntimeDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	assert.Equal(t, filepath.Join(dir, "autoscalerd.pid"), pid.Path())

	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Equal(t, filepath.Join(os.TempDir(), "autoscalerd.pid"), pid.Path())
}

func TestWriteClaimsAndRemoveReleases(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	require.NoError(t, pid.Write())

	bytes, err := os.ReadFile(pid.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(bytes))

	require.NoError(t, pid.Remove())
	_, err = os.Stat(pid.Path())
	assert.True(t, os.IsNotExist(err))

	// Removing an absent file is a no-op.
	require.NoError(t, pid.Remove())
}

func TestWriteRejectsLiveOwner(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	// The test process itself is the live owner.
	require.NoError(t, pid.Write())

	err := pid.Write()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAlreadyRunning))
}

func TestWriteOverwritesStaleFile(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	// Garbage content must not wedge the daemon out of starting.
	require.NoError(t, os.WriteFile(pid.Path(), []byte("not a pid"), 0o600))
	require.NoError(t, pid.Write())

	bytes, err := os.ReadFile(pid.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(bytes))
}
