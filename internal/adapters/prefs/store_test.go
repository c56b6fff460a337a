package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstepura/bridge/internal/core"
)

func TestStoreMissingFileIsEmpty(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "prefs.yaml"))
	require.NoError(t, err)

	_, ok := s.Get(core.PrefInputDevice)
	assert.False(t, ok)
}

func TestStoreMalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{broken: ["), 0o644))

	s, err := NewStore(path)
	require.Error(t, err)
	assert.Nil(t, s)
}

func TestStoreSetPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")

	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(core.PrefInputDevice, "usb"))
	require.NoError(t, s.Set(core.PrefOutputDevice, "hdmi"))

	v, ok := s.Get(core.PrefInputDevice)
	require.True(t, ok)
	assert.Equal(t, "usb", v)

	reopened, err := NewStore(path)
	require.NoError(t, err)
	v, ok = reopened.Get(core.PrefInputDevice)
	require.True(t, ok)
	assert.Equal(t, "usb", v)
	v, ok = reopened.Get(core.PrefOutputDevice)
	require.True(t, ok)
	assert.Equal(t, "hdmi", v)
}

func TestStoreOverwrite(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "prefs.yaml"))
	require.NoError(t, err)

	require.NoError(t, s.Set(core.PrefInputDevice, "usb"))
	require.NoError(t, s.Set(core.PrefInputDevice, "builtin"))

	v, _ := s.Get(core.PrefInputDevice)
	assert.Equal(t, "builtin", v)
}
