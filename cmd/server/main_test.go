package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstepura/bridge/internal/app/orch"
)

func TestOpenPrefsBadFileYieldsNilInterface(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml: ["), 0o644))

	store := openPrefs(path)
	assert.Nil(t, store)

	// A nil interface must be safe to hand to the engine.
	assert.NotPanics(t, func() {
		orch.New(orch.Options{Prefs: store, Metrics: prometheus.NewRegistry()})
	})
}

func TestOpenPrefsMissingFileIsUsable(t *testing.T) {
	store := openPrefs(filepath.Join(t.TempDir(), "prefs.yaml"))
	require.NotNil(t, store)

	_, ok := store.Get("input_device")
	assert.False(t, ok)
}
