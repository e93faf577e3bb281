package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSettingsReturnsSameInstance(t *testing.T) {
	a := GetSettings()
	b := GetSettings()
	assert.Same(t, a, b)
	assert.Equal(t, "./datafiles", a.DataDir)
}

func TestLoadConfigFileOverlaysValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datadir: /var/lib/strata\nverbose: true\ndisable_encryption: true\n"), 0o644))

	args := &Arguments{DataDir: "./datafiles", Debug: true}
	require.NoError(t, args.LoadConfigFile(path))

	assert.Equal(t, "/var/lib/strata", args.DataDir)
	assert.True(t, args.Verbose)
	assert.True(t, args.DisableEncryption)
	// keys absent from the file keep their previous values
	assert.True(t, args.Debug)
}

func TestLoadConfigFileMissing(t *testing.T) {
	args := &Arguments{}
	err := args.LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
