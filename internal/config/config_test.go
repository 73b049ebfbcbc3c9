package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Josepavese/nidolab/internal/pkg/sysutil"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.env")
	require.NoError(t, os.WriteFile(cfgPath, []byte(""), 0644))

	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, DefaultBaselineSnapshot, cfg.BaselineSnapshot)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, sysutil.DefaultMemory(), cfg.MemoryMB)
	assert.Equal(t, 10*time.Second, cfg.StopTimeout)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoadConfig_Values(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.env")

	content := "# lab settings\nROOT_DIR=" + tmpDir + "\nBASELINE_SNAPSHOT=golden\nMEMORY_MB=4096\nSTOP_TIMEOUT=3s\nMEMORY_MB_BROKEN\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, tmpDir, cfg.RootDir)
	assert.Equal(t, "golden", cfg.BaselineSnapshot)
	assert.Equal(t, 4096, cfg.MemoryMB)
	assert.Equal(t, 3*time.Second, cfg.StopTimeout)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "non-existent-config.env"))
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NIDOLAB_BASELINE_SNAPSHOT", "from-env")
	t.Setenv("NIDOLAB_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("NIDOLAB_STOP_TIMEOUT", "1m")

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg))

	assert.Equal(t, "from-env", cfg.BaselineSnapshot)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, time.Minute, cfg.StopTimeout)
	assert.Equal(t, "qemu-system-x86_64", cfg.QemuBinary)
}

func TestUpdateConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.env")
	require.NoError(t, os.WriteFile(cfgPath, []byte("LOG_LEVEL=info\n"), 0644))

	require.NoError(t, UpdateConfig(cfgPath, "LOG_LEVEL", "debug"))
	require.NoError(t, UpdateConfig(cfgPath, "BASELINE_SNAPSHOT", "golden"))

	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "golden", cfg.BaselineSnapshot)
}
