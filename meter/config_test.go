package meter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/plugin"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
idle_timeout: 30s
active_timeout: 5m
accounting_mode: payload
splt_capacity: 10
max_dissections: 7
workers: 3
hook_policy: degrade
performance_interval: 10s
`)
	var cfg Config
	require.NoError(t, LoadConfig(path, &cfg))
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ActiveTimeout)
	assert.Equal(t, flow.AccountPayload, cfg.AccountingMode)
	assert.Equal(t, 10, cfg.SPLTCapacity)
	assert.Equal(t, 7, cfg.MaxDissections)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, plugin.PolicyDegrade, cfg.HookPolicy)
	assert.Equal(t, 10*time.Second, cfg.PerformanceInterval)
}

func TestLoadConfigPartial(t *testing.T) {
	path := writeConfig(t, "idle_timeout: 1m\n")
	cfg := Config{Workers: 5, MaxDissections: 9}
	require.NoError(t, LoadConfig(path, &cfg))
	assert.Equal(t, time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 5, cfg.Workers, "absent settings stay untouched")
	assert.Equal(t, 9, cfg.MaxDissections)
}

func TestLoadConfigRejects(t *testing.T) {
	for name, content := range map[string]string{
		"bad duration": "idle_timeout: fast\n",
		"bad mode":     "accounting_mode: everything\n",
		"bad policy":   "hook_policy: ignore\n",
		"zero workers": "workers: 0\n",
		"not yaml":     "{{{\n",
	} {
		t.Run(name, func(t *testing.T) {
			var cfg Config
			assert.Error(t, LoadConfig(writeConfig(t, content), &cfg))
		})
	}
}

func TestConfigNormalizeDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.normalize())
	assert.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, DefaultActiveTimeout, cfg.ActiveTimeout)
	assert.Greater(t, cfg.Workers, 0)
	assert.Nil(t, cfg.Classifier, "layer 7 visibility stays off without dissections")

	cfg = Config{MaxDissections: 5}
	require.NoError(t, cfg.normalize())
	assert.NotNil(t, cfg.Classifier)
}
