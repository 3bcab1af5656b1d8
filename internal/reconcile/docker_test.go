package reconcile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/shell"
)

func testDockerConfig(t *testing.T) config.DockerConfig {
	t.Helper()
	return config.DockerConfig{
		DaemonConfigPath: filepath.Join(t.TempDir(), "docker", "daemon.json"),
		LogMaxSize:       "10m",
		LogMaxFile:       3,
	}
}

func TestDockerInstallsWhenAbsent(t *testing.T) {
	runner := shell.NewFakeRunner()
	d := NewDocker(testDockerConfig(t), runner, testLogger())
	facts := testFacts()
	facts.DockerInstalled = false

	require.NoError(t, d.Reconcile(context.Background(), testPlan(), facts))

	assert.True(t, runner.Called("apt-get install -y docker.io"))
	assert.True(t, runner.Called("systemctl enable --now docker"))
	assert.True(t, runner.Called("systemctl restart docker"))
}

func TestDockerSkipsInstallWhenPresent(t *testing.T) {
	runner := shell.NewFakeRunner()
	d := NewDocker(testDockerConfig(t), runner, testLogger())
	facts := testFacts()
	facts.DockerInstalled = true

	require.NoError(t, d.Reconcile(context.Background(), testPlan(), facts))

	assert.False(t, runner.Called("apt-get install"))
	// First converge still rewrites daemon.json and restarts.
	assert.True(t, runner.Called("systemctl restart docker"))
}

func TestDockerLoggingConfigContent(t *testing.T) {
	cfg := testDockerConfig(t)
	runner := shell.NewFakeRunner()
	d := NewDocker(cfg, runner, testLogger())
	facts := testFacts()
	facts.DockerInstalled = true

	require.NoError(t, d.Reconcile(context.Background(), testPlan(), facts))

	raw, err := os.ReadFile(cfg.DaemonConfigPath)
	require.NoError(t, err)

	var parsed daemonConfig
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, "json-file", parsed.LogDriver)
	assert.Equal(t, "10m", parsed.LogOpts["max-size"])
	assert.Equal(t, "3", parsed.LogOpts["max-file"])
}

func TestDockerSecondRunDoesNotRestart(t *testing.T) {
	cfg := testDockerConfig(t)
	facts := testFacts()
	facts.DockerInstalled = true

	first := shell.NewFakeRunner()
	require.NoError(t, NewDocker(cfg, first, testLogger()).Reconcile(context.Background(), testPlan(), facts))
	require.True(t, first.Called("systemctl restart docker"))

	second := shell.NewFakeRunner()
	require.NoError(t, NewDocker(cfg, second, testLogger()).Reconcile(context.Background(), testPlan(), facts))
	assert.False(t, second.Called("systemctl restart docker"))
	assert.Empty(t, second.Calls())
}

func TestDockerRewritesDriftedConfig(t *testing.T) {
	cfg := testDockerConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.DaemonConfigPath), 0o755))
	require.NoError(t, os.WriteFile(cfg.DaemonConfigPath, []byte(`{"log-driver":"syslog"}`), 0o644))

	runner := shell.NewFakeRunner()
	facts := testFacts()
	facts.DockerInstalled = true

	require.NoError(t, NewDocker(cfg, runner, testLogger()).Reconcile(context.Background(), testPlan(), facts))
	assert.True(t, runner.Called("systemctl restart docker"))

	raw, err := os.ReadFile(cfg.DaemonConfigPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "json-file")
}
