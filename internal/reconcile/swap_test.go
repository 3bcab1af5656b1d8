package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/shell"
)

func testSwapConfig(t *testing.T) config.SwapConfig {
	t.Helper()
	dir := t.TempDir()
	return config.SwapConfig{
		FilePath:   "/swapfile",
		SizeMB:     2048,
		Swappiness: 10,
		FstabPath:  filepath.Join(dir, "fstab"),
		SysctlPath: filepath.Join(dir, "99-swappiness.conf"),
	}
}

func TestSwapAllocatesWhenAbsent(t *testing.T) {
	cfg := testSwapConfig(t)
	runner := shell.NewFakeRunner()
	s := NewSwap(cfg, runner, testLogger())

	facts := testFacts()
	facts.SwapPresent = false
	require.NoError(t, s.Reconcile(context.Background(), testPlan(), facts))

	calls := runner.Calls()
	require.Equal(t, []string{
		"fallocate -l 2048M /swapfile",
		"chmod 600 /swapfile",
		"mkswap /swapfile",
		"swapon /swapfile",
		"sysctl -w vm.swappiness=10",
	}, calls)
}

func TestSwapSkipsAllocationWhenPresent(t *testing.T) {
	cfg := testSwapConfig(t)
	runner := shell.NewFakeRunner()
	s := NewSwap(cfg, runner, testLogger())

	facts := testFacts()
	facts.SwapPresent = true
	require.NoError(t, s.Reconcile(context.Background(), testPlan(), facts))

	assert.False(t, runner.Called("fallocate"))
	assert.False(t, runner.Called("swapon"))
	// Tuning still applies on every run.
	assert.True(t, runner.Called("sysctl -w vm.swappiness=10"))
}

func TestSwapRegistersInFstabOnce(t *testing.T) {
	cfg := testSwapConfig(t)
	require.NoError(t, os.WriteFile(cfg.FstabPath, []byte("UUID=abc / ext4 defaults 0 1\n"), 0o644))

	s := NewSwap(cfg, shell.NewFakeRunner(), testLogger())
	facts := testFacts()
	facts.SwapPresent = false

	require.NoError(t, s.Reconcile(context.Background(), testPlan(), facts))
	require.NoError(t, s.Reconcile(context.Background(), testPlan(), facts))

	raw, err := os.ReadFile(cfg.FstabPath)
	require.NoError(t, err)
	body := string(raw)
	assert.Equal(t, 1, strings.Count(body, "/swapfile none swap sw 0 0"))
	// Unrelated entries survive.
	assert.Contains(t, body, "UUID=abc / ext4 defaults 0 1")
}

func TestSwapWritesSysctlDropIn(t *testing.T) {
	cfg := testSwapConfig(t)
	s := NewSwap(cfg, shell.NewFakeRunner(), testLogger())

	require.NoError(t, s.Reconcile(context.Background(), testPlan(), testFacts()))

	raw, err := os.ReadFile(cfg.SysctlPath)
	require.NoError(t, err)
	assert.Equal(t, "vm.swappiness = 10\n", string(raw))
}

func TestSwapHaltsOnAllocationFailure(t *testing.T) {
	cfg := testSwapConfig(t)
	runner := shell.NewFakeRunner()
	runner.Respond("fallocate", shell.FakeResponse{Err: errors.New("no space left on device")})
	s := NewSwap(cfg, runner, testLogger())

	facts := testFacts()
	facts.SwapPresent = false
	err := s.Reconcile(context.Background(), testPlan(), facts)
	require.Error(t, err)

	assert.False(t, runner.Called("mkswap"))
	assert.False(t, runner.Called("swapon"))
	_, statErr := os.Stat(cfg.FstabPath)
	assert.True(t, os.IsNotExist(statErr))
}
