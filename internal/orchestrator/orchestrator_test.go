package orchestrator

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gookit/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/events"
	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/shared/errors"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
	"github.com/tetrixdev/vps-setup/internal/shell"
	"github.com/tetrixdev/vps-setup/internal/state"
)

func testLogger() *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.LevelError
	return logger.New(cfg)
}

// testConfig redirects every path into a temp root so Apply can run
// end-to-end against the fake runner.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "home", "deploy", ".ssh"), 0o700))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sudoers.d"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sshd_config"), []byte("Port 22\n"), 0o644))
	// Pre-seeded user keys make the user step skip the root key copy.
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "home", "deploy", ".ssh", "authorized_keys"),
		[]byte("ssh-ed25519 AAAA existing\n"), 0o600))

	return &config.Config{
		StateDir: filepath.Join(dir, "state"),
		Packages: config.PackagesConfig{Base: []string{"curl", "unattended-upgrades"}},
		Docker: config.DockerConfig{
			DaemonConfigPath: filepath.Join(dir, "daemon.json"),
			LogMaxSize:       "10m",
			LogMaxFile:       3,
		},
		SSH: config.SSHConfig{
			ConfigPath:         filepath.Join(dir, "sshd_config"),
			BackupPath:         filepath.Join(dir, "sshd_config.orig"),
			RootAuthorizedKeys: filepath.Join(dir, "root_authorized_keys"),
			Service:            "ssh",
		},
		User: config.UserConfig{
			HomeRoot:   filepath.Join(dir, "home"),
			Shell:      "/bin/bash",
			Groups:     []string{"sudo", "docker"},
			SudoersDir: filepath.Join(dir, "sudoers.d"),
		},
		Firewall: config.FirewallConfig{
			DockerSubnet:         "172.16.0.0/12",
			DockerInterface:      "docker0",
			BridgePattern:        "br-+",
			TailscaleInterface:   "tailscale0",
			TailscalePort:        41641,
			PublicTCPPorts:       []int{22, 80, 443},
			PublicContainerPorts: []int{80, 443},
		},
		Swap: config.SwapConfig{
			FilePath:   "/swapfile",
			SizeMB:     2048,
			Swappiness: 10,
			FstabPath:  filepath.Join(dir, "fstab"),
			SysctlPath: filepath.Join(dir, "99-swappiness.conf"),
		},
		Notice: config.NoticeConfig{
			ScriptPath:    filepath.Join(dir, "vps-setup-notice.sh"),
			Endpoint:      "https://releases.example.com/latest",
			IntervalHours: 24,
		},
	}
}

func testPreparation() *Preparation {
	return &Preparation{
		Facts: &probe.Facts{
			DistroID:              "ubuntu",
			DistroCodename:        "noble",
			HasRootAuthorizedKeys: true,
			ExistingNonRootUser:   "deploy",
			DockerInstalled:       true,
			SwapPresent:           true,
		},
		Plan: &preflight.Plan{
			Mode:     state.ModePublic,
			Username: "deploy",
		},
	}
}

func indexOf(calls []string, prefix string) int {
	for i, c := range calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			return i
		}
	}
	return -1
}

func TestPrepareRequiresRootBeforeProbing(t *testing.T) {
	cfg := testConfig(t)
	runner := shell.NewFakeRunner()
	o := New(cfg, runner, events.NewBus(testLogger()), testLogger(), "1.2.0")
	o.euid = func() int { return 1000 }

	_, err := o.Prepare(context.Background(), preflight.Request{Mode: state.ModePublic})
	require.Error(t, err)

	// The permission error wins over any probe failure a non-root read
	// would produce; the probe must not even start.
	assert.True(t, stderrors.Is(err, errors.ErrPermission))
	assert.Equal(t, errors.ErrCodePermission, errors.GetErrorCode(err))
	assert.Empty(t, runner.Calls())
}

func TestApplyConvergesAndCommits(t *testing.T) {
	cfg := testConfig(t)
	runner := shell.NewFakeRunner()
	o := New(cfg, runner, events.NewBus(testLogger()), testLogger(), "1.2.0")

	result, err := o.Apply(context.Background(), testPreparation())
	require.NoError(t, err)

	assert.Equal(t, state.ModePublic, result.Mode)
	assert.NotEmpty(t, result.RunID)
	assert.Contains(t, result.Endpoint, "deploy@")

	mode, err := os.ReadFile(o.Store().ModePath())
	require.NoError(t, err)
	assert.Equal(t, "public\n", string(mode))

	version, err := os.ReadFile(o.Store().VersionPath())
	require.NoError(t, err)
	assert.Equal(t, "1.2.0\n", string(version))
}

func TestApplyRunsStepsInFixedOrder(t *testing.T) {
	cfg := testConfig(t)
	runner := shell.NewFakeRunner()
	o := New(cfg, runner, events.NewBus(testLogger()), testLogger(), "1.2.0")

	_, err := o.Apply(context.Background(), testPreparation())
	require.NoError(t, err)

	calls := runner.Calls()
	aptUpdate := indexOf(calls, "apt-get update")
	sshReload := indexOf(calls, "systemctl reload-or-restart ssh")
	usermod := indexOf(calls, "usermod")
	fwSave := indexOf(calls, "netfilter-persistent save")
	sysctl := indexOf(calls, "sysctl -w")

	require.NotEqual(t, -1, aptUpdate)
	require.NotEqual(t, -1, sshReload)
	require.NotEqual(t, -1, usermod)
	require.NotEqual(t, -1, fwSave)
	require.NotEqual(t, -1, sysctl)

	assert.Less(t, aptUpdate, sshReload)
	assert.Less(t, sshReload, usermod)
	assert.Less(t, usermod, fwSave)
	assert.Less(t, fwSave, sysctl)
}

func TestApplyHaltsOnStepFailure(t *testing.T) {
	cfg := testConfig(t)
	runner := shell.NewFakeRunner()
	runner.Respond("iptables", shell.FakeResponse{Err: stderrors.New("iptables: not found")})
	o := New(cfg, runner, events.NewBus(testLogger()), testLogger(), "1.2.0")

	_, err := o.Apply(context.Background(), testPreparation())
	require.Error(t, err)

	var rerr *errors.ReconcileError
	require.True(t, stderrors.As(err, &rerr))
	assert.Equal(t, "firewall", rerr.Step)

	// Nothing after the failed step ran, nothing was committed.
	assert.False(t, runner.Called("sysctl"))
	assert.False(t, runner.Called("netfilter-persistent"))
	_, statErr := os.Stat(o.Store().ModePath())
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(o.Store().VersionPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestApplyPublishesStepEvents(t *testing.T) {
	cfg := testConfig(t)
	bus := events.NewBus(testLogger())

	var completed []string
	var runDone bool
	bus.SubscribeStepEvents(event.ListenerFunc(func(e event.Event) error {
		if payload, ok := e.Get("payload").(events.StepCompletedEvent); ok {
			completed = append(completed, payload.Step)
		}
		return nil
	}))
	bus.SubscribeRunEvents(event.ListenerFunc(func(e event.Event) error {
		if _, ok := e.Get("payload").(events.RunCompletedEvent); ok {
			runDone = true
		}
		return nil
	}))

	o := New(cfg, shell.NewFakeRunner(), bus, testLogger(), "1.2.0")
	_, err := o.Apply(context.Background(), testPreparation())
	require.NoError(t, err)

	assert.Equal(t, []string{"packages", "docker", "sshd", "user", "firewall", "swap", "notice"}, completed)
	assert.True(t, runDone)
}

func TestApplyIdempotent(t *testing.T) {
	cfg := testConfig(t)
	o := New(cfg, shell.NewFakeRunner(), events.NewBus(testLogger()), testLogger(), "1.2.0")

	prep := testPreparation()
	_, err := o.Apply(context.Background(), prep)
	require.NoError(t, err)

	// Second run over a converged host commits the same mode without error.
	o2 := New(cfg, shell.NewFakeRunner(), events.NewBus(testLogger()), testLogger(), "1.2.0")
	result, err := o2.Apply(context.Background(), prep)
	require.NoError(t, err)
	assert.Equal(t, state.ModePublic, result.Mode)
}
