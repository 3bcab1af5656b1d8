package firewall

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
	"github.com/tetrixdev/vps-setup/internal/shell"
	"github.com/tetrixdev/vps-setup/internal/state"
)

func testLogger() *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.LevelError
	return logger.New(cfg)
}

func newTestReconciler(runner shell.Runner) *Reconciler {
	return NewReconciler(testFirewallConfig(), runner, testLogger())
}

func publicPlan() *preflight.Plan {
	return &preflight.Plan{Mode: state.ModePublic, Username: "deploy", TailscaleAllowed: false}
}

func TestReconcileAppliesFullReplace(t *testing.T) {
	runner := shell.NewFakeRunner()
	r := newTestReconciler(runner)

	require.NoError(t, r.Reconcile(context.Background(), publicPlan(), nil))
	calls := runner.Calls()

	// Policies are set for both IP versions.
	assert.Contains(t, calls, "iptables -P INPUT DROP")
	assert.Contains(t, calls, "iptables -P FORWARD DROP")
	assert.Contains(t, calls, "iptables -P OUTPUT ACCEPT")
	assert.Contains(t, calls, "ip6tables -P INPUT DROP")
	assert.Contains(t, calls, "ip6tables -P OUTPUT ACCEPT")

	// Managed chains are flushed before any rule lands in them.
	flushIdx := indexOf(calls, "iptables -F DOCKER-USER")
	firstAppendIdx := firstIndexWithPrefix(calls, "iptables -A DOCKER-USER")
	require.NotEqual(t, -1, flushIdx)
	require.NotEqual(t, -1, firstAppendIdx)
	assert.Less(t, flushIdx, firstAppendIdx)

	// The last DOCKER-USER rule appended is the terminal deny.
	lastDockerUser := lastWithPrefix(calls, "iptables -A DOCKER-USER")
	assert.Equal(t, "iptables -A DOCKER-USER -j DROP", lastDockerUser)

	// Rules are persisted for reboot.
	assert.Equal(t, "netfilter-persistent save", calls[len(calls)-1])
}

func TestReconcileIdempotent(t *testing.T) {
	first := shell.NewFakeRunner()
	require.NoError(t, newTestReconciler(first).Reconcile(context.Background(), publicPlan(), nil))

	second := shell.NewFakeRunner()
	require.NoError(t, newTestReconciler(second).Reconcile(context.Background(), publicPlan(), nil))

	assert.Equal(t, first.Calls(), second.Calls())
}

func TestReconcileCreatesDockerUserChainWhenMissing(t *testing.T) {
	runner := shell.NewFakeRunner()
	runner.Respond("iptables -n --list DOCKER-USER", shell.FakeResponse{Err: errors.New("no chain")})
	r := newTestReconciler(runner)

	require.NoError(t, r.Reconcile(context.Background(), publicPlan(), nil))
	assert.True(t, runner.Called("iptables -N DOCKER-USER"))
}

func TestReconcileSkipsChainCreationWhenPresent(t *testing.T) {
	runner := shell.NewFakeRunner()
	r := newTestReconciler(runner)

	require.NoError(t, r.Reconcile(context.Background(), publicPlan(), nil))
	assert.False(t, runner.Called("iptables -N DOCKER-USER"))
}

func TestReconcileHaltsOnCommandFailure(t *testing.T) {
	runner := shell.NewFakeRunner()
	runner.Respond("iptables -P INPUT DROP", shell.FakeResponse{Err: errors.New("iptables: permission denied")})
	r := newTestReconciler(runner)

	err := r.Reconcile(context.Background(), publicPlan(), nil)
	require.Error(t, err)
	assert.False(t, runner.Called("netfilter-persistent"))
}

func TestReconcilePrivateAppendsNoPublicPorts(t *testing.T) {
	runner := shell.NewFakeRunner()
	r := newTestReconciler(runner)
	plan := &preflight.Plan{Mode: state.ModePrivate, Username: "deploy", TailscaleAllowed: true}

	require.NoError(t, r.Reconcile(context.Background(), plan, nil))

	for _, call := range runner.Calls() {
		if strings.HasPrefix(call, "iptables -A INPUT") || strings.HasPrefix(call, "ip6tables -A INPUT") {
			assert.NotContains(t, call, "-p tcp")
		}
	}
	assert.True(t, runner.Called("iptables -A INPUT -i tailscale0"))
}

func indexOf(calls []string, want string) int {
	for i, c := range calls {
		if c == want {
			return i
		}
	}
	return -1
}

func firstIndexWithPrefix(calls []string, prefix string) int {
	for i, c := range calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func lastWithPrefix(calls []string, prefix string) string {
	var last string
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			last = c
		}
	}
	return last
}
