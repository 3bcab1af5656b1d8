package firewall

import (
	"context"
	"log/slog"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
	"github.com/tetrixdev/vps-setup/internal/shell"
)

// Reconciler applies a planned rule set by fully replacing the managed
// chains: flush, set policies, re-append in planned order, persist. Full
// replace guarantees no stale rule survives a mode-consistent re-run.
type Reconciler struct {
	cfg     config.FirewallConfig
	planner *Planner
	runner  shell.Runner
	log     *logger.Logger
}

// NewReconciler creates the firewall reconciler.
func NewReconciler(cfg config.FirewallConfig, runner shell.Runner, log *logger.Logger) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		planner: NewPlanner(cfg),
		runner:  runner,
		log:     log.WithComponent("firewall"),
	}
}

// Name implements the reconciler contract.
func (r *Reconciler) Name() string { return "firewall" }

// managedChains are flushed and refilled per family. OUTPUT only carries a
// policy, never rules, so it is not managed.
var managedChains = map[Family][]ChainName{
	V4: {ChainInput, ChainForward, ChainDockerUser},
	V6: {ChainInput, ChainForward},
}

func binFor(family Family) string {
	if family == V6 {
		return "ip6tables"
	}
	return "iptables"
}

// Reconcile drives the host's netfilter state to the planned rule set.
func (r *Reconciler) Reconcile(ctx context.Context, plan *preflight.Plan, _ *probe.Facts) error {
	rs := r.planner.Plan(plan.Mode, plan.TailscaleAllowed)

	if err := r.ensureDockerUserChain(ctx); err != nil {
		return err
	}

	for _, pol := range rs.Policies {
		if err := r.runner.Run(ctx, binFor(pol.Family), "-P", string(pol.Chain), string(pol.Action)); err != nil {
			return err
		}
	}

	for _, family := range []Family{V4, V6} {
		for _, chain := range managedChains[family] {
			if err := r.runner.Run(ctx, binFor(family), "-F", string(chain)); err != nil {
				return err
			}
		}
	}

	for _, rule := range rs.Rules {
		args := append([]string{"-A", string(rule.Chain)}, rule.Args()...)
		if err := r.runner.Run(ctx, binFor(rule.Family), args...); err != nil {
			return err
		}
	}

	r.log.DebugContext(ctx, "applied rule set",
		slog.Int("rules", len(rs.Rules)),
		slog.String("mode", string(plan.Mode)))

	// Snapshot both IP versions so the rules survive reboot.
	return r.runner.Run(ctx, "netfilter-persistent", "save")
}

// ensureDockerUserChain creates DOCKER-USER when the engine has not yet;
// the chain must exist before it can be flushed or filled.
func (r *Reconciler) ensureDockerUserChain(ctx context.Context) error {
	if err := r.runner.Run(ctx, "iptables", "-n", "--list", string(ChainDockerUser)); err == nil {
		return nil
	}
	return r.runner.Run(ctx, "iptables", "-N", string(ChainDockerUser))
}
