// Package reconcile contains one reconciler per configuration domain. Each
// one drives its domain to the target state derived from the validated plan
// and is safe to invoke any number of times.
package reconcile

import (
	"context"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
	"github.com/tetrixdev/vps-setup/internal/shell"
)

// Packages ensures base tooling and the automatic security update service
// are installed and enabled. apt and systemctl are both idempotent, so a
// satisfied host turns this into a no-op.
type Packages struct {
	cfg    config.PackagesConfig
	runner shell.Runner
	log    *logger.Logger
}

// NewPackages creates the package reconciler.
func NewPackages(cfg config.PackagesConfig, runner shell.Runner, log *logger.Logger) *Packages {
	return &Packages{cfg: cfg, runner: runner, log: log.WithComponent("packages")}
}

// Name implements the reconciler contract.
func (p *Packages) Name() string { return "packages" }

// Reconcile installs the base package set and enables unattended upgrades.
func (p *Packages) Reconcile(ctx context.Context, _ *preflight.Plan, _ *probe.Facts) error {
	if err := p.runner.Run(ctx, "apt-get", "update"); err != nil {
		return err
	}

	args := append([]string{"install", "-y", "--no-install-recommends"}, p.cfg.Base...)
	if err := p.runner.Run(ctx, "apt-get", args...); err != nil {
		return err
	}

	return p.runner.Run(ctx, "systemctl", "enable", "--now", "unattended-upgrades")
}
