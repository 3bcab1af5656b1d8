package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/shared/errors"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
	"github.com/tetrixdev/vps-setup/internal/shell"
)

// Docker installs the container engine only when absent and always
// converges the daemon's logging configuration. Rotation bounds cap the log
// footprint per container at max-size x max-file.
type Docker struct {
	cfg    config.DockerConfig
	runner shell.Runner
	log    *logger.Logger
}

// NewDocker creates the docker reconciler.
func NewDocker(cfg config.DockerConfig, runner shell.Runner, log *logger.Logger) *Docker {
	return &Docker{cfg: cfg, runner: runner, log: log.WithComponent("docker")}
}

// Name implements the reconciler contract.
func (d *Docker) Name() string { return "docker" }

// daemonConfig is the subset of the engine's daemon.json this tool owns.
type daemonConfig struct {
	LogDriver string            `json:"log-driver"`
	LogOpts   map[string]string `json:"log-opts"`
}

// Reconcile installs the engine if needed and rewrites the logging
// configuration. The engine restarts only when that configuration actually
// changed or the engine was just installed.
func (d *Docker) Reconcile(ctx context.Context, _ *preflight.Plan, facts *probe.Facts) error {
	installed := facts.DockerInstalled

	if !installed {
		d.log.InfoContext(ctx, "installing container engine")
		if err := d.runner.Run(ctx, "apt-get", "install", "-y", "docker.io"); err != nil {
			return err
		}
		if err := d.runner.Run(ctx, "systemctl", "enable", "--now", "docker"); err != nil {
			return err
		}
	}

	changed, err := d.writeDaemonConfig()
	if err != nil {
		return err
	}

	if !installed || changed {
		d.log.InfoContext(ctx, "restarting engine to apply logging configuration",
			slog.Bool("config_changed", changed))
		return d.runner.Run(ctx, "systemctl", "restart", "docker")
	}

	d.log.DebugContext(ctx, "engine already converged")
	return nil
}

// writeDaemonConfig renders the managed daemon.json and reports whether the
// on-disk content changed.
func (d *Docker) writeDaemonConfig() (bool, error) {
	desired := daemonConfig{
		LogDriver: "json-file",
		LogOpts: map[string]string{
			"max-size": d.cfg.LogMaxSize,
			"max-file": strconv.Itoa(d.cfg.LogMaxFile),
		},
	}

	rendered, err := json.MarshalIndent(desired, "", "  ")
	if err != nil {
		return false, errors.NewSystemError(errors.ErrCodeReconcileFailed, "rendering daemon.json", err)
	}
	rendered = append(rendered, '\n')

	existing, err := os.ReadFile(d.cfg.DaemonConfigPath)
	if err == nil && bytes.Equal(existing, rendered) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(d.cfg.DaemonConfigPath), 0o755); err != nil {
		return false, errors.NewSystemError(errors.ErrCodeReconcileFailed, "creating docker config directory", err)
	}
	if err := os.WriteFile(d.cfg.DaemonConfigPath, rendered, 0o644); err != nil {
		return false, errors.NewSystemError(errors.ErrCodeReconcileFailed, "writing daemon.json", err)
	}
	return true, nil
}
