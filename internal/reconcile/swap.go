package reconcile

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/shared/errors"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
	"github.com/tetrixdev/vps-setup/internal/shell"
)

// Swap allocates a fixed-size swap file when the host has no swap at all,
// registers it for boot, and tunes swappiness both immediately and
// persistently. Existing swap of any kind makes the allocation a no-op.
type Swap struct {
	cfg    config.SwapConfig
	runner shell.Runner
	log    *logger.Logger
}

// NewSwap creates the swap reconciler.
func NewSwap(cfg config.SwapConfig, runner shell.Runner, log *logger.Logger) *Swap {
	return &Swap{cfg: cfg, runner: runner, log: log.WithComponent("swap")}
}

// Name implements the reconciler contract.
func (s *Swap) Name() string { return "swap" }

// Reconcile converges swap allocation and tuning.
func (s *Swap) Reconcile(ctx context.Context, _ *preflight.Plan, facts *probe.Facts) error {
	if facts.SwapPresent {
		s.log.DebugContext(ctx, "swap already present, skipping allocation")
	} else {
		if err := s.allocate(ctx); err != nil {
			return err
		}
	}

	return s.tune(ctx)
}

func (s *Swap) allocate(ctx context.Context) error {
	s.log.InfoContext(ctx, "allocating swap file", "path", s.cfg.FilePath, "size_mb", s.cfg.SizeMB)

	size := fmt.Sprintf("%dM", s.cfg.SizeMB)
	if err := s.runner.Run(ctx, "fallocate", "-l", size, s.cfg.FilePath); err != nil {
		return err
	}
	// Swap files must not be readable by other users.
	if err := s.runner.Run(ctx, "chmod", "600", s.cfg.FilePath); err != nil {
		return err
	}
	if err := s.runner.Run(ctx, "mkswap", s.cfg.FilePath); err != nil {
		return err
	}
	if err := s.runner.Run(ctx, "swapon", s.cfg.FilePath); err != nil {
		return err
	}

	return s.registerInFstab()
}

// registerInFstab appends the swap entry unless one for the file already
// exists.
func (s *Swap) registerInFstab() error {
	raw, err := os.ReadFile(s.cfg.FstabPath)
	if err != nil && !os.IsNotExist(err) {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "reading fstab", err)
	}

	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == s.cfg.FilePath {
			return nil
		}
	}

	entry := fmt.Sprintf("%s none swap sw 0 0\n", s.cfg.FilePath)
	body := string(raw)
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	if err := os.WriteFile(s.cfg.FstabPath, []byte(body+entry), 0o644); err != nil {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "updating fstab", err)
	}
	return nil
}

// tune applies swappiness now and persists it for boot. The persisted file
// is fully owned by this tool, so it is rewritten rather than edited.
func (s *Swap) tune(ctx context.Context) error {
	content := fmt.Sprintf("vm.swappiness = %d\n", s.cfg.Swappiness)

	existing, err := os.ReadFile(s.cfg.SysctlPath)
	if err != nil || string(existing) != content {
		if err := os.WriteFile(s.cfg.SysctlPath, []byte(content), 0o644); err != nil {
			return errors.NewSystemError(errors.ErrCodeReconcileFailed, "writing sysctl drop-in", err)
		}
	}

	return s.runner.Run(ctx, "sysctl", "-w", fmt.Sprintf("vm.swappiness=%d", s.cfg.Swappiness))
}
