package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/shared/errors"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
	"github.com/tetrixdev/vps-setup/internal/shell"
)

// User converges the managed login account: existence, group memberships,
// SSH keys seeded from root, and passwordless sudo via a dedicated
// narrowly-scoped policy file.
type User struct {
	cfg    config.UserConfig
	ssh    config.SSHConfig
	runner shell.Runner
	log    *logger.Logger
}

// NewUser creates the user reconciler.
func NewUser(cfg config.UserConfig, ssh config.SSHConfig, runner shell.Runner, log *logger.Logger) *User {
	return &User{cfg: cfg, ssh: ssh, runner: runner, log: log.WithComponent("user")}
}

// Name implements the reconciler contract.
func (u *User) Name() string { return "user" }

// Reconcile creates the account if absent and converges memberships, keys
// and the sudo policy.
func (u *User) Reconcile(ctx context.Context, plan *preflight.Plan, _ *probe.Facts) error {
	username := plan.Username

	// `id` is the authority on existence, regardless of what the plan
	// predicted from the passwd snapshot.
	if _, err := u.runner.Output(ctx, "id", "-u", username); err != nil {
		u.log.InfoContext(ctx, "creating user", "username", username)
		if err := u.runner.Run(ctx, "useradd", "--create-home", "--shell", u.cfg.Shell, username); err != nil {
			return err
		}
	}

	// usermod -aG only ever adds; existing memberships survive.
	groups := strings.Join(u.cfg.Groups, ",")
	if err := u.runner.Run(ctx, "usermod", "-aG", groups, username); err != nil {
		return err
	}

	if err := u.seedAuthorizedKeys(ctx, username); err != nil {
		return err
	}

	return u.writeSudoPolicy(username)
}

// seedAuthorizedKeys copies root's validated keys to the user, only when
// the user has none yet. Existing user keys are never overwritten.
func (u *User) seedAuthorizedKeys(ctx context.Context, username string) error {
	userKeyPath := filepath.Join(u.cfg.HomeRoot, username, ".ssh", "authorized_keys")

	if info, err := os.Stat(userKeyPath); err == nil && info.Size() > 0 {
		u.log.DebugContext(ctx, "user already has authorized keys", "username", username)
		return nil
	}

	raw, err := os.ReadFile(u.ssh.RootAuthorizedKeys)
	if err != nil {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "reading root authorized keys", err)
	}

	keys := probe.ValidAuthorizedKeys(raw)
	if len(keys) == 0 {
		// Preflight guarantees at least one; this guards a racing edit.
		return errors.ErrNoAuthorizedKeys
	}

	sshDir := filepath.Dir(userKeyPath)
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "creating user .ssh directory", err)
	}
	content := strings.Join(keys, "\n") + "\n"
	if err := os.WriteFile(userKeyPath, []byte(content), 0o600); err != nil {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "writing user authorized keys", err)
	}

	owner := username + ":" + username
	if err := u.runner.Run(ctx, "chown", "-R", owner, sshDir); err != nil {
		return err
	}

	u.log.InfoContext(ctx, "seeded authorized keys from root", "username", username, "keys", len(keys))
	return nil
}

// writeSudoPolicy grants passwordless sudo through a per-user drop-in,
// mode 0440 like visudo produces.
func (u *User) writeSudoPolicy(username string) error {
	path := filepath.Join(u.cfg.SudoersDir, username)
	content := fmt.Sprintf("%s ALL=(ALL) NOPASSWD:ALL\n", username)

	existing, err := os.ReadFile(path)
	if err == nil && string(existing) == content {
		return nil
	}

	if err := os.WriteFile(path, []byte(content), 0o440); err != nil {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "writing sudoers policy", err)
	}
	return nil
}
