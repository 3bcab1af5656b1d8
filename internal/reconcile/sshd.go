package reconcile

import (
	"context"
	"os"
	"strings"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/shared/errors"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
	"github.com/tetrixdev/vps-setup/internal/shell"
)

// Sshd hardens the SSH daemon: key-only authentication, no root login.
// The original configuration is backed up exactly once; edits are a
// structured parse-set-serialize of known directives so idempotence holds
// even if the file drifts.
type Sshd struct {
	cfg    config.SSHConfig
	runner shell.Runner
	log    *logger.Logger
}

// NewSshd creates the SSH daemon reconciler.
func NewSshd(cfg config.SSHConfig, runner shell.Runner, log *logger.Logger) *Sshd {
	return &Sshd{cfg: cfg, runner: runner, log: log.WithComponent("sshd")}
}

// Name implements the reconciler contract.
func (s *Sshd) Name() string { return "sshd" }

// managedDirectives are the sshd_config keys this tool owns, in the order
// they are appended when absent. PasswordAuthentication is only disabled
// after preflight verified an authorized key exists.
var managedDirectives = []struct {
	key   string
	value string
}{
	{"PasswordAuthentication", "no"},
	{"PermitRootLogin", "no"},
	{"PubkeyAuthentication", "yes"},
	{"PermitEmptyPasswords", "no"},
}

// Reconcile backs up, rewrites and reloads the daemon configuration.
// Reloading does not drop established sessions.
func (s *Sshd) Reconcile(ctx context.Context, _ *preflight.Plan, _ *probe.Facts) error {
	original, err := os.ReadFile(s.cfg.ConfigPath)
	if err != nil {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "reading sshd_config", err)
	}

	if err := s.backupOnce(ctx, original); err != nil {
		return err
	}

	rewritten := RewriteSshdConfig(string(original))
	if rewritten != string(original) {
		if err := os.WriteFile(s.cfg.ConfigPath, []byte(rewritten), 0o644); err != nil {
			return errors.NewSystemError(errors.ErrCodeReconcileFailed, "writing sshd_config", err)
		}
		s.log.InfoContext(ctx, "hardened daemon configuration")
	} else {
		s.log.DebugContext(ctx, "daemon configuration already converged")
	}

	if err := s.runner.Run(ctx, "systemctl", "reload-or-restart", s.cfg.Service); err != nil {
		// Debian historically names the unit sshd.
		return s.runner.Run(ctx, "systemctl", "reload-or-restart", "sshd")
	}
	return nil
}

// backupOnce writes a byte-for-byte copy of the untouched configuration.
// An existing backup is never overwritten, so the copy stays pristine
// across re-runs.
func (s *Sshd) backupOnce(ctx context.Context, original []byte) error {
	if _, err := os.Stat(s.cfg.BackupPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "checking sshd_config backup", err)
	}

	if err := os.WriteFile(s.cfg.BackupPath, original, 0o600); err != nil {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "writing sshd_config backup", err)
	}
	s.log.InfoContext(ctx, "backed up original daemon configuration")
	return nil
}

// RewriteSshdConfig applies the managed directives to an sshd_config body:
// the first top-level occurrence of a managed key (active or commented) is
// replaced with the canonical form, later duplicates are dropped, and
// missing keys are inserted after the leading comment/Include header.
// Inserting there rather than at EOF keeps the directives global (never
// inside a trailing Match block) and ahead of anything an Include pulls in,
// which matters because sshd honors the first occurrence of a keyword.
// Match blocks pass through untouched.
func RewriteSshdConfig(body string) string {
	seen := map[string]bool{}
	values := map[string]string{}
	for _, d := range managedDirectives {
		values[strings.ToLower(d.key)] = d.key + " " + d.value
	}

	var out []string
	inMatch := false
	for _, line := range strings.Split(strings.TrimSuffix(body, "\n"), "\n") {
		key := directiveKey(line)
		if key == "match" {
			inMatch = true
		}
		if inMatch {
			out = append(out, line)
			continue
		}
		canonical, managed := values[key]
		if !managed {
			out = append(out, line)
			continue
		}
		if seen[key] {
			continue // drop duplicate occurrences of a managed key
		}
		seen[key] = true
		out = append(out, canonical)
	}

	var missing []string
	for _, d := range managedDirectives {
		if !seen[strings.ToLower(d.key)] {
			missing = append(missing, d.key+" "+d.value)
		}
	}
	if len(missing) > 0 {
		idx := headerEnd(out)
		merged := make([]string, 0, len(out)+len(missing))
		merged = append(merged, out[:idx]...)
		merged = append(merged, missing...)
		merged = append(merged, out[idx:]...)
		out = merged
	}

	return strings.Join(out, "\n") + "\n"
}

// headerEnd returns the index just past the leading run of blank, comment
// and Include lines, where inserted directives take effect globally.
func headerEnd(lines []string) int {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if fields := strings.Fields(trimmed); len(fields) > 0 && strings.EqualFold(fields[0], "Include") {
			continue
		}
		return i
	}
	return len(lines)
}

// directiveKey extracts the lowercased directive name from a config line,
// looking through a leading comment marker so "#PasswordAuthentication yes"
// counts as an occurrence.
func directiveKey(line string) string {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "#")
	trimmed = strings.TrimSpace(trimmed)
	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return ""
	}
	return strings.ToLower(fields[0])
}
