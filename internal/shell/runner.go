// Package shell is the single point through which the reconciliation core
// issues commands to the host's external subsystems (package manager,
// service manager, firewall engine, swap utilities, tailscale CLI). The
// subsystems themselves are treated as black boxes.
package shell

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/tetrixdev/vps-setup/internal/shared/errors"
)

// Runner executes host commands. Implementations must be safe for
// sequential reuse; concurrent use is not required anywhere.
type Runner interface {
	// Run executes a command, discarding its output on success. On failure
	// the returned error carries the command line and captured output.
	Run(ctx context.Context, name string, args ...string) error

	// Output executes a command and returns its trimmed stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)

	// LookPath reports the resolved path of a binary, or an error when it
	// is not installed.
	LookPath(name string) (string, error)
}

// ExecRunner runs commands on the local host via os/exec.
type ExecRunner struct {
	// Env entries appended to the inherited environment for every command,
	// e.g. DEBIAN_FRONTEND=noninteractive.
	Env []string
}

// NewExecRunner returns a runner suitable for unattended system mutation.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Env: []string{"DEBIAN_FRONTEND=noninteractive"},
	}
}

func (r *ExecRunner) cmd(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), r.Env...)
	return cmd
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := r.cmd(ctx, name, args...).CombinedOutput()
	if err != nil {
		return errors.NewSystemError(errors.ErrCodeCommandFailed,
			fmt.Sprintf("%s: %s", commandLine(name, args), strings.TrimSpace(string(out))), err)
	}
	return nil
}

func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := r.cmd(ctx, name, args...).Output()
	if err != nil {
		detail := commandLine(name, args)
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			detail += ": " + strings.TrimSpace(string(ee.Stderr))
		}
		return "", errors.NewSystemError(errors.ErrCodeCommandFailed, detail, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
