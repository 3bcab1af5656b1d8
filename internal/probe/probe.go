// Package probe inspects current host facts. All queries are read-only and
// gathered once per run into an immutable Facts snapshot; nothing is cached
// across runs.
package probe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/shared/errors"
	"github.com/tetrixdev/vps-setup/internal/shell"
)

// Facts is the per-run snapshot of host state the validator and the
// reconcilers consume.
type Facts struct {
	DistroID       string
	DistroCodename string

	TailscaleInstalled bool
	TailscaleConnected bool
	TailscaleIPv4      string

	HasRootAuthorizedKeys bool
	ExistingNonRootUser   string

	SwapPresent     bool
	DockerInstalled bool

	EUID int
}

// SupportedDistro reports whether the host runs a supported family.
func (f *Facts) SupportedDistro() bool {
	return f.DistroID == "ubuntu" || f.DistroID == "debian"
}

// Prober gathers host facts through the command runner and the filesystem.
type Prober struct {
	cfg    config.ProbeConfig
	ssh    config.SSHConfig
	runner shell.Runner
}

// New creates a prober.
func New(cfg *config.Config, runner shell.Runner) *Prober {
	return &Prober{cfg: cfg.Probe, ssh: cfg.SSH, runner: runner}
}

// Collect builds the Facts snapshot for this run.
func (p *Prober) Collect(ctx context.Context) (*Facts, error) {
	facts := &Facts{EUID: os.Geteuid()}

	if err := p.collectDistro(facts); err != nil {
		return nil, err
	}
	p.collectTailscale(ctx, facts)
	p.collectDocker(facts)

	var err error
	facts.HasRootAuthorizedKeys, err = p.hasAuthorizedKeys()
	if err != nil {
		return nil, err
	}

	facts.ExistingNonRootUser, err = p.firstNonRootUser()
	if err != nil {
		return nil, err
	}

	facts.SwapPresent, err = p.swapPresent()
	if err != nil {
		return nil, err
	}

	return facts, nil
}

func (p *Prober) collectDistro(facts *Facts) error {
	file, err := os.Open(p.cfg.OSReleasePath)
	if err != nil {
		return errors.NewProbeError(errors.ErrCodeProbeFailed, "reading os-release", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "ID":
			facts.DistroID = value
		case "VERSION_CODENAME":
			facts.DistroCodename = value
		}
	}
	return scanner.Err()
}

func (p *Prober) collectTailscale(ctx context.Context, facts *Facts) {
	if _, err := p.runner.LookPath("tailscale"); err != nil {
		return
	}
	facts.TailscaleInstalled = true

	// "tailscale ip -4" fails when the daemon is down or logged out, which
	// counts as disconnected here, not as a probe failure.
	out, err := p.runner.Output(ctx, "tailscale", "ip", "-4")
	if err != nil || out == "" {
		return
	}
	facts.TailscaleConnected = true
	facts.TailscaleIPv4 = strings.Fields(out)[0]
}

func (p *Prober) collectDocker(facts *Facts) {
	if _, err := p.runner.LookPath("docker"); err == nil {
		facts.DockerInstalled = true
	}
}

func (p *Prober) hasAuthorizedKeys() (bool, error) {
	raw, err := os.ReadFile(p.ssh.RootAuthorizedKeys)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.NewProbeError(errors.ErrCodeProbeFailed, "reading root authorized keys", err)
	}

	return len(ValidAuthorizedKeys(raw)) > 0, nil
}

// ValidAuthorizedKeys returns the lines of an authorized_keys file that
// parse as real public keys, preserving order.
func ValidAuthorizedKeys(raw []byte) []string {
	var keys []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line)); err == nil {
			keys = append(keys, line)
		}
	}
	return keys
}

const (
	minRegularUID = 1000
	nobodyUID     = 65534
)

// firstNonRootUser returns the first regular user from the passwd database:
// UID >= 1000, not nobody, and a real login shell.
func (p *Prober) firstNonRootUser() (string, error) {
	file, err := os.Open(p.cfg.PasswdPath)
	if err != nil {
		return "", errors.NewProbeError(errors.ErrCodeProbeFailed, "reading passwd database", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ":")
		if len(fields) < 7 {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		loginShell := fields[6]
		if uid < minRegularUID || uid == nobodyUID ||
			strings.HasSuffix(loginShell, "nologin") || strings.HasSuffix(loginShell, "false") {
			continue
		}
		return fields[0], nil
	}
	return "", scanner.Err()
}

func (p *Prober) swapPresent() (bool, error) {
	raw, err := os.ReadFile(p.cfg.SwapsPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.NewProbeError(errors.ErrCodeProbeFailed, "reading swaps table", err)
	}

	// First line is the header; any further non-empty line is a swap device.
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	return len(lines) > 1, nil
}

// Summary renders a one-line description for logs.
func (f *Facts) Summary() string {
	return fmt.Sprintf("distro=%s/%s tailscale=%t connected=%t user=%q rootkeys=%t swap=%t docker=%t",
		f.DistroID, f.DistroCodename, f.TailscaleInstalled, f.TailscaleConnected,
		f.ExistingNonRootUser, f.HasRootAuthorizedKeys, f.SwapPresent, f.DockerInstalled)
}
