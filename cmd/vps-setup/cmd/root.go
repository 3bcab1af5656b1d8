package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gookit/event"
	"github.com/spf13/cobra"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/events"
	"github.com/tetrixdev/vps-setup/internal/orchestrator"
	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/shared/errors"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
	"github.com/tetrixdev/vps-setup/internal/shell"
	"github.com/tetrixdev/vps-setup/internal/state"
)

var (
	flagPublic    bool
	flagPrivate   bool
	flagUser      string
	flagYes       bool
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

// rootCmd is the single entry point: running it converges the host.
var rootCmd = &cobra.Command{
	Use:   "vps-setup",
	Short: "Convert a fresh Ubuntu/Debian VPS into a secured Docker host",
	Long: `vps-setup converges a fresh Ubuntu or Debian server into a hardened
Docker host in one run: base packages, Docker with bounded logging,
SSH hardening, a sudo-capable non-root user, a deny-by-default firewall
that also covers published container ports, swap, and a login update
notice.

The first run commits the host to an exposure mode:

  --public   SSH, HTTP and HTTPS reachable from the internet
  --private  nothing reachable except over the Tailscale interface

The mode is recorded on the host and later runs must match it. Every
step is idempotent: re-running on a converged host changes nothing, and
a failed run can simply be re-executed after the cause is fixed.

Examples:
  # First run, committing the host to public exposure
  vps-setup --public

  # Private host reachable only over Tailscale, named user
  vps-setup --private --user deploy

  # Later runs reuse the committed mode
  vps-setup --yes`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runSetup(cmd))
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&flagPublic, "public", false, "commit the host to public exposure")
	rootCmd.Flags().BoolVar(&flagPrivate, "private", false, "commit the host to private (Tailscale-only) exposure")
	rootCmd.Flags().StringVar(&flagUser, "user", "", "managed username (default: reuse the existing non-root user)")
	rootCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to a configuration file")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&flagLogFormat, "log-format", "", "log format (text, json)")
	rootCmd.MarkFlagsMutuallyExclusive("public", "private")
}

func runSetup(cmd *cobra.Command) int {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	logCfg := cfg.Log
	if flagLogLevel != "" {
		logCfg.Level = logger.LogLevel(flagLogLevel)
	}
	if flagLogFormat != "" {
		logCfg.Format = logger.OutputFormat(flagLogFormat)
	}
	logCfg.Component = "vps-setup"
	logCfg.Version = Version
	log := logger.New(logCfg)

	req := buildRequest()

	bus := events.NewBus(log)
	orch := orchestrator.New(cfg, shell.NewExecRunner(), bus, log, Version)

	prep, err := orch.Prepare(ctx, req)
	if err != nil {
		printPreflightFailure(err)
		return 1
	}

	printPlan(prep.Plan)

	if !flagYes && !confirm(cmd.InOrStdin()) {
		fmt.Println("Aborted. Nothing was changed.")
		return 0
	}

	subscribeProgress(bus)

	result, err := orch.Apply(ctx, prep)
	if err != nil {
		log.ErrorCtx(ctx, "run failed", err)
		fmt.Fprintf(os.Stderr, "\nSetup failed: %v\n", err)
		fmt.Fprintln(os.Stderr, "Fix the cause and re-run; completed steps stay converged.")
		return 1
	}

	fmt.Printf("\nHost converged in %s.\n", result.Duration.Round(100*time.Millisecond))
	fmt.Printf("  Mode:     %s\n", result.Mode)
	fmt.Printf("  User:     %s\n", result.Username)
	fmt.Printf("  Connect:  %s\n", result.Endpoint)
	if result.Mode == state.ModePublic {
		fmt.Println("\nPorts 22, 80 and 443 are open to the internet; everything else is dropped.")
	} else {
		fmt.Println("\nThe host only answers over Tailscale. Keep that session alive.")
	}
	return 0
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if flagConfig != "" {
		return loader.LoadWithPath(flagConfig)
	}
	return loader.Load()
}

func buildRequest() preflight.Request {
	req := preflight.Request{Username: flagUser}
	switch {
	case flagPublic:
		req.Mode = state.ModePublic
	case flagPrivate:
		req.Mode = state.ModePrivate
	}
	return req
}

// printPlan shows what the run will do before anything changes.
func printPlan(plan *preflight.Plan) {
	fmt.Println("Planned setup:")
	if plan.ModeReused {
		fmt.Printf("  Mode:     %s (reusing the mode committed on this host)\n", plan.Mode)
	} else {
		fmt.Printf("  Mode:     %s\n", plan.Mode)
	}
	if plan.CreateUser {
		fmt.Printf("  User:     %s (will be created)\n", plan.Username)
	} else {
		fmt.Printf("  User:     %s (existing)\n", plan.Username)
	}
	if plan.Mode == state.ModePrivate {
		fmt.Printf("  Access:   Tailscale only (%s)\n", plan.TailscaleIPv4)
	} else {
		fmt.Println("  Access:   public (22, 80, 443)")
	}
	fmt.Println("\nThis hardens SSH, replaces firewall rules and restarts services.")
}

func confirm(in io.Reader) bool {
	fmt.Print("Proceed? [y/N]: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// subscribeProgress prints one line per reconciliation step.
func subscribeProgress(bus *events.Bus) {
	bus.SubscribeStepEvents(event.ListenerFunc(func(e event.Event) error {
		switch payload := e.Get("payload").(type) {
		case events.StepStartedEvent:
			fmt.Printf("[%d/%d] %s...\n", payload.Index, payload.Total, payload.Step)
		case events.StepFailedEvent:
			fmt.Printf("[%d/%d] %s failed: %s\n", payload.Index, payload.Total, payload.Step, payload.Error)
		}
		return nil
	}))
}

// printPreflightFailure maps validation errors to operator guidance.
func printPreflightFailure(err error) {
	switch errors.GetErrorCode(err) {
	case errors.ErrCodeModeRequired:
		fmt.Fprintln(os.Stderr, "This host has no committed mode yet. Pass --public or --private.")
	case errors.ErrCodeModeConflict:
		fmt.Fprintf(os.Stderr, "%v\n", err)
	case errors.ErrCodePermission:
		fmt.Fprintln(os.Stderr, "vps-setup must run as root.")
	case errors.ErrCodeUnsupportedPlatform:
		fmt.Fprintln(os.Stderr, "Only Ubuntu and Debian hosts are supported.")
	case errors.ErrCodeUsernameRequired:
		fmt.Fprintln(os.Stderr, "No existing non-root user found. Pass --user to name one.")
	case errors.ErrCodeNoAuthorizedKeys:
		fmt.Fprintln(os.Stderr, "Root has no valid SSH keys in authorized_keys. Add one before running: password logins are disabled by this setup.")
	case errors.ErrCodeTailscaleMissing:
		fmt.Fprintln(os.Stderr, "Private mode needs Tailscale installed and connected first.")
	case errors.ErrCodeTailscaleDisconnected:
		fmt.Fprintln(os.Stderr, "Tailscale is installed but not connected. Run 'tailscale up' first.")
	default:
		fmt.Fprintf(os.Stderr, "Preflight failed: %v\n", err)
	}
	if errors.IsPrecondition(err) {
		fmt.Fprintln(os.Stderr, "Nothing on the host was changed.")
	}
}
