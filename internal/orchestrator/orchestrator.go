// Package orchestrator drives a bootstrap run: probe, validate, then the
// fixed reconciliation sequence. Validation is side-effect free so callers
// can show the resulting plan and ask for confirmation before anything on
// the host changes.
package orchestrator

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/events"
	"github.com/tetrixdev/vps-setup/internal/firewall"
	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/reconcile"
	"github.com/tetrixdev/vps-setup/internal/shared/errors"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
	"github.com/tetrixdev/vps-setup/internal/shell"
	"github.com/tetrixdev/vps-setup/internal/state"
)

// Reconciler is one unit of the convergence sequence. Implementations must
// be idempotent: converged state re-applies as a no-op.
type Reconciler interface {
	Name() string
	Reconcile(ctx context.Context, plan *preflight.Plan, facts *probe.Facts) error
}

// Preparation is the outcome of the read-only phase: the collected facts
// and the validated plan. Nothing on the host has changed yet.
type Preparation struct {
	Facts *probe.Facts
	Plan  *preflight.Plan
}

// Result summarizes a completed run.
type Result struct {
	RunID    string
	Mode     state.Mode
	Username string
	Endpoint string
	Duration time.Duration
}

// Orchestrator wires the probe, the validator, the reconcilers and the
// state store into one run.
type Orchestrator struct {
	cfg         *config.Config
	store       *state.Store
	prober      *probe.Prober
	validator   *preflight.Validator
	bus         *events.Bus
	log         *logger.Logger
	version     string
	euid        func() int
	reconcilers []Reconciler
}

// New builds an orchestrator with the standard reconciliation sequence.
// The order is fixed: packages before docker, docker and user before the
// firewall (group membership and iptables chains must exist), swap and the
// login notice last.
func New(cfg *config.Config, runner shell.Runner, bus *events.Bus, log *logger.Logger, version string) *Orchestrator {
	store := state.NewStore(cfg.StateDir)

	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		prober:    probe.New(cfg, runner),
		validator: preflight.New(store),
		bus:       bus,
		log:       log.WithComponent("orchestrator"),
		version:   version,
		euid:      os.Geteuid,
		reconcilers: []Reconciler{
			reconcile.NewPackages(cfg.Packages, runner, log),
			reconcile.NewDocker(cfg.Docker, runner, log),
			reconcile.NewSshd(cfg.SSH, runner, log),
			reconcile.NewUser(cfg.User, cfg.SSH, runner, log),
			firewall.NewReconciler(cfg.Firewall, runner, log),
			reconcile.NewSwap(cfg.Swap, runner, log),
			reconcile.NewNotice(cfg.Notice, store.VersionPath(), log),
		},
	}
}

// Store exposes the state store, for operator guidance in error messages.
func (o *Orchestrator) Store() *state.Store { return o.store }

// Prepare runs the read-only phase: collect facts, validate preconditions,
// resolve the mode. Any returned error means the host was not touched.
func (o *Orchestrator) Prepare(ctx context.Context, req preflight.Request) (*Preparation, error) {
	op := o.log.StartOp(ctx, "prepare")

	// Root is checked before probing: the probe itself reads root-owned
	// files, and a permission failure there would mask the real cause.
	if o.euid() != 0 {
		err := errors.ErrPermission
		op.Fail(err, "preflight validation failed")
		return nil, err
	}

	facts, err := o.prober.Collect(ctx)
	if err != nil {
		op.Fail(err, "probing host failed")
		return nil, err
	}
	o.log.DebugContext(ctx, "host probed", "facts", facts.Summary())

	plan, err := o.validator.Validate(facts, req)
	if err != nil {
		op.Fail(err, "preflight validation failed")
		return nil, err
	}

	if plan.ModeReused {
		o.log.InfoContext(ctx, "reusing committed mode", "mode", string(plan.Mode))
	}

	op.Complete("host validated",
		"mode", string(plan.Mode),
		"username", plan.Username,
		"create_user", plan.CreateUser)
	return &Preparation{Facts: facts, Plan: plan}, nil
}

// Apply runs the mutation phase over a validated preparation. The sequence
// halts at the first failing reconciler; converged steps stay converged and
// the run can simply be re-executed after the cause is fixed. The mode and
// version records are committed only after full convergence.
func (o *Orchestrator) Apply(ctx context.Context, prep *Preparation) (*Result, error) {
	runID := uuid.New().String()
	ctx = logger.WithRunID(ctx, runID)

	plan, facts := prep.Plan, prep.Facts
	total := len(o.reconcilers)
	started := time.Now()

	o.publish(ctx, o.bus.PublishRunStarted(runID, string(plan.Mode), plan.Username, total))
	op := o.log.StartOp(ctx, "apply", "mode", string(plan.Mode), "steps", total)

	for i, r := range o.reconcilers {
		index := i + 1
		stepCtx := logger.WithStep(ctx, r.Name())
		stepStarted := time.Now()

		o.publish(stepCtx, o.bus.PublishStepStarted(runID, r.Name(), index, total))
		o.log.InfoContext(stepCtx, "reconciling", "step", r.Name(), "index", index, "total", total)

		if err := r.Reconcile(stepCtx, plan, facts); err != nil {
			wrapped := errors.NewReconcileError(r.Name(), err)
			o.publish(stepCtx, o.bus.PublishStepFailed(runID, r.Name(), index, total, err))
			o.publish(stepCtx, o.bus.PublishRunFailed(runID, r.Name(), err))
			op.Fail(wrapped, "run halted", "step", r.Name())
			return nil, wrapped
		}

		o.publish(stepCtx, o.bus.PublishStepCompleted(runID, r.Name(), index, total, time.Since(stepStarted)))
	}

	if err := o.store.CommitMode(plan.Mode); err != nil {
		op.Fail(err, "committing mode record failed")
		return nil, err
	}
	if err := o.store.CommitVersion(o.version); err != nil {
		op.Fail(err, "committing version record failed")
		return nil, err
	}

	duration := time.Since(started)
	result := &Result{
		RunID:    runID,
		Mode:     plan.Mode,
		Username: plan.Username,
		Endpoint: plan.Endpoint(),
		Duration: duration,
	}

	o.publish(ctx, o.bus.PublishRunCompleted(runID, string(plan.Mode), result.Endpoint, duration))
	op.Complete("host converged", "mode", string(plan.Mode), "duration", duration)
	return result, nil
}

// publish downgrades event delivery failures to a warning; a broken
// listener must not abort a run that is mutating the host.
func (o *Orchestrator) publish(ctx context.Context, err error) {
	if err != nil {
		o.log.WarnContext(ctx, "event publish failed", "error", err)
	}
}

// Run is Prepare followed immediately by Apply, for non-interactive use.
func (o *Orchestrator) Run(ctx context.Context, req preflight.Request) (*Result, error) {
	prep, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Apply(ctx, prep)
}
