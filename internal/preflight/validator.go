// Package preflight turns probe facts and CLI intent into a validated,
// immutable Plan. Checks run in a fixed order and the first failure aborts
// before anything on the host is touched.
package preflight

import (
	"fmt"

	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/shared/errors"
	"github.com/tetrixdev/vps-setup/internal/state"
)

// Plan is the validated reconciliation target for one run. It is computed
// once and never modified afterwards.
type Plan struct {
	Mode     state.Mode
	Username string
	// ModeReused is true when the mode came from the persisted record
	// rather than a flag; callers surface this as a notice.
	ModeReused       bool
	CreateUser       bool
	TailscaleAllowed bool
	TailscaleIPv4    string
}

// Endpoint describes how the operator reaches the host after the run.
func (p *Plan) Endpoint() string {
	if p.Mode == state.ModePrivate {
		return fmt.Sprintf("ssh %s@%s (tailscale)", p.Username, p.TailscaleIPv4)
	}
	return fmt.Sprintf("ssh %s@<your server address>", p.Username)
}

// Request carries the operator's CLI intent into validation.
type Request struct {
	// Mode is empty when no mode flag was passed.
	Mode state.Mode
	// Username is empty when no explicit override was passed.
	Username string
}

// Validator decides whether a run may proceed.
type Validator struct {
	store *state.Store
}

// New creates a validator backed by the host's mode store.
func New(store *state.Store) *Validator {
	return &Validator{store: store}
}

// Validate runs the precondition checks in order and returns the Plan.
// It reads state but never writes it.
func (v *Validator) Validate(facts *probe.Facts, req Request) (*Plan, error) {
	if facts.EUID != 0 {
		return nil, errors.ErrPermission
	}

	if !facts.SupportedDistro() {
		return nil, errors.ErrUnsupportedPlatform
	}

	mode, err := v.store.ResolveMode(req.Mode)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Mode: mode, ModeReused: req.Mode == ""}

	// Private mode is only viable when the Tailscale path already works;
	// this check re-runs on every invocation even with a persisted mode.
	if mode == state.ModePrivate {
		if !facts.TailscaleInstalled {
			return nil, errors.ErrTailscaleMissing
		}
		if !facts.TailscaleConnected || facts.TailscaleIPv4 == "" {
			return nil, errors.ErrTailscaleDisconnected
		}
		plan.TailscaleIPv4 = facts.TailscaleIPv4
	}

	// Tailscale rules are harmless no-ops when the interface is absent, so
	// presence alone is enough to plan them in public mode too.
	plan.TailscaleAllowed = facts.TailscaleInstalled || mode == state.ModePrivate

	switch {
	case req.Username != "":
		plan.Username = req.Username
		plan.CreateUser = req.Username != facts.ExistingNonRootUser
	case facts.ExistingNonRootUser != "":
		plan.Username = facts.ExistingNonRootUser
	default:
		return nil, errors.ErrUsernameRequired
	}

	// Disabling password authentication with no key on file would be an
	// irreversible lockout; refuse before any mutation.
	if !facts.HasRootAuthorizedKeys {
		return nil, errors.ErrNoAuthorizedKeys
	}

	return plan, nil
}
