package preflight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/shared/errors"
	"github.com/tetrixdev/vps-setup/internal/state"
)

func healthyFacts() *probe.Facts {
	return &probe.Facts{
		DistroID:              "ubuntu",
		DistroCodename:        "noble",
		TailscaleInstalled:    true,
		TailscaleConnected:    true,
		TailscaleIPv4:         "100.64.0.7",
		HasRootAuthorizedKeys: true,
		ExistingNonRootUser:   "deploy",
		EUID:                  0,
	}
}

func newValidator(t *testing.T) (*Validator, *state.Store) {
	t.Helper()
	store := state.NewStore(t.TempDir())
	return New(store), store
}

func TestValidatePublicHappyPath(t *testing.T) {
	v, _ := newValidator(t)

	plan, err := v.Validate(healthyFacts(), Request{Mode: state.ModePublic})
	require.NoError(t, err)

	assert.Equal(t, state.ModePublic, plan.Mode)
	assert.Equal(t, "deploy", plan.Username)
	assert.False(t, plan.CreateUser)
	assert.True(t, plan.TailscaleAllowed)
	assert.Empty(t, plan.TailscaleIPv4)
}

func TestValidatePrivateHappyPath(t *testing.T) {
	v, _ := newValidator(t)

	plan, err := v.Validate(healthyFacts(), Request{Mode: state.ModePrivate})
	require.NoError(t, err)

	assert.Equal(t, state.ModePrivate, plan.Mode)
	assert.True(t, plan.TailscaleAllowed)
	assert.Equal(t, "100.64.0.7", plan.TailscaleIPv4)
	assert.Contains(t, plan.Endpoint(), "100.64.0.7")
}

func TestValidateRequiresRoot(t *testing.T) {
	v, _ := newValidator(t)
	facts := healthyFacts()
	facts.EUID = 1000

	_, err := v.Validate(facts, Request{Mode: state.ModePublic})
	assert.ErrorIs(t, err, errors.ErrPermission)
}

func TestValidateRejectsUnsupportedDistro(t *testing.T) {
	v, _ := newValidator(t)
	facts := healthyFacts()
	facts.DistroID = "arch"

	_, err := v.Validate(facts, Request{Mode: state.ModePublic})
	assert.ErrorIs(t, err, errors.ErrUnsupportedPlatform)
}

func TestValidateFreshHostWithoutModeFlag(t *testing.T) {
	v, _ := newValidator(t)

	_, err := v.Validate(healthyFacts(), Request{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeModeRequired, errors.GetErrorCode(err))
}

func TestValidateModeConflict(t *testing.T) {
	v, store := newValidator(t)
	require.NoError(t, store.CommitMode(state.ModePublic))

	_, err := v.Validate(healthyFacts(), Request{Mode: state.ModePrivate})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeModeConflict, errors.GetErrorCode(err))
}

func TestValidatePersistedModeReused(t *testing.T) {
	v, store := newValidator(t)
	require.NoError(t, store.CommitMode(state.ModePrivate))

	plan, err := v.Validate(healthyFacts(), Request{})
	require.NoError(t, err)
	assert.Equal(t, state.ModePrivate, plan.Mode)
	// Reuse is flagged so callers surface a notice instead of staying silent.
	assert.True(t, plan.ModeReused)
}

func TestValidateExplicitModeNotMarkedReused(t *testing.T) {
	v, store := newValidator(t)
	require.NoError(t, store.CommitMode(state.ModePrivate))

	plan, err := v.Validate(healthyFacts(), Request{Mode: state.ModePrivate})
	require.NoError(t, err)
	assert.False(t, plan.ModeReused)
}

func TestValidatePrivateRequiresTailscaleInstalled(t *testing.T) {
	v, _ := newValidator(t)
	facts := healthyFacts()
	facts.TailscaleInstalled = false
	facts.TailscaleConnected = false

	_, err := v.Validate(facts, Request{Mode: state.ModePrivate})
	assert.ErrorIs(t, err, errors.ErrTailscaleMissing)
}

func TestValidatePrivateRequiresTailscaleConnected(t *testing.T) {
	v, store := newValidator(t)
	// Persisted private mode: the connectivity check still re-runs each time.
	require.NoError(t, store.CommitMode(state.ModePrivate))
	facts := healthyFacts()
	facts.TailscaleConnected = false
	facts.TailscaleIPv4 = ""

	_, err := v.Validate(facts, Request{})
	assert.ErrorIs(t, err, errors.ErrTailscaleDisconnected)
}

func TestValidateUsernameOverride(t *testing.T) {
	v, _ := newValidator(t)

	plan, err := v.Validate(healthyFacts(), Request{Mode: state.ModePublic, Username: "ops"})
	require.NoError(t, err)
	assert.Equal(t, "ops", plan.Username)
	assert.True(t, plan.CreateUser)
}

func TestValidateUsernameRequired(t *testing.T) {
	v, _ := newValidator(t)
	facts := healthyFacts()
	facts.ExistingNonRootUser = ""

	_, err := v.Validate(facts, Request{Mode: state.ModePublic})
	assert.ErrorIs(t, err, errors.ErrUsernameRequired)
}

func TestValidateNoAuthorizedKeys(t *testing.T) {
	v, _ := newValidator(t)
	facts := healthyFacts()
	facts.HasRootAuthorizedKeys = false

	_, err := v.Validate(facts, Request{Mode: state.ModePublic})
	assert.ErrorIs(t, err, errors.ErrNoAuthorizedKeys)
}

func TestValidatePublicWithoutTailscale(t *testing.T) {
	v, _ := newValidator(t)
	facts := healthyFacts()
	facts.TailscaleInstalled = false
	facts.TailscaleConnected = false
	facts.TailscaleIPv4 = ""

	plan, err := v.Validate(facts, Request{Mode: state.ModePublic})
	require.NoError(t, err)
	assert.False(t, plan.TailscaleAllowed)
	assert.Contains(t, plan.Endpoint(), "<your server address>")
}
