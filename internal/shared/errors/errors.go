package errors

import (
	"errors"
	"fmt"
)

// DomainError is the base interface for all structured errors in the application
type DomainError interface {
	error

	// Domain returns the domain context (e.g., "preflight", "mode", "reconcile")
	Domain() string

	// Code returns a stable error code for operator-facing output
	Code() string

	// Metadata returns additional error context
	Metadata() map[string]any
}

// BaseError is the foundational implementation of DomainError
type BaseError struct {
	domain   string
	code     string
	message  string
	cause    error
	metadata map[string]any
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.domain, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.domain, e.code, e.message)
}

func (e *BaseError) Unwrap() error            { return e.cause }
func (e *BaseError) Domain() string           { return e.domain }
func (e *BaseError) Code() string             { return e.code }
func (e *BaseError) Metadata() map[string]any { return e.metadata }

// NewBaseError creates a new BaseError with the specified parameters
func NewBaseError(domain, code, message string, cause error, metadata map[string]any) *BaseError {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &BaseError{
		domain:   domain,
		code:     code,
		message:  message,
		cause:    cause,
		metadata: metadata,
	}
}

// Standardized Error Codes
const (
	// Preflight (precondition) errors. All of these surface before any
	// mutation and abort the run.
	ErrCodePermission            = "permission_denied"
	ErrCodeUnsupportedPlatform   = "unsupported_platform"
	ErrCodeUsernameRequired      = "username_required"
	ErrCodeNoAuthorizedKeys      = "no_authorized_keys"
	ErrCodeTailscaleMissing      = "tailscale_missing"
	ErrCodeTailscaleDisconnected = "tailscale_disconnected"

	// Mode resolution errors
	ErrCodeModeRequired = "mode_required"
	ErrCodeModeConflict = "mode_conflict"
	ErrCodeModeInvalid  = "mode_invalid"

	// Runtime errors
	ErrCodeProbeFailed     = "probe_failed"
	ErrCodeReconcileFailed = "reconcile_failed"
	ErrCodeStateIO         = "state_io_error"
	ErrCodeConfiguration   = "config_error"
	ErrCodeCommandFailed   = "command_failed"
)

// Domain Constants
const (
	DomainPreflight = "preflight"
	DomainMode      = "mode"
	DomainProbe     = "probe"
	DomainReconcile = "reconcile"
	DomainState     = "state"
	DomainSystem    = "system"
)

// Domain-specific error constructors

// NewPreflightError creates a standardized precondition error
func NewPreflightError(code, message string, cause error) DomainError {
	return NewBaseError(DomainPreflight, code, message, cause, nil)
}

// NewModeError creates a standardized mode-resolution error
func NewModeError(code, message string, cause error) DomainError {
	return NewBaseError(DomainMode, code, message, cause, nil)
}

// NewProbeError creates a standardized host-inspection error
func NewProbeError(code, message string, cause error) DomainError {
	return NewBaseError(DomainProbe, code, message, cause, nil)
}

// NewStateError creates a standardized persisted-state error
func NewStateError(code, message string, cause error) DomainError {
	return NewBaseError(DomainState, code, message, cause, nil)
}

// NewSystemError creates a standardized system error
func NewSystemError(code, message string, cause error) DomainError {
	return NewBaseError(DomainSystem, code, message, cause, nil)
}

// Sentinel preflight errors - pre-created for fast comparison
var (
	ErrPermission = NewPreflightError(ErrCodePermission,
		"this program must run as root", nil)
	ErrUnsupportedPlatform = NewPreflightError(ErrCodeUnsupportedPlatform,
		"unsupported distribution (Ubuntu/Debian only)", nil)
	ErrUsernameRequired = NewPreflightError(ErrCodeUsernameRequired,
		"no existing non-root user found, pass a username explicitly", nil)
	ErrNoAuthorizedKeys = NewPreflightError(ErrCodeNoAuthorizedKeys,
		"root has no authorized SSH keys; hardening would lock you out", nil)
	ErrTailscaleMissing = NewPreflightError(ErrCodeTailscaleMissing,
		"private mode requires tailscale to be installed", nil)
	ErrTailscaleDisconnected = NewPreflightError(ErrCodeTailscaleDisconnected,
		"private mode requires tailscale to be connected", nil)
	ErrModeRequired = NewModeError(ErrCodeModeRequired,
		"no mode committed for this host yet, pass --public or --private", nil)
)

// ModeConflictError reports a request to switch a host's committed mode.
// It names both values and the only sanctioned override.
type ModeConflictError struct {
	Stored    string
	Requested string
	StatePath string
}

func (e *ModeConflictError) Error() string {
	return fmt.Sprintf("[%s:%s] host is committed to %q mode but %q was requested; "+
		"switching modes is refused to avoid stranding you outside the firewall "+
		"(delete %s to deliberately re-commit)",
		DomainMode, ErrCodeModeConflict, e.Stored, e.Requested, e.StatePath)
}

func (e *ModeConflictError) Domain() string { return DomainMode }
func (e *ModeConflictError) Code() string   { return ErrCodeModeConflict }
func (e *ModeConflictError) Metadata() map[string]any {
	return map[string]any{"stored": e.Stored, "requested": e.Requested}
}

// ReconcileError wraps a failure in one reconciliation step. Prior steps are
// individually idempotent; the run halts here without rollback.
type ReconcileError struct {
	Step string
	Err  error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("[%s:%s] step %q failed: %v", DomainReconcile, ErrCodeReconcileFailed, e.Step, e.Err)
}

func (e *ReconcileError) Unwrap() error  { return e.Err }
func (e *ReconcileError) Domain() string { return DomainReconcile }
func (e *ReconcileError) Code() string   { return ErrCodeReconcileFailed }
func (e *ReconcileError) Metadata() map[string]any {
	return map[string]any{"step": e.Step}
}

// NewReconcileError wraps err with the failing step's name
func NewReconcileError(step string, err error) *ReconcileError {
	return &ReconcileError{Step: step, Err: err}
}

// Helper functions for error checking

// IsDomainError checks if an error is a DomainError
func IsDomainError(err error) bool {
	var de DomainError
	return errors.As(err, &de)
}

// GetErrorCode returns the error code if it's a DomainError, otherwise returns "unknown"
func GetErrorCode(err error) string {
	var de DomainError
	if errors.As(err, &de) {
		return de.Code()
	}
	return "unknown"
}

// GetErrorDomain returns the error domain if it's a DomainError, otherwise returns "unknown"
func GetErrorDomain(err error) string {
	var de DomainError
	if errors.As(err, &de) {
		return de.Domain()
	}
	return "unknown"
}

// IsErrorCode checks if any error in the chain has the specified code
func IsErrorCode(err error, code string) bool {
	for err != nil {
		var de DomainError
		if errors.As(err, &de) && de.Code() == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsPrecondition reports whether the error belongs to the preflight taxonomy:
// always fatal, always surfaced before any mutation.
func IsPrecondition(err error) bool {
	d := GetErrorDomain(err)
	return d == DomainPreflight || d == DomainMode
}
