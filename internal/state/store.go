// Package state owns the persisted per-host records: the committed exposure
// mode and the version of the last successful run. Both are single-token
// flat files so that shell collaborators (the login update notice) can read
// them; their names are stable across versions.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetrixdev/vps-setup/internal/shared/errors"
)

// Mode is the committed network-exposure policy for a host.
type Mode string

const (
	ModePublic  Mode = "public"
	ModePrivate Mode = "private"
)

// ParseMode converts a stored or requested token into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePublic:
		return ModePublic, nil
	case ModePrivate:
		return ModePrivate, nil
	default:
		return "", errors.NewModeError(errors.ErrCodeModeInvalid,
			fmt.Sprintf("unknown mode %q (want %q or %q)", s, ModePublic, ModePrivate), nil)
	}
}

const (
	modeFile    = "mode"
	versionFile = "version"
)

// Store persists and retrieves the on-disk host records.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created lazily
// on the first commit, never on load.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// ModePath returns the path of the mode record, for operator guidance.
func (s *Store) ModePath() string {
	return filepath.Join(s.dir, modeFile)
}

// VersionPath returns the path of the version record.
func (s *Store) VersionPath() string {
	return filepath.Join(s.dir, versionFile)
}

// LoadMode reads the committed mode. The second return is false when no
// mode has ever been committed.
func (s *Store) LoadMode() (Mode, bool, error) {
	raw, err := os.ReadFile(s.ModePath())
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewStateError(errors.ErrCodeStateIO, "reading mode record", err)
	}

	mode, perr := ParseMode(string(raw))
	if perr != nil {
		return "", false, errors.NewStateError(errors.ErrCodeStateIO,
			fmt.Sprintf("corrupt mode record at %s", s.ModePath()), perr)
	}
	return mode, true, nil
}

// ResolveMode implements the mode commitment rules: with no persisted mode a
// request is mandatory; with a persisted mode and no request the persisted
// value is reused; conflicting values are refused without mutation. The
// requested argument is empty when the operator passed no mode flag.
func (s *Store) ResolveMode(requested Mode) (Mode, error) {
	persisted, ok, err := s.LoadMode()
	if err != nil {
		return "", err
	}

	switch {
	case !ok && requested == "":
		return "", errors.ErrModeRequired
	case !ok:
		return requested, nil
	case requested == "" || requested == persisted:
		return persisted, nil
	default:
		return "", &errors.ModeConflictError{
			Stored:    string(persisted),
			Requested: string(requested),
			StatePath: s.ModePath(),
		}
	}
}

// CommitMode writes the mode record. Committing the already-stored value is
// a no-op; committing a different value is refused (ResolveMode is the only
// sanctioned decision point, this is the backstop).
func (s *Store) CommitMode(mode Mode) error {
	persisted, ok, err := s.LoadMode()
	if err != nil {
		return err
	}
	if ok {
		if persisted == mode {
			return nil
		}
		return &errors.ModeConflictError{
			Stored:    string(persisted),
			Requested: string(mode),
			StatePath: s.ModePath(),
		}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.NewStateError(errors.ErrCodeStateIO, "creating state directory", err)
	}
	if err := os.WriteFile(s.ModePath(), []byte(string(mode)+"\n"), 0o644); err != nil {
		return errors.NewStateError(errors.ErrCodeStateIO, "writing mode record", err)
	}
	return nil
}

// LoadVersion reads the version of the last successful run.
func (s *Store) LoadVersion() (string, bool, error) {
	raw, err := os.ReadFile(s.VersionPath())
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewStateError(errors.ErrCodeStateIO, "reading version record", err)
	}
	return strings.TrimSpace(string(raw)), true, nil
}

// CommitVersion records the version of a successful run. Unlike the mode
// record this is overwritten every time.
func (s *Store) CommitVersion(version string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.NewStateError(errors.ErrCodeStateIO, "creating state directory", err)
	}
	if err := os.WriteFile(s.VersionPath(), []byte(version+"\n"), 0o644); err != nil {
		return errors.NewStateError(errors.ErrCodeStateIO, "writing version record", err)
	}
	return nil
}
