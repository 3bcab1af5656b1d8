package reconcile

import (
	"bytes"
	"context"
	"embed"
	"os"
	"text/template"

	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/shared/errors"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
)

//go:embed templates
var templatesFS embed.FS

// Notice installs the login-time update advisory script. The script itself
// is a pure side interface: it reads the persisted version record, asks the
// release endpoint at most once per interval, and prints a line. It carries
// no reconciliation responsibility.
type Notice struct {
	cfg         config.NoticeConfig
	versionPath string
	log         *logger.Logger
}

// noticeData feeds the script template.
type noticeData struct {
	VersionFile   string
	Endpoint      string
	IntervalHours int
}

// NewNotice creates the update-notice reconciler. versionPath is the
// state store's version record, which the rendered script reads.
func NewNotice(cfg config.NoticeConfig, versionPath string, log *logger.Logger) *Notice {
	return &Notice{cfg: cfg, versionPath: versionPath, log: log.WithComponent("notice")}
}

// Name implements the reconciler contract.
func (n *Notice) Name() string { return "notice" }

// Reconcile renders the script and writes it only when its content changed.
func (n *Notice) Reconcile(ctx context.Context, _ *preflight.Plan, _ *probe.Facts) error {
	tmpl, err := template.ParseFS(templatesFS, "templates/update-notice.sh.tmpl")
	if err != nil {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "parsing update-notice template", err)
	}

	var buf bytes.Buffer
	data := noticeData{
		VersionFile:   n.versionPath,
		Endpoint:      n.cfg.Endpoint,
		IntervalHours: n.cfg.IntervalHours,
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "rendering update-notice template", err)
	}

	existing, err := os.ReadFile(n.cfg.ScriptPath)
	if err == nil && bytes.Equal(existing, buf.Bytes()) {
		n.log.DebugContext(ctx, "update notice already converged")
		return nil
	}

	if err := os.WriteFile(n.cfg.ScriptPath, buf.Bytes(), 0o755); err != nil {
		return errors.NewSystemError(errors.ErrCodeReconcileFailed, "writing update-notice script", err)
	}
	n.log.InfoContext(ctx, "installed login update notice", "path", n.cfg.ScriptPath)
	return nil
}
