package reconcile

import (
	"github.com/tetrixdev/vps-setup/internal/preflight"
	"github.com/tetrixdev/vps-setup/internal/probe"
	"github.com/tetrixdev/vps-setup/internal/shared/logger"
	"github.com/tetrixdev/vps-setup/internal/state"
)

func testLogger() *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.LevelError
	return logger.New(cfg)
}

func testPlan() *preflight.Plan {
	return &preflight.Plan{
		Mode:             state.ModePublic,
		Username:         "deploy",
		TailscaleAllowed: false,
	}
}

func testFacts() *probe.Facts {
	return &probe.Facts{
		DistroID:              "ubuntu",
		DistroCodename:        "noble",
		HasRootAuthorizedKeys: true,
		ExistingNonRootUser:   "deploy",
	}
}
