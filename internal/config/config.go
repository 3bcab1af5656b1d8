package config

import "github.com/tetrixdev/vps-setup/internal/shared/logger"

// Config is the full runtime configuration. Every path the reconcilers
// touch is configurable so tests can redirect them into a temp root; the
// defaults are the stable on-disk contract.
type Config struct {
	// StateDir holds the mode and version records. The file names inside it
	// never change across versions.
	StateDir string `mapstructure:"state_dir"`

	Log      logger.Config  `mapstructure:"log"`
	Packages PackagesConfig `mapstructure:"packages"`
	Docker   DockerConfig   `mapstructure:"docker"`
	SSH      SSHConfig      `mapstructure:"ssh"`
	User     UserConfig     `mapstructure:"user"`
	Firewall FirewallConfig `mapstructure:"firewall"`
	Swap     SwapConfig     `mapstructure:"swap"`
	Notice   NoticeConfig   `mapstructure:"notice"`
	Probe    ProbeConfig    `mapstructure:"probe"`
}

// PackagesConfig lists the base tooling the host must carry.
type PackagesConfig struct {
	Base []string `mapstructure:"base"`
}

// DockerConfig controls engine installation and logging bounds.
type DockerConfig struct {
	DaemonConfigPath string `mapstructure:"daemon_config_path"`
	// LogMaxSize and LogMaxFile cap the per-container log footprint at
	// size x files.
	LogMaxSize string `mapstructure:"log_max_size"`
	LogMaxFile int    `mapstructure:"log_max_file"`
}

// SSHConfig locates the daemon configuration and root's key file.
type SSHConfig struct {
	ConfigPath         string `mapstructure:"config_path"`
	BackupPath         string `mapstructure:"backup_path"`
	RootAuthorizedKeys string `mapstructure:"root_authorized_keys"`
	Service            string `mapstructure:"service"`
}

// UserConfig controls managed-user creation and access grants.
type UserConfig struct {
	HomeRoot   string   `mapstructure:"home_root"`
	Shell      string   `mapstructure:"shell"`
	Groups     []string `mapstructure:"groups"`
	SudoersDir string   `mapstructure:"sudoers_dir"`
}

// FirewallConfig parameterizes rule derivation and persistence.
type FirewallConfig struct {
	// DockerSubnet is the fixed bridge address range referenced by the
	// FORWARD and DOCKER-USER rules. Kept fixed rather than queried from
	// the engine; see DESIGN.md.
	DockerSubnet       string `mapstructure:"docker_subnet"`
	DockerInterface    string `mapstructure:"docker_interface"`
	BridgePattern      string `mapstructure:"bridge_pattern"`
	TailscaleInterface string `mapstructure:"tailscale_interface"`
	TailscalePort      int    `mapstructure:"tailscale_port"`
	PublicTCPPorts     []int  `mapstructure:"public_tcp_ports"`
	// PublicContainerPorts are the container-bound TCP ports allowed through
	// DOCKER-USER in public mode.
	PublicContainerPorts []int `mapstructure:"public_container_tcp_ports"`
}

// SwapConfig controls swap allocation and tuning.
type SwapConfig struct {
	FilePath   string `mapstructure:"file_path"`
	SizeMB     int    `mapstructure:"size_mb"`
	Swappiness int    `mapstructure:"swappiness"`
	FstabPath  string `mapstructure:"fstab_path"`
	SysctlPath string `mapstructure:"sysctl_path"`
}

// NoticeConfig controls the login-time update notice script.
type NoticeConfig struct {
	ScriptPath    string `mapstructure:"script_path"`
	Endpoint      string `mapstructure:"endpoint"`
	IntervalHours int    `mapstructure:"interval_hours"`
}

// ProbeConfig locates the read-only host facts sources.
type ProbeConfig struct {
	OSReleasePath string `mapstructure:"os_release_path"`
	PasswdPath    string `mapstructure:"passwd_path"`
	SwapsPath     string `mapstructure:"swaps_path"`
}
