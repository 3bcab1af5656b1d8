package config

import (
	"fmt"
	"net"

	"github.com/spf13/viper"

	"github.com/tetrixdev/vps-setup/internal/shared/errors"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// Load loads configuration from defaults, an optional config file and
// environment variables, in increasing priority.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()
	l.setupConfigPaths()
	l.setupEnvVars()

	// Config file is optional
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.NewSystemError(errors.ErrCodeConfiguration, "error reading config file", err)
		}
	}

	return l.unmarshal()
}

// LoadWithPath loads configuration from a specific file path.
func (l *Loader) LoadWithPath(path string) (*Config, error) {
	l.setDefaults()
	l.setupEnvVars()
	l.v.SetConfigFile(path)

	if err := l.v.ReadInConfig(); err != nil {
		return nil, errors.NewSystemError(errors.ErrCodeConfiguration,
			fmt.Sprintf("error reading config file %s", path), err)
	}

	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewSystemError(errors.ErrCodeConfiguration, "failed to unmarshal config", err)
	}

	if err := l.validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. The path defaults are the
// stable on-disk layout; renaming any of them breaks upgrades.
func (l *Loader) setDefaults() {
	l.v.SetDefault("state_dir", "/etc/vps-setup")

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "text")

	l.v.SetDefault("packages.base", []string{
		"ca-certificates", "curl", "iptables", "iptables-persistent",
		"openssh-server", "unattended-upgrades",
	})

	l.v.SetDefault("docker.daemon_config_path", "/etc/docker/daemon.json")
	l.v.SetDefault("docker.log_max_size", "10m")
	l.v.SetDefault("docker.log_max_file", 3)

	l.v.SetDefault("ssh.config_path", "/etc/ssh/sshd_config")
	l.v.SetDefault("ssh.backup_path", "/etc/ssh/sshd_config.vps-setup.orig")
	l.v.SetDefault("ssh.root_authorized_keys", "/root/.ssh/authorized_keys")
	l.v.SetDefault("ssh.service", "ssh")

	l.v.SetDefault("user.home_root", "/home")
	l.v.SetDefault("user.shell", "/bin/bash")
	l.v.SetDefault("user.groups", []string{"sudo", "docker"})
	l.v.SetDefault("user.sudoers_dir", "/etc/sudoers.d")

	l.v.SetDefault("firewall.docker_subnet", "172.16.0.0/12")
	l.v.SetDefault("firewall.docker_interface", "docker0")
	l.v.SetDefault("firewall.bridge_pattern", "br-+")
	l.v.SetDefault("firewall.tailscale_interface", "tailscale0")
	l.v.SetDefault("firewall.tailscale_port", 41641)
	l.v.SetDefault("firewall.public_tcp_ports", []int{22, 80, 443})
	l.v.SetDefault("firewall.public_container_tcp_ports", []int{80, 443})

	l.v.SetDefault("swap.file_path", "/swapfile")
	l.v.SetDefault("swap.size_mb", 2048)
	l.v.SetDefault("swap.swappiness", 10)
	l.v.SetDefault("swap.fstab_path", "/etc/fstab")
	l.v.SetDefault("swap.sysctl_path", "/etc/sysctl.d/99-vps-setup.conf")

	l.v.SetDefault("notice.script_path", "/etc/profile.d/vps-setup-notice.sh")
	l.v.SetDefault("notice.endpoint", "https://raw.githubusercontent.com/tetrixdev/vps-setup/main/VERSION")
	l.v.SetDefault("notice.interval_hours", 24)

	l.v.SetDefault("probe.os_release_path", "/etc/os-release")
	l.v.SetDefault("probe.passwd_path", "/etc/passwd")
	l.v.SetDefault("probe.swaps_path", "/proc/swaps")
}

// setupConfigPaths configures where to search for config files.
func (l *Loader) setupConfigPaths() {
	l.v.SetConfigName("vps-setup")
	l.v.SetConfigType("yaml")
	l.v.AddConfigPath("/etc/vps-setup")
	l.v.AddConfigPath(".")
}

// setupEnvVars configures environment variable handling.
func (l *Loader) setupEnvVars() {
	l.v.SetEnvPrefix("VPS_SETUP")
	l.v.AutomaticEnv()
}

// validate validates the configuration.
func (l *Loader) validate(cfg *Config) error {
	if cfg.StateDir == "" {
		return errors.NewSystemError(errors.ErrCodeConfiguration, "state_dir is required", nil)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.NewSystemError(errors.ErrCodeConfiguration,
			fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", cfg.Log.Level), nil)
	}

	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return errors.NewSystemError(errors.ErrCodeConfiguration,
			fmt.Sprintf("invalid log.format: %s (must be text or json)", cfg.Log.Format), nil)
	}

	if _, _, err := net.ParseCIDR(cfg.Firewall.DockerSubnet); err != nil {
		return errors.NewSystemError(errors.ErrCodeConfiguration,
			fmt.Sprintf("invalid firewall.docker_subnet: %s", cfg.Firewall.DockerSubnet), err)
	}

	ports := append([]int{cfg.Firewall.TailscalePort}, cfg.Firewall.PublicTCPPorts...)
	ports = append(ports, cfg.Firewall.PublicContainerPorts...)
	for _, port := range ports {
		if port < 1 || port > 65535 {
			return errors.NewSystemError(errors.ErrCodeConfiguration,
				fmt.Sprintf("invalid firewall port: %d", port), nil)
		}
	}

	if cfg.Swap.SizeMB < 1 {
		return errors.NewSystemError(errors.ErrCodeConfiguration, "swap.size_mb must be at least 1", nil)
	}

	if cfg.Swap.Swappiness < 0 || cfg.Swap.Swappiness > 200 {
		return errors.NewSystemError(errors.ErrCodeConfiguration,
			fmt.Sprintf("swap.swappiness out of range: %d", cfg.Swap.Swappiness), nil)
	}

	if cfg.Docker.LogMaxFile < 1 {
		return errors.NewSystemError(errors.ErrCodeConfiguration, "docker.log_max_file must be at least 1", nil)
	}

	if cfg.Notice.IntervalHours < 1 {
		return errors.NewSystemError(errors.ErrCodeConfiguration, "notice.interval_hours must be at least 1", nil)
	}

	return nil
}
