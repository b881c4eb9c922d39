package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/shiftctl/internal/deploy"
)

// Settings mirrors deploy.Settings with TOML tags. Pointer fields stay nil
// when the file leaves them out, so lower layers can tell unset from false.
type Settings struct {
	SSHOpts        []string `toml:"ssh_opts"`
	Sudo           string   `toml:"sudo"`
	TempPath       string   `toml:"temp_path"`
	ConfirmTimeout *uint16  `toml:"confirm_timeout"`
	MagicRollback  *bool    `toml:"magic_rollback"`
	AutoRollback   *bool    `toml:"auto_rollback"`
}

// FleetConfig is the fleet TOML file: shared settings plus one entry per
// deployable node.
type FleetConfig struct {
	SSHUser  string       `toml:"ssh_user"`
	Settings Settings     `toml:"settings"`
	Nodes    []NodeConfig `toml:"nodes"`
}

type NodeConfig struct {
	Name     string          `toml:"name"`
	Hostname string          `toml:"hostname"`
	SSHUser  string          `toml:"ssh_user"`
	Settings Settings        `toml:"settings"`
	Profiles []ProfileConfig `toml:"profiles"`
}

type ProfileConfig struct {
	Name string `toml:"name"`
	// Path is the profile's closure path in the remote store.
	Path string `toml:"path"`
	// ProfilePath is the on-host profile location the closure is activated
	// into; defaults to /nix/var/nix/profiles/<name>.
	ProfilePath string   `toml:"profile_path"`
	Settings    Settings `toml:"settings"`
}

// EnvOverrides are process-level settings applied over every file-provided
// value, for CI wrappers that cannot edit the fleet file.
type EnvOverrides struct {
	SSHUser        string   `env:"SHIFTCTL_SSH_USER"`
	SSHOpts        []string `env:"SHIFTCTL_SSH_OPTS" envSeparator:" "`
	TempPath       string   `env:"SHIFTCTL_TEMP_PATH"`
	ConfirmTimeout *uint16  `env:"SHIFTCTL_CONFIRM_TIMEOUT"`
}

// LoadFleetConfig reads, validates, and env-overlays one fleet file.
func LoadFleetConfig(path string) (FleetConfig, error) {
	var cfg FleetConfig
	if err := loadToml(path, &cfg); err != nil {
		return FleetConfig{}, err
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return FleetConfig{}, err
	}
	if cfg.SSHUser == "" {
		cfg.SSHUser = "root"
	}
	if err := ValidateFleetConfig(cfg); err != nil {
		return FleetConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *FleetConfig) error {
	var overrides EnvOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("config env overrides: %w", err)
	}
	if overrides.SSHUser != "" {
		cfg.SSHUser = overrides.SSHUser
	}
	if len(overrides.SSHOpts) > 0 {
		cfg.Settings.SSHOpts = overrides.SSHOpts
	}
	if overrides.TempPath != "" {
		cfg.Settings.TempPath = overrides.TempPath
	}
	if overrides.ConfirmTimeout != nil {
		cfg.Settings.ConfirmTimeout = overrides.ConfirmTimeout
	}
	return nil
}

// ValidateFleetConfig enforces the fields the deploy core cannot default.
func ValidateFleetConfig(cfg FleetConfig) error {
	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("fleet config has no nodes")
	}
	seen := make(map[string]bool, len(cfg.Nodes))
	for i, node := range cfg.Nodes {
		if strings.TrimSpace(node.Name) == "" {
			return fmt.Errorf("node %d missing name", i)
		}
		if seen[node.Name] {
			return fmt.Errorf("duplicate node name %q", node.Name)
		}
		seen[node.Name] = true
		if strings.TrimSpace(node.Hostname) == "" {
			return fmt.Errorf("node %q missing hostname", node.Name)
		}
		if len(node.Profiles) == 0 {
			return fmt.Errorf("node %q has no profiles", node.Name)
		}
		profiles := make(map[string]bool, len(node.Profiles))
		for _, profile := range node.Profiles {
			if strings.TrimSpace(profile.Name) == "" {
				return fmt.Errorf("node %q has a profile without a name", node.Name)
			}
			if profiles[profile.Name] {
				return fmt.Errorf("node %q has duplicate profile %q", node.Name, profile.Name)
			}
			profiles[profile.Name] = true
			if strings.TrimSpace(profile.Path) == "" {
				return fmt.Errorf("profile %q on node %q missing closure path", profile.Name, node.Name)
			}
		}
	}
	return nil
}

// MergeSettings overlays over onto base field by field; nil/empty fields of
// over leave the base value in place.
func MergeSettings(base Settings, over Settings) Settings {
	out := base
	if len(over.SSHOpts) > 0 {
		out.SSHOpts = over.SSHOpts
	}
	if over.Sudo != "" {
		out.Sudo = over.Sudo
	}
	if over.TempPath != "" {
		out.TempPath = over.TempPath
	}
	if over.ConfirmTimeout != nil {
		out.ConfirmTimeout = over.ConfirmTimeout
	}
	if over.MagicRollback != nil {
		out.MagicRollback = over.MagicRollback
	}
	if over.AutoRollback != nil {
		out.AutoRollback = over.AutoRollback
	}
	return out
}

// ResolveTarget picks the node and profile named by target, either "node" for
// single-profile nodes or "node.profile".
func ResolveTarget(cfg FleetConfig, target string) (NodeConfig, ProfileConfig, error) {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return NodeConfig{}, ProfileConfig{}, fmt.Errorf("deployment target required (node or node.profile)")
	}

	nodeName := trimmed
	profileName := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		nodeName = trimmed[:idx]
		profileName = trimmed[idx+1:]
	}

	for _, node := range cfg.Nodes {
		if node.Name != nodeName {
			continue
		}
		if profileName == "" {
			if len(node.Profiles) != 1 {
				return NodeConfig{}, ProfileConfig{}, fmt.Errorf(
					"node %q has %d profiles, target must name one (node.profile)",
					nodeName, len(node.Profiles),
				)
			}
			return node, node.Profiles[0], nil
		}
		for _, profile := range node.Profiles {
			if profile.Name == profileName {
				return node, profile, nil
			}
		}
		return NodeConfig{}, ProfileConfig{}, fmt.Errorf("node %q has no profile %q", nodeName, profileName)
	}
	return NodeConfig{}, ProfileConfig{}, fmt.Errorf("unknown node %q", nodeName)
}

// DeployInputs assembles the read-only context consumed by the deploy core
// for one node/profile pair.
func DeployInputs(cfg FleetConfig, node NodeConfig, profile ProfileConfig, hostnameOverride string, debugLogs bool, logDir string) (deploy.DeployData, deploy.DeployDefs) {
	merged := MergeSettings(MergeSettings(cfg.Settings, node.Settings), profile.Settings)

	sshUser := cfg.SSHUser
	if node.SSHUser != "" {
		sshUser = node.SSHUser
	}

	profilePath := profile.ProfilePath
	if profilePath == "" {
		profilePath = fmt.Sprintf("/nix/var/nix/profiles/%s", profile.Name)
	}

	data := deploy.DeployData{
		Settings: deploy.Settings{
			SSHOpts:        merged.SSHOpts,
			Sudo:           merged.Sudo,
			TempPath:       merged.TempPath,
			ConfirmTimeout: merged.ConfirmTimeout,
			MagicRollback:  merged.MagicRollback,
			AutoRollback:   merged.AutoRollback,
		},
		NodeName:         node.Name,
		ProfileName:      profile.Name,
		Closure:          profile.Path,
		Hostname:         node.Hostname,
		HostnameOverride: hostnameOverride,
		DebugLogs:        debugLogs,
		LogDir:           logDir,
	}
	defs := deploy.DeployDefs{
		Sudo:        merged.Sudo,
		ProfilePath: profilePath,
		SSHUser:     sshUser,
	}
	return data, defs
}
