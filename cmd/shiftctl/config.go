package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/shiftctl/internal/config"
)

// shiftctl overlay.toml key mapping onto fleet-wide settings.
type overlayConfig struct {
	SSHUser        string   `toml:"ssh_user"`
	SSHOpts        []string `toml:"ssh_opts"`
	Sudo           string   `toml:"sudo"`
	TempPath       string   `toml:"temp_path"`
	ConfirmTimeout uint16   `toml:"confirm_timeout"`
	MagicRollback  bool     `toml:"magic_rollback"`
	AutoRollback   bool     `toml:"auto_rollback"`
}

// applyOverlay layers an operator overlay file over the loaded fleet config.
// Only keys present in the file are applied, so magic_rollback = false is
// distinguishable from the key being absent.
func applyOverlay(cfg config.FleetConfig, path string) (config.FleetConfig, error) {
	var raw overlayConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.FleetConfig{}, fmt.Errorf("load overlay: %w", err)
	}

	if meta.IsDefined("ssh_user") {
		cfg.SSHUser = strings.TrimSpace(raw.SSHUser)
	}
	if meta.IsDefined("ssh_opts") {
		cfg.Settings.SSHOpts = raw.SSHOpts
	}
	if meta.IsDefined("sudo") {
		cfg.Settings.Sudo = strings.TrimSpace(raw.Sudo)
	}
	if meta.IsDefined("temp_path") {
		cfg.Settings.TempPath = strings.TrimSpace(raw.TempPath)
	}
	if meta.IsDefined("confirm_timeout") {
		v := raw.ConfirmTimeout
		cfg.Settings.ConfirmTimeout = &v
	}
	if meta.IsDefined("magic_rollback") {
		v := raw.MagicRollback
		cfg.Settings.MagicRollback = &v
	}
	if meta.IsDefined("auto_rollback") {
		v := raw.AutoRollback
		cfg.Settings.AutoRollback = &v
	}
	return cfg, nil
}
