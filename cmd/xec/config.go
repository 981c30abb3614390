package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// cliDefaults are per-user defaults for the run command, loaded from
// ~/.config/xec/cli.toml (or XEC_CLI_CONFIG). Explicit flags always win.
type cliDefaults struct {
	Target     string
	Inventory  string
	Shell      *bool
	Timeout    time.Duration
	Retries    *int
	RetryDelay time.Duration
	MaxDelay   time.Duration
	Jitter     *bool
	NoThrow    *bool
}

type cliDefaultsFile struct {
	Target     string `toml:"target"`
	Inventory  string `toml:"inventory"`
	Shell      bool   `toml:"shell"`
	Timeout    string `toml:"timeout"`
	Retries    int    `toml:"retries"`
	RetryDelay string `toml:"retry_delay"`
	MaxDelay   string `toml:"retry_max_delay"`
	Jitter     bool   `toml:"jitter"`
	NoThrow    bool   `toml:"nothrow"`
}

func cliDefaultsPath() string {
	if p := os.Getenv("XEC_CLI_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "xec", "cli.toml")
}

func loadCLIDefaults(path string) (cliDefaults, error) {
	var out cliDefaults
	if path == "" {
		return out, nil
	}
	if _, err := os.Stat(path); err != nil {
		return out, nil
	}

	var raw cliDefaultsFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliDefaults{}, fmt.Errorf("load cli defaults: %w", err)
	}

	if meta.IsDefined("target") {
		out.Target = strings.TrimSpace(raw.Target)
	}
	if meta.IsDefined("inventory") {
		out.Inventory = strings.TrimSpace(raw.Inventory)
	}
	if meta.IsDefined("shell") {
		out.Shell = &raw.Shell
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return cliDefaults{}, fmt.Errorf("parse timeout: %w", err)
		}
		out.Timeout = d
	}
	if meta.IsDefined("retries") {
		out.Retries = &raw.Retries
	}
	if meta.IsDefined("retry_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RetryDelay))
		if err != nil {
			return cliDefaults{}, fmt.Errorf("parse retry_delay: %w", err)
		}
		out.RetryDelay = d
	}
	if meta.IsDefined("retry_max_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.MaxDelay))
		if err != nil {
			return cliDefaults{}, fmt.Errorf("parse retry_max_delay: %w", err)
		}
		out.MaxDelay = d
	}
	if meta.IsDefined("jitter") {
		out.Jitter = &raw.Jitter
	}
	if meta.IsDefined("nothrow") {
		out.NoThrow = &raw.NoThrow
	}
	return out, nil
}

// applyCLIDefaults fills flags from the defaults file for everything the
// user did not set on the command line.
func applyCLIDefaults(cmd *cobra.Command, flags *runFlags, d cliDefaults) {
	changed := cmd.Flags().Changed
	if !changed("target") && d.Target != "" {
		flags.target = d.Target
	}
	if !changed("inventory") && d.Inventory != "" {
		flags.invPath = d.Inventory
	}
	if !changed("shell") && d.Shell != nil {
		flags.shell = *d.Shell
	}
	if !changed("timeout") && d.Timeout > 0 {
		flags.timeout = d.Timeout
	}
	if !changed("retries") && d.Retries != nil {
		flags.retries = *d.Retries
	}
	if !changed("retry-delay") && d.RetryDelay > 0 {
		flags.retryDelay = d.RetryDelay
	}
	if !changed("retry-max-delay") && d.MaxDelay > 0 {
		flags.maxDelay = d.MaxDelay
	}
	if !changed("jitter") && d.Jitter != nil {
		flags.jitter = *d.Jitter
	}
	if !changed("nothrow") && d.NoThrow != nil {
		flags.nothrow = *d.NoThrow
	}
}
