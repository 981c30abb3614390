package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danmuck/xec/internal/adapter/docker"
	"github.com/danmuck/xec/internal/adapter/local"
	"github.com/danmuck/xec/internal/adapter/remotedocker"
	"github.com/danmuck/xec/internal/adapter/ssh"
	"github.com/danmuck/xec/internal/config"
	"github.com/danmuck/xec/internal/engine"
	"github.com/danmuck/xec/internal/inventory"
	"github.com/spf13/cobra"
)

type runFlags struct {
	configPath string
	invPath    string
	target     string
	shell      bool
	cwd        string
	env        []string
	stdin      bool
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	maxDelay   time.Duration
	jitter     bool
	nothrow    bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Execute a command against a target",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, flags, args)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "xec.toml", "engine config file")
	cmd.Flags().StringVar(&flags.invPath, "inventory", "", "inventory file (overrides config)")
	cmd.Flags().StringVarP(&flags.target, "target", "t", "", "named target from the inventory (default: local)")
	cmd.Flags().BoolVarP(&flags.shell, "shell", "s", false, "run the command through /bin/sh -c")
	cmd.Flags().StringVar(&flags.cwd, "cwd", "", "working directory")
	cmd.Flags().StringArrayVarP(&flags.env, "env", "e", nil, "environment entries KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&flags.stdin, "stdin", false, "forward stdin to the command")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "per-attempt timeout")
	cmd.Flags().IntVar(&flags.retries, "retries", 0, "retry a failing command this many times")
	cmd.Flags().DurationVar(&flags.retryDelay, "retry-delay", 250*time.Millisecond, "initial retry delay")
	cmd.Flags().DurationVar(&flags.maxDelay, "retry-max-delay", 5*time.Second, "retry delay cap")
	cmd.Flags().BoolVar(&flags.jitter, "jitter", true, "randomize retry delays")
	cmd.Flags().BoolVar(&flags.nothrow, "nothrow", false, "always exit 0, report the command status on stdout only")
	return cmd
}

func runCommand(cmd *cobra.Command, flags runFlags, args []string) error {
	defaults, err := loadCLIDefaults(cliDefaultsPath())
	if err != nil {
		return err
	}
	applyCLIDefaults(cmd, &flags, defaults)

	cfg := loadConfigOrDefaults(flags.configPath)

	target, err := resolveTarget(cfg, flags)
	if err != nil {
		return err
	}

	stdin := ""
	if flags.stdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		stdin = string(data)
	}

	env, err := parseEnv(flags.env)
	if err != nil {
		return err
	}

	eng := buildEngine(cfg)
	defer func() { _ = eng.Dispose(cmd.Context()) }()

	exec := engine.Command{
		Command: args[0],
		Args:    args[1:],
		Cwd:     flags.cwd,
		Env:     env,
		Stdin:   stdin,
		Shell:   flags.shell,
		Timeout: flags.timeout,
		NoThrow: true,
		Target:  target,
	}
	if flags.retries > 0 {
		exec.Retry = &engine.RetryPolicy{
			MaxRetries:   flags.retries,
			InitialDelay: flags.retryDelay,
			MaxDelay:     flags.maxDelay,
			Jitter:       flags.jitter,
		}
	}

	res, err := eng.Execute(cmd.Context(), exec)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
	fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
	if flags.nothrow || res.ExitCode == 0 {
		return nil
	}
	return exitCodeError{code: res.ExitCode}
}

func loadConfigOrDefaults(path string) config.Config {
	if _, err := os.Stat(path); err != nil {
		return config.DefaultConfig()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

func resolveTarget(cfg config.Config, flags runFlags) (engine.Target, error) {
	if flags.target == "" {
		return engine.LocalTarget{}, nil
	}
	path := flags.invPath
	if path == "" {
		path = cfg.Inventory
	}
	if path == "" {
		return nil, fmt.Errorf("--target %q needs an inventory file", flags.target)
	}
	inv, err := inventory.Load(path)
	if err != nil {
		return nil, err
	}
	return inv.Resolve(flags.target)
}

func parseEnv(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed env entry %q, want KEY=VALUE", entry)
		}
		env[key] = value
	}
	return env, nil
}

func buildEngine(cfg config.Config) *engine.Engine {
	sshAdapter := ssh.New(ssh.PoolConfig{
		MaxConnections: cfg.Pool.MaxConnections,
		IdleTimeout:    cfg.Pool.IdleTimeoutDuration(),
		KeepAlive:      cfg.Pool.KeepAlive,
	})
	eng := engine.New()
	eng.RegisterAdapter(engine.TypeLocal, local.New())
	eng.RegisterAdapter(engine.TypeDocker, docker.New())
	eng.RegisterAdapter(engine.TypeSSH, sshAdapter)
	eng.RegisterAdapter(engine.TypeRemoteDocker, remotedocker.New(sshAdapter))
	if p := cfg.Retry.Policy(); p != nil {
		eng = eng.WithRetry(*p)
	}
	return eng
}
