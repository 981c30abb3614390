package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/xec/internal/adapter/docker"
	"github.com/danmuck/xec/internal/adapter/local"
	"github.com/danmuck/xec/internal/adapter/remotedocker"
	"github.com/danmuck/xec/internal/adapter/ssh"
	"github.com/danmuck/xec/internal/config"
	"github.com/danmuck/xec/internal/engine"
	"github.com/danmuck/xec/internal/inventory"
	"github.com/danmuck/xec/internal/logging"
	"github.com/danmuck/xec/internal/server"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.ConfigureRuntime()

	cfgPath := flag.String("config", "xec.toml", "path to daemon config")
	flag.Parse()

	cfg := config.DefaultConfig()
	if _, err := os.Stat(*cfgPath); err == nil {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatal().Err(err).Msg("config load failed")
		}
		cfg = loaded
	}

	var inv *inventory.Inventory
	if cfg.Inventory != "" {
		loaded, err := inventory.Load(cfg.Inventory)
		if err != nil {
			log.Fatal().Err(err).Msg("inventory load failed")
		}
		inv = loaded
	}

	eng := buildEngine(cfg)
	srv := server.New(cfg.Daemon, eng, inv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("daemon stopped with error")
	}
	if err := eng.Dispose(context.Background()); err != nil {
		log.Warn().Err(err).Msg("engine dispose failed")
	}
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
