package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stephnangue/bastion/config"
	"github.com/stephnangue/bastion/core"
	bastionhttp "github.com/stephnangue/bastion/http"
	"github.com/stephnangue/bastion/instance"
	log "github.com/stephnangue/bastion/logger"
	"github.com/stephnangue/bastion/physical/inmem"
)

var (
	configPath string
	flagDev    bool

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "Start a Bastion server that responds to API requests",
		Long: `
Usage: bastion server [options]

  This command starts a Bastion gateway. Start a server with a
  configuration file:

      $ bastion server --config=/etc/bastion/bastion.yaml

  Start a throwaway in-memory server with a provisioned dev tenant:

      $ bastion server --dev
`,
		RunE: run,
	}
)

func init() {
	ServerCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/bastion.yaml)")
	ServerCmd.Flags().BoolVar(&flagDev, "dev", false, "Run in dev mode with an in-memory dev tenant")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := log.NewZerologLogger(&log.Config{
		Level:      log.ParseLogLevel(cfg.Log.Level),
		LogFile:    cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Pretty:     cfg.Log.Pretty,
	})

	backend := inmem.NewInmemBackend(logger)
	defer backend.Close()

	c, err := core.NewCore(&core.CoreConfig{
		Backend:      backend,
		Logger:       logger,
		BearerSecret: []byte(cfg.Auth.JWTSecret),
		BearerIssuer: cfg.Auth.JWTIssuer,
		RouterConfig: &instance.RouterConfig{
			AutoStart:    cfg.Router.AutoStart,
			StartTimeout: cfg.Router.StartTimeout,
			StopTimeout:  cfg.Router.StopTimeout,
		},
	})
	if err != nil {
		return err
	}
	defer c.Shutdown()

	if flagDev {
		result, err := devModeInit(c)
		if err != nil {
			return err
		}
		printDevBanner(os.Stdout, cfg.Server.Address, result)
	}

	handler := bastionhttp.Handler(&bastionhttp.HandlerProperties{
		Core:   c,
		Logger: logger,
	})

	listener := bastionhttp.NewListener(bastionhttp.ListenerConfig{
		Logger:          logger,
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return listener.Start(ctx)
}
