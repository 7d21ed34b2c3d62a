package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fourks/sockethub/internal/sockethub/config"
	"github.com/fourks/sockethub/internal/sockethub/protocols"
	"github.com/fourks/sockethub/internal/sockethub/server"
	"github.com/fourks/sockethub/internal/sockethub/session"
	"github.com/fourks/sockethub/internal/sockethub/store"
)

type serveOptions struct {
	descriptors string
	cors        bool
	trace       bool
}

func newServeCmd() *cobra.Command {
	var opt serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the platforms listed in HOST.MY_PLATFORMS",
		Long: `Run the session subsystem for each platform this host serves.

A dispatcher announces its encryption key on the control channel and
workers ask for it before touching sessions. The admin API listens on
ADMIN.LISTEN until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opt)
		},
	}
	cmd.Flags().StringVar(&opt.descriptors, "descriptors", "", "Directory of platform descriptors (.json, .yaml)")
	cmd.Flags().BoolVar(&opt.cors, "cors", false, "Allow cross-origin admin requests")
	cmd.Flags().BoolVar(&opt.trace, "trace-routes", false, "Log the admin route table at startup")
	return cmd
}

func run(ctx context.Context, opt serveOptions) error {
	cfg, closeLog, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer closeLog()
	if cfg.ShowInfo {
		cfg.Summary(os.Stdout)
		return nil
	}

	slog := log.With().Str("state", "init").Str("instance_id", cfg.Session.InstanceID).Logger()

	registry := protocols.NewRegistry(cfg.Platforms)
	if opt.descriptors != "" {
		n, err := registry.LoadDir(opt.descriptors)
		if err != nil {
			return fmt.Errorf("loading platform descriptors: %w", err)
		}
		slog.Info().Int("count", n).Str("dir", opt.descriptors).Msg("platform descriptors loaded")
	}

	slog.Info().Str("backend", cfg.Store.Backend).Msg("opening shared store")
	shared, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening shared store: %w", err)
	}
	defer shared.Close()

	managers, err := startManagers(ctx, cfg, shared)
	defer func() {
		for _, m := range managers {
			if err := m.Close(); err != nil {
				log.Error().Err(err).Str("platform", m.Platform()).Msg("closing session manager")
			}
		}
	}()
	if err != nil {
		return err
	}

	serverErrors, shutdownAdmin, err := createAdminServer(ctx, cfg, server.Options{
		Managers:    managers,
		Store:       shared,
		Registry:    registry,
		HandleCORS:  opt.cors,
		Trace:       opt.trace,
		TokenSecret: []byte(cfg.Admin.TokenSecret),
	})
	if err != nil {
		return fmt.Errorf("creating admin server: %w", err)
	}

	// Channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("admin server error: %w", err)

	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		shutdownAdmin()
	}

	slog.Info().Msg("sockethub stopped")
	return nil
}

// startManagers builds a session manager per local platform. The dispatcher
// goes first so that workers started in the same process find its key.
// Worker platforms are skipped when NUM_WORKERS is 0.
func startManagers(ctx context.Context, cfg *config.Config, shared store.SharedStore) ([]*session.Manager, error) {
	platforms := make([]string, 0, len(cfg.Host.MyPlatforms))
	if cfg.Host.InitDispatcher {
		platforms = append(platforms, config.DispatcherPlatform)
	}
	for _, p := range cfg.Host.MyPlatforms {
		if p != config.DispatcherPlatform && cfg.Host.InitListener {
			platforms = append(platforms, p)
		}
	}

	var managers []*session.Manager
	for _, platform := range platforms {
		key := ""
		if platform == config.DispatcherPlatform {
			key = cfg.Session.EncKey
		}
		m, err := session.NewManager(session.Options{
			InstanceID: cfg.Session.InstanceID,
			Platform:   platform,
			EncKey:     key,
			Store:      shared,
			KeyTimeout: cfg.Session.GetKeyTimeout(),
		})
		if err != nil {
			return managers, fmt.Errorf("starting %s: %w", platform, err)
		}
		managers = append(managers, m)

		sub, err := m.Subsystem(ctx)
		if err != nil {
			return managers, fmt.Errorf("starting %s subsystem: %w", platform, err)
		}
		if platform == config.DispatcherPlatform {
			if err := sub.AnnounceKey(ctx); err != nil {
				return managers, fmt.Errorf("announcing encryption key: %w", err)
			}
			continue
		}
		if err := sub.RequestEncKey(ctx); err != nil {
			return managers, fmt.Errorf("%s waiting for the encryption key: %w", platform, err)
		}
		log.Info().Str("platform", platform).Msg("platform ready")
	}
	return managers, nil
}

func createAdminServer(ctx context.Context, cfg *config.Config, opts server.Options) (chan error, func(), error) {
	slog := log.With().Str("state", "init").Logger()
	s, err := server.CreateNewServer(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("creating server: %w", err)
	}
	s.MountHandlers()

	srv := &http.Server{
		Addr:              cfg.Admin.Listen,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info().Str("listen", cfg.Admin.Listen).Msg("admin server started")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := func() {
		// Give outstanding requests 5 seconds to complete and initiate the shutdown.
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error().Err(err).Msg("could not stop admin server gracefully")
			if err := srv.Close(); err != nil {
				slog.Error().Err(err).Msg("could not stop admin server")
			}
		}
	}

	return serverErrors, shutdown, nil
}
