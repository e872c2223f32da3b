package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smccarney/pldm/internal/dbus"
	"github.com/smccarney/pldm/internal/entity"
	"github.com/smccarney/pldm/internal/eventloop"
	"github.com/smccarney/pldm/internal/events"
	"github.com/smccarney/pldm/internal/hostpdr"
	"github.com/smccarney/pldm/internal/mctp"
	"github.com/smccarney/pldm/internal/metrics"
	"github.com/smccarney/pldm/internal/pdr"
	"github.com/smccarney/pldm/internal/pdrstore"
	"github.com/smccarney/pldm/internal/platform"
	"github.com/smccarney/pldm/internal/requester"
	"github.com/smccarney/pldm/internal/status"
	"github.com/smccarney/pldm/pkg/config"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
}

// loadConfig loads the configuration named by --config or found in the
// standard locations and applies its log settings.
func loadConfig() (*config.Config, error) {
	configFile := cfgFile
	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	} else {
		configFile = config.FindConfigFile(config.ServiceName)
	}
	envFile := config.FindEnvFile(config.ServiceName)

	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		return nil, err
	}
	cfg.Log.ConfigureZerolog()
	log.Info().
		Str("config_file", configFile).
		Str("env_file", envFile).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")
	return cfg, nil
}

func loadBMCTree(path string) (*entity.Tree, error) {
	if path == "" {
		return entity.NewTree(), nil
	}
	tree, err := entity.LoadTree(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("No BMC entity tree, starting empty")
		return entity.NewTree(), nil
	}
	return tree, err
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tree, err := loadBMCTree(cfg.PDR.BMCTree)
	if err != nil {
		return err
	}
	eventDefs, err := events.LoadDir(cfg.PDR.EventDir)
	if err != nil {
		return err
	}
	parents, err := hostpdr.LoadHostFRUParents(cfg.PDR.HostFRUParents)
	if err != nil {
		return err
	}
	notifyFormat, err := cfg.PDR.Format()
	if err != nil {
		return err
	}

	transport, err := mctp.Dial(ctx, cfg.Transport.Socket)
	if err != nil {
		return err
	}
	defer transport.Close()

	var (
		publisher dbus.Publisher
		hostState dbus.HostState
		bus       *dbus.Bus
	)
	bus, err = dbus.ConnectSystemBus()
	if err != nil {
		log.Warn().Err(err).Msg("System bus unavailable, recording properties in memory")
		rec := dbus.NewRecorder()
		publisher, hostState = rec, rec
	} else {
		defer bus.Close()
		publisher, hostState = bus, bus
	}

	var store *pdrstore.Store
	deps := hostpdr.Deps{
		Tree:      tree,
		Events:    eventDefs,
		Publisher: publisher,
		HostState: hostState,
		Parents:   parents,
	}
	if cfg.Store.Enabled {
		store, err = pdrstore.New(cfg.Store.Path, pdrstore.WithDebug(cfg.Store.Debug))
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Store = store
	}

	loop := eventloop.New()
	req := requester.NewHandler(loop, transport, requester.NewInstanceIDs(), requester.Options{
		Timeout: cfg.Host.Timeout,
		Retries: cfg.Host.Retries,
		Verbose: cfg.Log.Verbose,
	})
	repo := pdr.NewRepo()
	deps.Loop, deps.Requester, deps.Repo = loop, req, repo

	handler, err := hostpdr.New(hostpdr.Config{
		EID:              cfg.Host.EID,
		TID:              cfg.Host.TID,
		NotifyPDRTypes:   cfg.PDR.NotifyTypes,
		NotifyFormat:     notifyFormat,
		SyncSensorStates: cfg.PDR.SyncSensorStates,
		FetchOnHostUp:    cfg.PDR.FetchOnHostUp,
		HistoryKeep:      cfg.Store.Keep,
	}, deps)
	if err != nil {
		return err
	}
	dispatcher := platform.NewDispatcher(loop, req, platform.NewResponder(handler, repo), cfg.Log.Verbose)

	log.Info().
		Uint8("host_eid", cfg.Host.EID).
		Uint8("tid", cfg.Host.TID).
		Int("bmc_entities", tree.Len()).
		Int("event_actions", eventDefs.Len()).
		Bool("store", store != nil).
		Msg("Starting host PDR agent")

	errCh := make(chan error, 3)
	go func() { errCh <- loop.Run(ctx) }()
	go func() { errCh <- dispatcher.Serve(ctx, transport) }()

	if cfg.HTTP.Enabled {
		opts := []status.Option{status.WithTransport(transport)}
		if store != nil {
			opts = append(opts, status.WithHistory(store))
		}
		srv := status.NewServer(handler, opts...)
		go func() { errCh <- srv.ListenAndServe(ctx, cfg.HTTP.Listen) }()
		go metrics.NewCollector(handler, cfg.HTTP.MetricsInterval).Start(ctx)
	}

	if bus != nil && cfg.Host.WatchState {
		err := bus.WatchHostState(ctx, func(state string) {
			loop.Post(func() { onHostState(handler, state) })
		})
		if err != nil {
			log.Warn().Err(err).Msg("Not watching host state")
		}
	}
	loop.Post(handler.SetHostFirmwareCondition)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		return nil
	case err := <-errCh:
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func onHostState(h *hostpdr.Handler, state string) {
	switch state {
	case dbus.HostStateOff:
		h.HandleHostOff()
	case dbus.HostStateRunning:
		h.SetHostFirmwareCondition()
	}
}
