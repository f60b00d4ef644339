// Command knutserver runs the Knut home automation hub.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pearjo/knut-server/internal/api"
	"github.com/pearjo/knut-server/internal/api/light"
	"github.com/pearjo/knut-server/internal/api/local"
	"github.com/pearjo/knut-server/internal/api/task"
	"github.com/pearjo/knut-server/internal/api/temperature"
	"github.com/pearjo/knut-server/internal/backend"
	"github.com/pearjo/knut-server/internal/config"
	"github.com/pearjo/knut-server/internal/logging"
	"github.com/pearjo/knut-server/internal/metrics"
	"github.com/pearjo/knut-server/internal/push"
	"github.com/pearjo/knut-server/internal/server"
	"github.com/pearjo/knut-server/internal/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.Flags("knutserver")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() // flushes buffer, if any
	sugar := logger.Sugar()

	sugar.Info("Starting Knut server")
	if cfg.File == "" {
		sugar.Info("No configuration file found. Using default config")
	} else {
		sugar.Infof("Configuration from %s", cfg.File)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	bus := push.NewBus(sugar.Named("push"))
	bus.OnDrop(m.PushDropped)
	router := api.NewRouter(sugar.Named("api"))
	router.SetObserver(m)

	lights := light.New(bus, sugar.Named("light"))
	lights.SetObserver(m)
	temperatures := temperature.New(bus, sugar.Named("temperature"), temperature.Options{
		HistorySize:    cfg.Temperature.HistorySize,
		SampleInterval: cfg.Temperature.SampleInterval,
	})
	temperatures.SetObserver(m)
	locals := local.New(bus, sugar.Named("local"), cfg.Local.CheckInterval)

	store, err := task.NewFileStore(cfg.Task.Dir, sugar.Named("task"))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	tasks := task.New(store, bus, sugar.Named("task"))
	if err := tasks.Load(); err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	var closers []service.Closer
	defer func() {
		if err := closeAll(closers); err != nil {
			sugar.Errorf("Closing backends: %v", err)
		}
	}()
	backendLogger := sugar.Named("backend")
	for _, add := range []func() ([]service.Closer, error){
		func() ([]service.Closer, error) {
			return addBackends(lights.AddBackend, backend.Lights(), cfg.Backends.Lights, backendLogger)
		},
		func() ([]service.Closer, error) {
			return addBackends(temperatures.AddBackend, backend.Temperatures(), cfg.Backends.Temperature, backendLogger)
		},
		func() ([]service.Closer, error) {
			return addBackends(locals.AddBackend, backend.Locals(), cfg.Backends.Local, backendLogger)
		},
	} {
		c, err := add()
		closers = append(closers, c...)
		if err != nil {
			return err
		}
	}

	for _, a := range []api.API{temperatures, lights, tasks, locals} {
		if err := router.Register(a); err != nil {
			return err
		}
	}

	srv := server.New(server.Options{
		Address:        cfg.Server.Address,
		Port:           cfg.Server.Port,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		IdleTimeout:    cfg.Server.IdleTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		Heartbeat:      cfg.Server.Heartbeat,
		PushQueueSize:  cfg.Server.PushQueueSize,
	}, router, bus, sugar.Named("server"))
	srv.SetObserver(m)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range []api.Runner{lights, temperatures, tasks, locals} {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if cfg.WebSocket.Enabled {
		addr := net.JoinHostPort(cfg.Server.Address, strconv.Itoa(cfg.WebSocket.Port))
		g.Go(func() error {
			return server.RunHTTP(gctx, addr, srv.WebSocketHandler(gctx), sugar.Named("websocket"))
		})
	}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		addr := ":" + strconv.Itoa(cfg.Metrics.Port)
		g.Go(func() error { return server.RunHTTP(gctx, addr, mux, sugar.Named("metrics")) })
	}

	err = g.Wait()
	sugar.Info("Knut server stopped")
	return err
}

// addBackends builds every configured backend with f and hands it to add.
// It returns the built backends that hold resources, also on error.
func addBackends[S service.Service](add func(S) error, f *backend.Factory[S], configs []backend.Config, logger *zap.SugaredLogger) ([]service.Closer, error) {
	var closers []service.Closer
	for _, c := range configs {
		b, err := f.Build(c, logger)
		if err != nil {
			return closers, fmt.Errorf("backend %q: %w", c.ID, err)
		}
		if cl, ok := any(b).(service.Closer); ok {
			closers = append(closers, cl)
		}
		if err := add(b); err != nil {
			return closers, fmt.Errorf("backend %q: %w", c.ID, err)
		}
		logger.Infof("Registered %s backend %q", c.Type, c.ID)
	}
	return closers, nil
}

func closeAll(closers []service.Closer) error {
	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}
