package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"volumed/internal/audio"
	"volumed/internal/camilla"
	"volumed/internal/input"
	"volumed/internal/ipc"
	"volumed/internal/metrics"
	"volumed/internal/pipeline"
	"volumed/internal/publish"
	"volumed/internal/settings"
	"volumed/internal/volume"
)

const httpShutdownTimeout = 3 * time.Second

// engineTarget lets the input handler be built before the engine it drives.
// The engine is set before the reader starts.
type engineTarget struct {
	engine *volume.Engine
}

func (t *engineTarget) OnDeviceEvent(ev audio.DeviceEvent) error {
	return t.engine.OnDeviceEvent(ev)
}

func (t *engineTarget) AdjustStreamVolume(st audio.StreamType, dir audio.Direction, flags audio.Flags) error {
	return t.engine.AdjustStreamVolume(st, dir, flags)
}

func (t *engineTarget) SetStreamMute(st audio.StreamType, state bool, caller audio.CallerID) error {
	return t.engine.SetStreamMute(st, state, caller)
}

func (t *engineTarget) IsStreamMute(st audio.StreamType) (bool, error) {
	return t.engine.IsStreamMute(st)
}

// run wires every component and blocks until ctx is canceled or one of the
// long-running parts fails.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	sinkCfg, err := cfg.SinkConfig(engineCfg)
	if err != nil {
		return err
	}
	handlerCfg, err := cfg.HandlerConfig()
	if err != nil {
		return err
	}

	store, err := settings.Open(ctx, ExpandPath(cfg.Settings.Path), logger.With("component", "settings"))
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer store.Close() //nolint:errcheck

	client, err := camilla.NewClient(cfg.CamillaDSP.WsURL, cfg.ClientOptions(), logger.With("component", "camilladsp"))
	if err != nil {
		return fmt.Errorf("camilladsp client: %w", err)
	}
	defer client.Close() //nolint:errcheck

	sink, err := camilla.NewSink(client, sinkCfg, logger.With("component", "camilladsp"))
	if err != nil {
		return fmt.Errorf("camilladsp sink: %w", err)
	}
	// Knowing the loaded config avoids a needless reload on the first
	// routing apply. A mixer that is down now is picked up by the heartbeat.
	if path, err := client.GetConfigFilePath(); err != nil {
		logger.Warn("could not read camilladsp config path", "error", err)
	} else {
		sink.SeedActivePath(path)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipeMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return err
	}
	engineMetrics, err := metrics.NewEngineMetrics(registry)
	if err != nil {
		return err
	}

	pipe := pipeline.New(sink, store, pipeline.Config{
		Capacity: cfg.Engine.QueueCapacity,
		Observer: pipeMetrics,
	}, logger.With("component", "pipeline"))

	hub := publish.NewHub(logger.With("component", "ws"), publish.HubConfig{})
	broadcaster := publish.NewBroadcaster(hub, 0, logger.With("component", "ws"))
	publishers := publish.Fanout{broadcaster, engineMetrics}

	var mqttPub *publish.MQTTPublisher
	if cfg.MQTT.Enabled {
		mqttPub, err = publish.NewMQTTPublisher(cfg.MQTTPublisherConfig(), logger.With("component", "mqtt"))
		if err != nil {
			return fmt.Errorf("mqtt publisher: %w", err)
		}
		publishers = append(publishers, mqttPub)
	}

	liveness := ipc.NewLiveness()
	liveness.Hold(input.CallerKeys)

	target := &engineTarget{}
	handler := input.NewHandler(target, handlerCfg, logger.With("component", "input"))

	engine, err := volume.New(engineCfg, volume.Deps{
		Pipeline:  pipe,
		Settings:  store,
		Publisher: publishers,
		Liveness:  liveness,
		Dock:      handler,
	}, logger.With("component", "engine"))
	if err != nil {
		return err
	}
	target.engine = engine

	ipcServer := ipc.NewServer(engine, liveness, logger.With("component", "ipc"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pipe.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		broadcaster.Run(gctx)
		return nil
	})
	if mqttPub != nil {
		g.Go(func() error {
			// A broker outage must not take the daemon down.
			if err := mqttPub.Run(gctx); err != nil {
				logger.Error("mqtt publisher stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return ipcServer.ListenAndServe(gctx, cfg.IPC.SocketPath)
	})
	g.Go(func() error {
		runHeartbeat(gctx, engine, time.Duration(cfg.Engine.HeartbeatMS)*time.Millisecond)
		return nil
	})

	if len(cfg.Input.Devices) > 0 {
		reader := input.NewReader(cfg.Input.Devices, handler, logger.With("component", "input"))
		g.Go(func() error {
			if err := reader.Run(gctx); err != nil {
				logger.Error("input reader stopped", "error", err, "tip", "run as root or add user to 'input' group")
			}
			return nil
		})
	}

	if cfg.HTTP.Listen != "" {
		mux := http.NewServeMux()
		publish.NewServer(hub, func() any { return engine.Snapshot() }, logger.With("component", "ws")).
			Register(mux, cfg.HTTP.EventsPath)
		mux.Handle(cfg.HTTP.MetricsPath, metrics.Handler(registry))
		mux.HandleFunc("/healthz", healthHandler(engine))
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Listen, mux, logger.With("component", "http"))
		})
	}

	logger.Info("listening",
		"ipc", cfg.IPC.SocketPath,
		"http", cfg.HTTP.Listen,
		"camilladsp_ws", cfg.CamillaDSP.WsURL,
		"input_devices", cfg.Input.Devices,
		"mqtt", cfg.MQTT.Enabled)

	return g.Wait()
}

// runHeartbeat probes the mixer on a fixed period.
func runHeartbeat(ctx context.Context, engine *volume.Engine, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.Heartbeat()
		}
	}
}

func healthHandler(engine *volume.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !engine.MixerUp() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "mixer down")
			return
		}
		fmt.Fprintln(w, "ok")
	}
}

// runHTTPServer serves handler on addr and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		// ListenAndServe returns http.ErrServerClosed on Shutdown.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
