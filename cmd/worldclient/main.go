package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"driftpursuit/worldclient/internal/auth"
	"driftpursuit/worldclient/internal/capture"
	"driftpursuit/worldclient/internal/config"
	"driftpursuit/worldclient/internal/inspect"
	"driftpursuit/worldclient/internal/logging"
	"driftpursuit/worldclient/internal/outbound"
	"driftpursuit/worldclient/internal/session"
	"driftpursuit/worldclient/internal/simulation"
	"driftpursuit/worldclient/internal/snapshot"
	"driftpursuit/worldclient/internal/transport"
)

const (
	keepAliveInterval = 5 * time.Second
	retentionInterval = 10 * time.Minute
)

func main() {
	printSchema := flag.Bool("print-config-schema", false, "Print the JSON Schema of the YAML config overlay and exit")
	flag.Parse()

	if *printSchema {
		schema, err := config.Schema()
		if err != nil {
			fmt.Fprintln(os.Stderr, "schema error:", err)
			os.Exit(1)
		}
		os.Stdout.Write(append(schema, '\n'))
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging error:", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("client stopped", logging.Error(err))
		logger.Sync()
		os.Exit(2)
	}
}

// logSinks stands in for the renderer's audio and chat panes.
type logSinks struct {
	log *logging.Logger
}

func (s logSinks) PlaySound(sound uint16, volume uint8) {
	s.log.Debug("sound", logging.Int("sound", int(sound)), logging.Int("volume", int(volume)))
}

func (s logSinks) AppendLine(channel uint8, text string) {
	s.log.Info("chat", logging.Int("channel", int(channel)), logging.String("text", text))
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	store := snapshot.NewStore(time.Now)
	sinks := logSinks{log: logger.With(logging.String("component", "sinks"))}

	//1.- A permanent failure ends the process; retryable ones are left to the session.
	fatal := make(chan session.Status, 1)
	opts := session.OptionsFromConfig(cfg)
	opts.Logger = logger
	opts.Snapshots = store
	opts.Audio = sinks
	opts.Chat = sinks
	opts.Status = session.StatusFunc(func(status session.Status) {
		if status.State == session.Failed && !status.Retryable {
			select {
			case fatal <- status:
			default:
			}
		}
	})
	dialerOpts := transport.Options{WriteTimeout: cfg.WriteTimeout, Logger: logger}
	if cfg.Token != "" {
		dialerOpts.Header = http.Header{"Authorization": []string{"Bearer " + cfg.Token}}
	}
	opts.Dialer = transport.NewDialer(dialerOpts)

	if cfg.TokenSecret != "" {
		signer, err := auth.NewSigner(cfg.TokenSecret, cfg.TokenTTL)
		if err != nil {
			return fmt.Errorf("token signer: %w", err)
		}
		opts.Tokens = signer
	}

	//2.- Capture bundles record every decoded tick when a directory is configured.
	var recorder *capture.Recorder
	if cfg.CaptureDir != "" {
		rec, manifest, err := capture.NewRecorder(cfg.CaptureDir, cfg.Identity, time.Now)
		if err != nil {
			return fmt.Errorf("capture recorder: %w", err)
		}
		recorder = rec
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Warn("close capture", logging.Error(err))
			}
		}()
		opts.Recorder = recorder
		logger.Info("capture enabled", logging.String("directory", recorder.Directory()), logging.String("created_at", manifest.CreatedAt))

		cleaner := capture.NewCleaner(cfg.CaptureDir, capture.RetentionPolicy{
			MaxBundles: cfg.CaptureMaxBundles,
			MaxAge:     cfg.CaptureMaxAge,
		}, logger)
		go cleaner.Run(ctx, retentionInterval)
	}

	sess := session.New(opts)
	params := session.ParamsFromConfig(cfg)
	if recorder != nil {
		recorder.SetHeader(capture.Header{
			SessionID:       sess.ID(),
			Address:         params.Address,
			Identity:        params.Identity,
			ProtocolVersion: params.Version,
		})
	}

	monitor := simulation.NewTickMonitor()
	loop := simulation.NewLoop(cfg.SimHz, sess.Step,
		simulation.WithMonitor(monitor),
		simulation.WithErrorHandler(func(err error) {
			logger.Warn("session step failed", logging.Error(err))
		}),
	)

	//3.- The inspection listener is optional and always authenticated.
	if cfg.InspectAddr != "" {
		service := inspect.NewService(cfg.InspectInterval, logger)
		service.Register("session", inspect.SessionProvider(sess.Stats))
		service.Register("snapshot", inspect.SnapshotProvider(store))
		service.Register("timing", inspect.TimingProvider(monitor))
		if recorder != nil {
			service.Register("capture", inspect.CaptureProvider(recorder.Stats))
		}
		listener, err := net.Listen("tcp", cfg.InspectAddr)
		if err != nil {
			return fmt.Errorf("inspect listen: %w", err)
		}
		server := inspect.NewServer(service, cfg.InspectSecret, logger)
		go func() {
			if err := server.Serve(listener); err != nil {
				logger.Warn("inspect server stopped", logging.Error(err))
			}
		}()
		defer server.GracefulStop()
		logger.Info("inspect listening", logging.String("addr", listener.Addr().String()))
	}

	loop.Start(ctx)
	defer loop.Stop()
	if err := loop.Do(ctx, func() { sess.Connect(params) }); err != nil {
		return err
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			//4.- The loop goroutine is gone once Stop returns, so the session is ours again.
			loop.Stop()
			sess.Disconnect()
			return nil
		case status := <-fatal:
			loop.Stop()
			if status.Err == nil {
				return errors.New("session failed")
			}
			return status.Err
		case <-keepAlive.C:
			err := loop.Do(ctx, func() {
				if sess.State() != session.Active {
					return
				}
				tick := sess.Canonical().ServerTick
				if err := sess.Send(outbound.KeepAlive{Tick: tick}); err != nil {
					logger.Debug("keepalive dropped", logging.Error(err))
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}
