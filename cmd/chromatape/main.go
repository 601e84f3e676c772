package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/chromatape/internal/app"
	"github.com/ayusman/chromatape/internal/capture"
	"github.com/ayusman/chromatape/internal/classifier"
	"github.com/ayusman/chromatape/internal/config"
	"github.com/ayusman/chromatape/internal/detector"
	"github.com/ayusman/chromatape/internal/plugin"
	"github.com/ayusman/chromatape/internal/server"
	"github.com/ayusman/chromatape/internal/sink"
	"github.com/ayusman/chromatape/internal/store"
	"github.com/ayusman/chromatape/internal/tray"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		envFile    = flag.String("env", ".env", "dotenv file loaded before the config")
		logLevel   = flag.String("log-level", "", "debug, info, warn or error (overrides the config)")
		mode       = flag.String("mode", "", "decode, verbose or header-check (overrides the config)")
		sessions   = flag.Int("sessions", 0, "list the N most recent sessions and exit")
	)
	flag.Parse()

	if err := run(*configPath, *envFile, *logLevel, *mode, *sessions); err != nil {
		slog.Error("chromatape failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envFile, logLevel, mode string, listSessions int) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	if listSessions > 0 {
		if st == nil {
			return errors.New("session listing needs store.path")
		}
		return printSessions(os.Stdout, st, listSessions)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	header, err := detector.Load(cfg.Templates.HeaderDir, detector.HeaderStart, detector.HeaderEnd)
	if err != nil {
		return err
	}
	defer header.Close()
	logger.Info("header templates loaded", "dir", header.Dir(), "templates", header.Names())

	end, err := loadEndTemplates(cfg.Templates.EndDir, logger)
	if err != nil {
		return err
	}
	if end != nil {
		defer end.Close()
	}

	cls, err := classifier.New(cfg.ClassifierConfig())
	if err != nil {
		return err
	}

	appMode, err := app.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	sinks, err := buildSinks(ctx, cfg, st, appMode, logger)
	if err != nil {
		return err
	}
	if sinks.mqtt != nil {
		defer sinks.mqtt.Disconnect()
	}
	runID := sinks.runID

	deps := app.Deps{
		Camera:     capture.NewCamera(cfg.CameraConfig()),
		Locator:    detector.NewLocator(detector.Config{Threshold: cfg.MatchThreshold, Logger: logger}),
		Header:     header,
		End:        end,
		Classifier: cls,
		Sink:       sinks.out,
	}
	if cfg.SkipStaticFrames {
		deps.Motion = capture.NewMotionDetector(cfg.MotionThreshold)
	}

	dec, err := app.NewDecoder(app.Config{
		Mode:            appMode,
		Order:           cfg.Order(),
		Tokenizer:       cfg.TokenizerConfig(logger),
		Body:            cfg.BodyConfig(),
		SearchWidth:     cfg.Search.Width,
		SearchHeight:    cfg.Search.Height,
		HeaderWidth:     cfg.Header.Width,
		MinHeaderHeight: app.DefaultMinHeaderHeight,
		Adjust:          cfg.Adjustment(),
		MaxStaticFrames: cfg.MaxStaticFrames,
		Preview:         cfg.Server.Addr != "",
		Logger:          logger,
	}, deps)
	if err != nil {
		return err
	}

	if cfg.Server.Addr != "" {
		srv := server.New(server.Config{
			StaticDir: findWebDir(),
			Store:     st,
			Decoder:   dec,
			Hub:       sinks.hub,
			Logger:    logger,
		})
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
				logger.Error("http server failed", "error", err)
			}
		}()
	}

	logger.Info("decoding", "run", runID, "device", cfg.Camera.Device, "mode", string(appMode))
	if err := dec.Start(ctx); err != nil {
		dec.Close()
		return err
	}

	if cfg.Tray {
		runTray(ctx, dec, stop, cfg.Server.Addr, logger)
	}

	runErr := dec.Wait()
	if err := dec.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("program decoded", "run", runID, "program", dec.Program())
	return nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	return store.New(path)
}

// loadEndTemplates loads the optional end-of-body markers. A missing or
// empty directory disables them; a broken image does not.
func loadEndTemplates(dir string, logger *slog.Logger) (*detector.Library, error) {
	if dir == "" {
		return nil, nil
	}
	lib, err := detector.Load(dir)
	if errors.Is(err, detector.ErrTemplateDir) || errors.Is(err, detector.ErrNoTemplates) {
		logger.Warn("end markers disabled", "dir", dir, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("end templates loaded", "dir", dir, "templates", lib.Names())
	return lib, nil
}

type sinkSet struct {
	out   sink.Multi
	runID string
	hub   *server.Hub
	mqtt  *sink.MQTT
}

// buildSinks assembles the sinks enabled by cfg. The run ID is the session
// ID when sessions are stored.
func buildSinks(ctx context.Context, cfg *config.Config, st *store.Store, mode app.Mode, logger *slog.Logger) (*sinkSet, error) {
	s := &sinkSet{
		out:   sink.Multi{sink.NewWriter(os.Stdout)},
		runID: uuid.NewString(),
	}

	if st != nil {
		ss, err := store.NewSessionSink(st.Sessions(), cfg.Camera.Device, string(mode))
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		s.runID = ss.ID()
		s.out = append(s.out, ss)
	}

	if cfg.Server.Addr != "" {
		s.hub = server.NewHub(s.runID, logger)
		s.out = append(s.out, s.hub)
	}

	if cfg.MQTT.Broker != "" {
		m := sink.NewMQTT(sink.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
			ClientID: cfg.MQTT.ClientID,
			Run:      s.runID,
			Logger:   logger,
		})
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := m.Connect(connectCtx)
		cancel()
		if err != nil {
			logger.Warn("mqtt disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			s.mqtt = m
			s.out = append(s.out, m)
		}
	}

	if cfg.Plugins.Consumer != "" {
		mgr := plugin.NewManager(cfg.Plugins.Dir, logger)
		if err := mgr.Discover(); err != nil {
			return nil, fmt.Errorf("discover plugins: %w", err)
		}
		ps, err := plugin.NewSink(mgr, plugin.NewExecutor(cfg.Plugins.TimeoutMS), plugin.SinkConfig{
			Consumer: cfg.Plugins.Consumer,
			Session:  s.runID,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		s.out = append(s.out, ps)
	}

	return s, nil
}

// runTray shows the tray until the decoder ends. Quit is the stop signal.
func runTray(ctx context.Context, dec *app.Decoder, stop context.CancelFunc, addr string, logger *slog.Logger) {
	tr := tray.New()
	tr.OnPause(dec.SetPaused)
	tr.OnQuit(stop)
	tr.OnPreview(func() {
		if addr == "" {
			logger.Info("preview disabled; set server.addr")
			return
		}
		logger.Info("preview available", "url", "http://"+previewHost(addr)+"/api/stream")
	})
	tr.StatusFrom(func() tray.Status {
		st := dec.Status()
		return tray.Status{State: st.State, Tokens: st.Tokens, Paused: st.Paused, Done: st.Done}
	})

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go tr.Watch(watchCtx, 500*time.Millisecond)
	go func() {
		dec.Wait()
		tr.Quit()
	}()

	tr.Run()
}

func previewHost(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.chromatape/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".chromatape", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
