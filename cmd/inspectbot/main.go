package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inspectbot/internal/channel"
	"inspectbot/internal/config"
	"inspectbot/internal/dedup"
	"inspectbot/internal/dispatch"
	"inspectbot/internal/envelope"
	"inspectbot/internal/history"
	"inspectbot/internal/metrics"
	"inspectbot/internal/outbound"
	"inspectbot/internal/session"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "inspectbot",
		Short: "InspectBot: chat-driven inspection job runner",
		Long:  "InspectBot receives Lark and WeCom messages, collects job parameters through a short dialogue, and runs inspection jobs with live progress relay.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.inspectbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(runsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.General.Workspace), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "workspace", cfg.General.Workspace)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start webhook servers for all enabled channels",
		Long:  "Starts the Lark and WeCom webhook servers, the dedup sweeper, and the optional metrics endpoint. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.General.LogLevel)}))

	if !cfg.Lark.Enabled && !cfg.WeCom.Enabled {
		return fmt.Errorf("no channel enabled: set lark.enabled or wecom.enabled")
	}

	if cfg.General.Workspace != "" {
		if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flows, synonyms, err := config.LoadFlows(cfg.Conversation.FlowsPath, logger)
	if err != nil {
		return fmt.Errorf("load flows: %w", err)
	}

	engine := session.NewEngine(session.Policy{
		Triggers:       cfg.Conversation.Triggers,
		CancelWords:    cfg.Conversation.CancelWords,
		SkipWords:      cfg.Conversation.SkipWords,
		AllowSkipDates: cfg.Conversation.AllowSkipDates,
		MaxRetries:     cfg.Conversation.MaxRetries,
		Flows:          flows,
		StatusSynonyms: synonyms,
	})
	sessions := session.NewStore(logger)

	gate := dedup.NewGate(dedup.DefaultWindow, logger)
	go gate.Run(ctx)

	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.NewStore(cfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		defer hist.Close()
	}

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Command:        cfg.Job.Command,
		Args:           cfg.Job.Args,
		Dir:            cfg.Job.Dir,
		ProgressMarker: cfg.Job.ProgressMarker,
		AllClearMarker: cfg.Job.AllClearMarker,
		SummaryPath:    cfg.Job.SummaryPath,
		ArtifactPaths:  cfg.Job.ArtifactPaths,
		QueueSize:      cfg.Job.QueueSize,
		Timeout:        time.Duration(cfg.Job.TimeoutMinutes) * time.Minute,
		TranscriptDir:  cfg.General.Workspace,
	}, hist, logger)

	errCh := make(chan error, 3)
	started := 0

	if cfg.Lark.Enabled {
		client := outbound.NewLarkClient(outbound.LarkConfig{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
			APIBase:   cfg.Lark.APIBase,
			Logger:    logger,
		})
		srv := channel.NewLark(channel.LarkConfig{
			Port:  cfg.Lark.Port,
			Path:  cfg.Lark.Path,
			Codec: envelope.NewLarkCodec(cfg.Lark.EncryptKey, cfg.Lark.VerificationToken),
			Pipeline: &channel.Pipeline{
				Gate:       gate,
				Sessions:   sessions,
				Engine:     engine,
				Dispatcher: dispatcher,
				Messenger:  client,
				Logger:     logger,
			},
			Logger: logger,
		})
		go func() { errCh <- srv.Start(ctx) }()
		started++
	}

	if cfg.WeCom.Enabled {
		codec, err := envelope.NewWeComCodec(cfg.WeCom.Token, cfg.WeCom.EncodingAESKey, cfg.WeCom.CorpID)
		if err != nil {
			return fmt.Errorf("wecom codec: %w", err)
		}
		client := outbound.NewWeComClient(outbound.WeComConfig{
			CorpID:     cfg.WeCom.CorpID,
			CorpSecret: cfg.WeCom.CorpSecret,
			AgentID:    cfg.WeCom.AgentID,
			APIBase:    cfg.WeCom.APIBase,
			Logger:     logger,
		})
		srv := channel.NewWeCom(channel.WeComConfig{
			Port:  cfg.WeCom.Port,
			Path:  cfg.WeCom.Path,
			Codec: codec,
			Pipeline: &channel.Pipeline{
				Gate:       gate,
				Sessions:   sessions,
				Engine:     engine,
				Dispatcher: dispatcher,
				Messenger:  client,
				Logger:     logger,
			},
			Logger: logger,
		})
		go func() { errCh <- srv.Start(ctx) }()
		started++
	}

	if cfg.Metrics.Enabled {
		go func() { errCh <- serveMetrics(ctx, cfg.Metrics.Port) }()
		started++
	}

	logger.Info("inspectbot started", "version", version,
		"lark", cfg.Lark.Enabled, "wecom", cfg.WeCom.Enabled, "metrics", cfg.Metrics.Enabled)

	// The servers shut down on ctx cancellation; the first hard error
	// from any of them ends the process.
	for i := 0; i < started; i++ {
		if err := <-errCh; err != nil {
			stop()
			return err
		}
	}
	logger.Info("shutdown complete")
	return nil
}

func serveMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.Collector.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
