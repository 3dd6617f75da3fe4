package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ent0n29/voxcollect/internal/app"
	"github.com/ent0n29/voxcollect/internal/config"
	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/counter"
	"github.com/ent0n29/voxcollect/internal/ledger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globals struct {
	configPath string
	logLevel   string
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "voxcollect",
		Short:         "Voice dataset collection bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "optional YAML file overlaid on the environment")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "debug|info|warn|error (overrides APP_LOG_LEVEL)")

	root.AddCommand(newServeCmd(g))
	root.AddCommand(newStatsCmd(g))
	root.AddCommand(newCounterCmd(g))
	return root
}

func (g *globals) load(stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if g.configPath != "" {
		if cfg, err = config.LoadFile(cfg, g.configPath); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}
	g.cfg = cfg
	g.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(g.logger)
	return nil
}

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the web chat and the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), g.cfg, g.logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := app.Build(runCtx, cfg, app.Options{Logger: logger})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: res.API.Router(),
	}
	serveErr := make(chan error, 2)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr, "webchat", res.Webchat != nil)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("listen error: %w", err)
		}
	}()
	if res.Telegram != nil {
		go func() {
			logger.Info("telegram polling started")
			if err := res.Telegram.Run(runCtx, res.Dispatcher); err != nil {
				serveErr <- fmt.Errorf("telegram: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-runCtx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serveErr:
		logger.Error("service failed", "error", runErr)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	if err := res.Cleanup(); err != nil {
		logger.Warn("cleanup failed", "error", err)
	}
	logger.Info("shutdown complete")
	return runErr
}

func newStatsCmd(g *globals) *cobra.Command {
	var (
		asJSON bool
		userID string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print dataset statistics from the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := app.OpenLedger(ctx, g.cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			stats, err := ledger.Aggregate(ctx, store, corpus.Supported)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			return writeStats(cmd.OutOrStdout(), stats, userID)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the aggregate as JSON")
	cmd.Flags().StringVar(&userID, "user", "", "also print the contribution of this user id")
	return cmd
}

func writeStats(w io.Writer, stats ledger.Stats, userID string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "LANGUAGE\tSENTENCES\tDURATION\n")
	for _, lt := range stats.Languages {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", lt.Language.DisplayName(), lt.Sentences, clock(lt.DurationSeconds))
	}
	fmt.Fprintf(tw, "Total\t%d\t%s\n", stats.Total.Sentences, clock(stats.Total.DurationSeconds))
	if err := tw.Flush(); err != nil {
		return err
	}
	if userID != "" {
		u := stats.User(userID)
		_, err := fmt.Fprintf(w, "\nuser %s: %d sentences, %s\n", userID, u.Sentences, clock(u.DurationSeconds))
		return err
	}
	return nil
}

func clock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func newCounterCmd(g *globals) *cobra.Command {
	counterCmd := &cobra.Command{Use: "counter", Short: "Inspect the voice counter"}
	counterCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the next recording id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := counter.Open(g.cfg.CounterPath, g.cfg.CounterBase)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "next voice id: %d (%s)\n", c.Peek(), g.cfg.CounterPath)
			return err
		},
	})
	return counterCmd
}
