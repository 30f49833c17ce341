package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datagouv/hydra-go/internal/analysis"
	"github.com/datagouv/hydra-go/internal/api"
	"github.com/datagouv/hydra-go/internal/config"
	"github.com/datagouv/hydra-go/internal/crawl"
	"github.com/datagouv/hydra-go/internal/logging"
	"github.com/datagouv/hydra-go/internal/notify"
	"github.com/datagouv/hydra-go/internal/storage"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var crawlIterations int

var rootCmd = &cobra.Command{
	Use:     "hydra",
	Short:   "hydra - open data catalog crawler and analyzer",
	Long:    `hydra continuously crawls the resources of an open data catalog, detects changes, analyzes CSV files and loads them into queryable tables`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		run(true, true)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API without the crawler",
	Run: func(cmd *cobra.Command, args []string) {
		run(true, false)
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run the crawler without the admin API",
	Run: func(cmd *cobra.Command, args []string) {
		run(false, true)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hydra %s\n", Version)
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	crawlCmd.Flags().IntVarP(&crawlIterations, "iterations", "i", 0, "stop after N crawl cycles (0 = run forever)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(withAPI, withCrawler bool) {
	// Baseline logger for early startup, before configuration is read.
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "hydra"})

	// A local .env is optional.
	_ = godotenv.Load()

	cfg, err := config.NewLoader().Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "hydra"})

	log.Info().Str("version", Version).Msg("Starting hydra")

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer store.Close()

	var notifier notify.Notifier = notify.Noop{}
	if cfg.WebhookEnabled && cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL, cfg.WebhookToken, cfg.RequestTimeout)
		log.Info().Str("url", cfg.WebhookURL).Msg("Webhook notifications enabled")
	} else {
		log.Info().Msg("Webhook notifications disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	analyser := analysis.New(cfg, store, notifier)
	monitor := crawl.NewMonitor()
	crawler := crawl.New(cfg, store, notifier, analyser, monitor)

	crawlDone := make(chan error, 1)
	if withCrawler {
		go func() {
			crawlDone <- crawler.Run(ctx, crawlIterations)
		}()
	}

	if withAPI {
		var checker api.Checker
		if withCrawler {
			checker = crawler
		}
		server := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.New(cfg, store, checker, monitor).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.ListenAddr).Msg("Admin API listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Admin API failed")
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Admin API shutdown failed")
			}
		}()
	}

	if withCrawler {
		if err := <-crawlDone; err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Crawler stopped")
		}
		return
	}
	<-ctx.Done()
}
