package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonathan/ciencia/internal/config"
	"github.com/jonathan/ciencia/internal/db"
	"github.com/jonathan/ciencia/internal/db/sqlite"
	"github.com/jonathan/ciencia/internal/execution"
	"github.com/jonathan/ciencia/internal/generation"
	"github.com/jonathan/ciencia/internal/llm"
	"github.com/jonathan/ciencia/internal/server"
	"github.com/jonathan/ciencia/internal/server/ratelimit"
	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/structure"
	"github.com/spf13/cobra"
)

var (
	servePort   int
	serveDriver string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes projects, pipelines and runs, script
generation through Gemini, Nextflow execution and structure lookups.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
	serveCmd.Flags().StringVar(&serveDriver, "store", "", "Store driver: memory, postgres or sqlite (overrides store.driver)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveDriver != "" {
		cfg.Store.Driver = serveDriver
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[server] failed to close store: %v", err)
		}
	}()

	// A nil client makes every generation call fail as BackendRejected
	var llmClient llm.Client
	if cfg.Gemini.APIKey != "" {
		llmClient, err = llm.NewClient(ctx, llmConfig(cfg.Gemini.Models), cfg.Gemini.APIKey)
		if err != nil {
			return fmt.Errorf("failed to create LLM client: %w", err)
		}
		defer func() { _ = llmClient.Close() }()
	} else {
		log.Printf("[server] GEMINI_API_KEY is not set; generation requests will be rejected")
	}

	launcher := execution.NewLauncher(st,
		execution.WithBaseDir(cfg.Execution.BaseDir),
		execution.WithBinary(cfg.Execution.Binary),
	)

	srvCfg := server.Config{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RateLimit: &ratelimit.Config{
			Enabled:         cfg.RateLimit.Enabled,
			DefaultLimit:    cfg.RateLimit.DefaultLimit,
			DefaultWindow:   cfg.RateLimit.DefaultWindow,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			Whitelist:       ratelimit.IPSet(cfg.RateLimit.Whitelist),
			Blacklist:       ratelimit.IPSet(cfg.RateLimit.Blacklist),
			EndpointConfigs: ratelimit.DefaultEndpointConfigs(),
		},
	}
	if cfg.AuthEnabled() {
		srvCfg.JWT = server.NewJWTService(&cfg.JWT)
	}

	srv, err := server.New(srvCfg, server.Deps{
		Store: st,
		Assistant: generation.New(llmClient,
			generation.WithHistoryLimit(cfg.Gemini.HistoryLimit),
			generation.WithGenerateTier(llm.ModelTier(cfg.Gemini.GenerateTier)),
		),
		Executor: launcher,
		Structures: structure.NewClient(
			structure.WithHTTPClient(&http.Client{Timeout: cfg.Structure.Timeout}),
			structure.WithUniProtURL(cfg.Structure.UniProtURL),
			structure.WithAlphaFoldURL(cfg.Structure.AlphaFoldURL),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	runErr := srv.Run(ctx)

	// Runs get the shutdown window to finish before the store closes
	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := launcher.Shutdown(waitCtx); err != nil {
		log.Printf("[server] %v", err)
	}
	return runErr
}

// llmConfig applies the configured per-tier model overrides to the defaults
func llmConfig(models config.ModelsConfig) *llm.Config {
	return llm.DefaultConfig().
		WithModel(llm.TierLite, models.Lite).
		WithModel(llm.TierStandard, models.Standard).
		WithModel(llm.TierAdvanced, models.Advanced)
}

// openStore connects the configured store backend
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return database, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	case config.DriverMemory, "":
		log.Printf("[server] using in-memory store; data is lost on exit")
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
