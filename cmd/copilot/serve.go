package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/adapter/agentclient"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/adapter/github"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/agents"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/config"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/pipeline"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/policy"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/publish"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/repository"
	transporthttp "github.com/tupakulamanoj/elastic-contributor-copilot/internal/transport/http"
	v1 "github.com/tupakulamanoj/elastic-contributor-copilot/internal/transport/http/v1"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var (
	servePort    int
	servePolicy  string
	servePublish bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline server",
	Long: `Start the HTTP and WebSocket server.

Completed runs are restored from the run store on startup so observers can
replay them. Configuration is read from the environment (and a .env file when
present); flags override the matching variables.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides HTTP_PORT)")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to a Rego report policy (defaults to the built-in policy)")
	serveCmd.Flags().BoolVar(&servePublish, "publish", false, "Post eligible reports back to the host (overrides PUBLISH_REPORTS)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if servePort > 0 {
		cfg.HTTPPort = servePort
	}
	if cmd.Flags().Changed("publish") {
		cfg.PublishReports = servePublish
	}

	log.Printf("Starting co-pilot server...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Repository: %s", cfg.GitHubRepo)
	log.Printf("Agent URL: %s", cfg.AgentURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := cfg.DatabaseURL
	if cfg.PostgresURL != "" {
		dsn = cfg.PostgresURL
	}
	store, err := repository.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer store.Close()

	registry := pipeline.NewRegistry(pipeline.RegistryOptions{
		MaxEvents: cfg.MaxPipelineEvents,
		MaxRuns:   cfg.MaxPipelineRuns,
	})
	if cfg.RehydrateLimit > 0 {
		records, err := store.SearchRuns(ctx, cfg.RehydrateLimit)
		if err != nil {
			log.Printf("WARN: failed to load persisted runs: %v", err)
		} else {
			log.Printf("INFO: rehydrated %d persisted runs", registry.Rehydrate(records))
		}
	}

	pool := pipeline.NewWorkerPool(cfg.WorkerPoolSize)
	defer pool.Close()

	agent := agentclient.NewAgent(cfg.Mode, cfg.AgentURL, cfg.AgentAPIKey, cfg.AgentTimeout)
	host := github.NewClient(cfg.GitHubAPIURL, cfg.GitHubRepo, cfg.GitHubToken, cfg.AgentTimeout)
	toolkit := agents.New(agent, host, cfg.ShareStepContext)

	hub := ws.NewHub()
	hooks := []pipeline.Hook{hub}

	var publisher *publish.Publisher
	if cfg.PublishReports {
		content := policy.DefaultPolicy
		if servePolicy != "" {
			raw, err := os.ReadFile(servePolicy)
			if err != nil {
				return fmt.Errorf("failed to read policy: %w", err)
			}
			content = string(raw)
		}
		engine, err := policy.NewEngine(ctx, content)
		if err != nil {
			return fmt.Errorf("failed to initialize policy engine: %w", err)
		}
		publisher = publish.NewPublisher(host, engine, store, pool, host.Repo())
		hooks = append(hooks, publisher)
		log.Printf("INFO: publishing eligible reports to %s", host.Repo())
	}

	controller := pipeline.NewController(ctx, registry, pool, toolkit,
		pipeline.WithStore(store),
		pipeline.WithHooks(hooks...),
		pipeline.WithPollInterval(cfg.StepPollInterval),
	)

	handler := v1.NewHandler(controller, store, hub, v1.Options{
		WebhookSecret: cfg.GitHubWebhookSecret,
		StreamPoll:    cfg.ObserverPollInterval,
	})
	server := transporthttp.NewServer(handler, ws.NewServer(cfg, hub, controller))
	server.Debug = cfg.LogLevel == "debug"

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down co-pilot server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("ERROR: server shutdown failed: %v", err)
		}
		return nil
	})

	log.Printf("API started on port %d", cfg.HTTPPort)
	err = g.Wait()

	controller.Wait()
	if publisher != nil {
		publisher.Wait()
	}
	log.Println("Server stopped")
	return err
}
