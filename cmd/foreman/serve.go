package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/rwalker-dev/foreman/internal/api"
	"github.com/rwalker-dev/foreman/internal/archive"
	"github.com/rwalker-dev/foreman/internal/classify"
	"github.com/rwalker-dev/foreman/internal/config"
	"github.com/rwalker-dev/foreman/internal/manager"
	"github.com/rwalker-dev/foreman/internal/orchestrate"
	"github.com/rwalker-dev/foreman/internal/respool"
	"github.com/rwalker-dev/foreman/internal/server"
	"github.com/rwalker-dev/foreman/internal/session"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Foreman backend",
	Long: `Start the HTTP server hosting the session manager, the approval
endpoints, and the websocket notification stream. Shuts down gracefully
on SIGINT/SIGTERM, stopping every live session first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func serve(cfg *config.Config) error {
	classifier, planner, client, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	pool := respool.NewManager()

	var inventory *respool.Inventory
	if cfg.Resources.InventoryPath != "" {
		inventory, err = respool.LoadInventory(cfg.Resources.InventoryPath)
		if err != nil {
			return fmt.Errorf("load inventory: %w", err)
		}
		if cfg.Resources.Watch {
			if err := inventory.Watch(); err != nil {
				return fmt.Errorf("watch inventory: %w", err)
			}
		}
		defer inventory.Close()
	}

	archivePath := cfg.Archive.Path
	if archivePath == "" {
		archivePath = archive.DefaultPath()
	}
	store, err := archive.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer store.Close()

	if cfg.Archive.RetentionDays > 0 {
		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		if n, err := store.PurgeOlderThan(retention); err != nil {
			log.Printf("[serve] archive purge: %v", err)
		} else if n > 0 {
			log.Printf("[serve] purged %d archived sessions older than %s", n, retention)
		}
	}

	var mgr *manager.Manager
	hub := server.NewHub(func(sessionID string) {
		_ = mgr.Dispatch(sessionID, session.Event{Type: session.EventClientDisconnect})
	})
	mgr = manager.New(manager.Config{
		Classifier: classifier,
		Factory: func(sessionID string) session.Orchestrator {
			return orchestrate.NewEngine(sessionID, planner)
		},
		Pool:         pool,
		Inventory:    inventory,
		Transport:    hub,
		Archiver:     store,
		DataDir:      cfg.Debug.DataDir,
		QueueSize:    cfg.Session.QueueSize,
		HistoryLimit: cfg.Session.HistoryLimit,
	})

	srv := server.New(server.Config{
		Addr:    cfg.Server.Addr,
		Manager: mgr,
		Hub:     hub,
		Archive: store,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.ListenAndServe(ctx, cfg.Server.ShutdownTimeout)

	log.Printf("[serve] shutting down, stopping %d live sessions", mgr.Count())
	mgr.StopAll()

	if client != nil {
		in, out := client.Tracker().Total()
		log.Printf("[serve] model usage: %d calls, %d input / %d output tokens",
			client.Tracker().Calls(), in, out)
	}
	return err
}

// buildProviders selects the classifier and planner for the configured
// provider. The heuristic pair needs no credentials and no client.
func buildProviders(cfg *config.Config) (classify.Classifier, orchestrate.Planner, *api.Client, error) {
	switch cfg.Classifier.Provider {
	case "heuristic":
		return classify.Heuristic{}, orchestrate.HeuristicPlanner{}, nil, nil

	case "anthropic", "bedrock":
		client, err := api.NewClient(api.ClientConfig{
			Model:         anthropic.Model(cfg.Classifier.Model),
			APIKey:        cfg.Classifier.APIKey,
			UseAWSBedrock: cfg.Classifier.Provider == "bedrock",
			AWSRegion:     cfg.Classifier.AWSRegion,
			AWSProfile:    cfg.Classifier.AWSProfile,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build %s client: %w", cfg.Classifier.Provider, err)
		}
		return classify.NewAnthropic(client), orchestrate.NewAnthropicPlanner(client), client, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown classifier provider %q", cfg.Classifier.Provider)
	}
}
