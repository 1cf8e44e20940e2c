package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Ashwin-0055/flowsync/database"
	"github.com/Ashwin-0055/flowsync/handlers"
	"github.com/Ashwin-0055/flowsync/services"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "flowsync",
	Short: "Collaborative Kanban board server",
	Long: `flowsync serves shared Kanban boards with live updates, drag-and-drop
reordering, invitations and AI-assisted planning.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(envFile)
		if err != nil {
			return fmt.Errorf("error loading %s file: %w", envFile, err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var migrateUser string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move a user's private board onto a shared board",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(envFile)
		if err != nil {
			return fmt.Errorf("error loading %s file: %w", envFile, err)
		}

		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		store := database.NewStore(db)
		boards := services.NewBoardService(store, services.NewNotificationService(store))
		board, err := boards.LoadBoardForUser(cmd.Context(), migrateUser)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User %s is on board %s (%q)\n", migrateUser, board.ID, board.Title)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file to load environment variables from")

	migrateCmd.Flags().StringVar(&migrateUser, "user", "", "id of the user to migrate")
	migrateCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func openDB(cfg Config) (*sql.DB, error) {
	db, err := database.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func serve(ctx context.Context, cfg Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Initialize services
	store := database.NewStore(db)
	hub := services.NewHub()
	notifications := services.NewNotificationService(store)
	deps := handlers.Deps{
		Store:          store,
		Auth:           services.NewAuthService(store, services.NewSMTPMailer(cfg.SMTP), cfg.JWTSecret),
		Boards:         services.NewBoardService(store, notifications),
		Notifications:  notifications,
		Dispatcher:     services.NewDispatcher(store, hub),
		Assistant:      services.NewAssistant(services.NewLLMClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)),
		Hub:            hub,
		AllowedOrigins: cfg.CORSOrigins,
		DevMagicLinks:  cfg.DevMagicLinks,
	}
	if cfg.DevMagicLinks {
		log.Printf("Warning: DEV_MAGIC_LINKS is set, login responses include sign-in links")
	} else if !cfg.SMTP.Configured() {
		log.Printf("Warning: SMTP is not configured and DEV_MAGIC_LINKS is off, magic links cannot be delivered")
	}

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(handlers.NewRouter(deps)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if n := store.CloseSubscriptions(); n > 0 {
			log.Printf("Closed %d live board feeds", n)
		}
		return err
	})
	return g.Wait()
}
