package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/isdelr/owasp-lab-be/internal/api"
	"github.com/isdelr/owasp-lab-be/internal/auth"
	"github.com/isdelr/owasp-lab-be/internal/config"
	"github.com/isdelr/owasp-lab-be/internal/csrf"
	"github.com/isdelr/owasp-lab-be/internal/database"
	"github.com/isdelr/owasp-lab-be/internal/logger"
	"github.com/isdelr/owasp-lab-be/internal/monitoring"
	"github.com/isdelr/owasp-lab-be/internal/ratelimit"
	"github.com/isdelr/owasp-lab-be/internal/services"
	"github.com/isdelr/owasp-lab-be/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "owasp-lab",
		Short:         "Backend for the OWASP authentication and CSRF lab",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})
	root.AddCommand(newHashPasswordCmd())
	return root
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the bcrypt hash of a password read from the argument or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}
			hash, err := auth.NewPasswordHasher(cost).Hash(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 10, "bcrypt cost")
	return cmd
}

func newCSRFStore(cfg *config.Config) (csrf.Store, func(), error) {
	if cfg.CSRFStore != "redis" {
		return csrf.NewMemoryStore(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return csrf.NewRedisStore(client, "", cfg.JWTTTL), func() { client.Close() }, nil
}

func serve() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.IsProduction())

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	store, closeStore, err := newCSRFStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Set up WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run(ctx)

	// Set up services
	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	userService := services.NewUserService(db, hasher)
	sessionService := services.NewSessionService(db)
	auditService := services.NewAuditService(db, hub)

	if err := services.SeedDemoUsers(ctx, userService); err != nil {
		return fmt.Errorf("failed to seed demo users: %w", err)
	}

	signer, err := auth.NewHMACSigner(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}
	loginLimiter := ratelimit.New("login", cfg.LoginRateLimit, cfg.LoginRateWindow)

	// Set up and run the background sweeper
	sweeper, err := monitoring.NewSweeper(cfg.SweepSchedule, sessionService, loginLimiter)
	if err != nil {
		return err
	}
	sweeper.Run()

	// Set up router
	router := api.NewRouter(api.Deps{
		Config:       cfg,
		Users:        userService,
		Sessions:     sessionService,
		Audit:        auditService,
		Hasher:       hasher,
		Signer:       signer,
		Verifier:     auth.NewVerifier(cfg.JWTSecret),
		CSRF:         csrf.NewManager(store),
		Hub:          hub,
		LoginLimiter: loginLimiter,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.ServerPort).Str("csrf_store", cfg.CSRFStore).Bool("vulnerable_endpoints", cfg.EnableVulnerableEndpoints).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sweeper.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server exiting")
	return nil
}

func init() {
	// Commands run before logger.Init still get readable output.
	logger.Init("info", os.Getenv("APP_ENV") == "production")
}
