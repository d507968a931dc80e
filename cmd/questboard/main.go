package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/questboard/internal/database"
	"github.com/dukerupert/questboard/internal/logging"
	"github.com/dukerupert/questboard/internal/proof"
	"github.com/dukerupert/questboard/internal/push"
	"github.com/dukerupert/questboard/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("QUESTBOARD_LOG_LEVEL"))

	port := os.Getenv("QUESTBOARD_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("QUESTBOARD_DB_PATH")
	if dbPath == "" {
		dbPath = "questboard.db"
	}

	baseURL := os.Getenv("QUESTBOARD_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}

	inviteSecret := os.Getenv("QUESTBOARD_INVITE_SECRET")
	if inviteSecret == "" {
		logger.Error("QUESTBOARD_INVITE_SECRET is required")
		os.Exit(1)
	}

	pushCfg := push.Config{
		VAPIDPublicKey:  os.Getenv("QUESTBOARD_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("QUESTBOARD_VAPID_PRIVATE_KEY"),
		Subscriber:      os.Getenv("QUESTBOARD_VAPID_SUBSCRIBER"),
	}
	if pushCfg.VAPIDPublicKey == "" || pushCfg.VAPIDPrivateKey == "" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			logger.Error("generate VAPID keys", "error", err)
			os.Exit(1)
		}
		logger.Warn("no VAPID keys configured, generated ephemeral pair; push subscriptions will not survive restarts")
		pushCfg.VAPIDPublicKey = pub
		pushCfg.VAPIDPrivateKey = priv
	}

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := server.New(db, server.Config{
		BaseURL:        baseURL,
		InviteSecret:   inviteSecret,
		InviteLifetime: 7 * 24 * time.Hour,
		SweepInterval:  time.Minute,
		Proof: proof.Config{
			Endpoint:      os.Getenv("QUESTBOARD_S3_ENDPOINT"),
			Bucket:        os.Getenv("QUESTBOARD_S3_BUCKET"),
			Region:        os.Getenv("QUESTBOARD_S3_REGION"),
			AccessKey:     os.Getenv("QUESTBOARD_S3_ACCESS_KEY"),
			SecretKey:     os.Getenv("QUESTBOARD_S3_SECRET_KEY"),
			PublicBaseURL: os.Getenv("QUESTBOARD_S3_PUBLIC_URL"),
		},
		Push: pushCfg,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Sweeper().Start(ctx)

	// Periodic cleanup of expired sessions and stale rate-limit entries.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					logger.Error("delete expired sessions", "error", err)
				} else if n > 0 {
					logger.Info("deleted expired sessions", "count", n)
				}
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("Questboard running at http://localhost:%s\n", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	srv.Sweeper().Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
