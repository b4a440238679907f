package main

import (
	"chat-service/internal/api/handlers"
	"chat-service/internal/app"
	"chat-service/internal/auth"
	"chat-service/internal/config"
	"chat-service/internal/logger"
	"chat-service/internal/ratelimit"
	"chat-service/internal/repository"
	"chat-service/internal/repository/memory"
	"chat-service/internal/service/llm"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Log.Debug("No .env file loaded")
	}

	appConfig, err := config.LoadConfig()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load configuration")
	}
	logger.Configure(appConfig.Log.Level, appConfig.Log.Format)

	// Initialize snapshot storage and rehydrate sessions
	snapshots, err := repository.NewSnapshotStore(appConfig)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize snapshot store")
	}
	defer snapshots.Close()

	store := memory.NewStore(snapshots)
	if err := store.Load(context.Background()); err != nil {
		logger.Log.WithError(err).Fatal("Failed to load chat history")
	}

	engine, err := llm.NewEngine(appConfig.Engine)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize inference engine")
	}

	users, err := auth.NewFileUserStore(appConfig.Auth.UsersFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load users")
	}
	tokens := auth.NewJWTResolver(appConfig.Auth.JWTSecret, appConfig.Auth.TokenExpiration)

	cfg := app.NewConfig(appConfig, store, engine, tokens)

	sweeper, err := ratelimit.NewSweeper(cfg.Limiter, appConfig.RateLimit.SweepSchedule)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to schedule rate limit sweeper")
	}
	sweeper.Start()

	server := &http.Server{
		Addr:    ":" + appConfig.Server.Port,
		Handler: handlers.NewRouter(cfg, auth.NewLoginHandler(users, tokens)),
	}

	go func() {
		logger.Log.WithFields(logrus.Fields{
			"port":     appConfig.Server.Port,
			"storage":  appConfig.Storage.Backend,
			"engine":   appConfig.Engine.Provider,
			"rate":     appConfig.RateLimit.Limit,
			"window":   appConfig.RateLimit.Window.String(),
			"frontend": appConfig.Server.FrontendOrigin,
		}).Info("Server starting")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.WithError(err).Fatal("Server failed to start")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Log.WithField("signal", sig.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Warn("Server did not shut down cleanly")
	}
	sweeper.Stop(ctx)

	if err := store.Snapshot(ctx); err != nil {
		logger.Log.WithError(err).Error("Final snapshot failed")
	}

	userCount, sessionCount, entryCount := store.Stats()
	logger.Log.WithFields(logrus.Fields{
		"users":    userCount,
		"sessions": sessionCount,
		"entries":  entryCount,
	}).Info("Server stopped")
}
