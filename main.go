package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"carbid/api"
)

func main() {
	// .env 只在本機開發時存在
	_ = godotenv.Load()

	args := ParseArgs()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(args.LogLevel)}))
	slog.SetDefault(logger)
	if err := args.Validate(); err != nil {
		logger.Error("Invalid arguments", slog.Any("error", err))
		os.Exit(2)
	}
	key, err := LoadPrivateKey(args.PrivateKeyFile)
	if err != nil {
		logger.Error("Fail to load signing key", slog.Any("error", err))
		os.Exit(1)
	}
	args.ServerConfig.Auth.PrivateKey = key

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := api.NewServer(ctx, args.ServerConfig)
	if err != nil {
		logger.Error("Fail to create server", slog.Any("error", err))
		os.Exit(1)
	}
	if err := server.Start(); err != nil {
		logger.Error("Fail to start background workers", slog.Any("error", err))
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:    args.ServerURL,
		Handler: server.Router(),
	}
	go func() {
		logger.Info("Listening", slog.String("addr", args.ServerURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped unexpectedly", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), args.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Fail to shutdown http server", slog.Any("error", err))
	}
	if err := server.Close(); err != nil {
		logger.Error("Fail to close server", slog.Any("error", err))
	}
}
