package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"physio-annotator/internal/annotation"
	"physio-annotator/internal/detect"
	"physio-annotator/internal/platform/config"
	"physio-annotator/internal/platform/logger"
	"physio-annotator/internal/platform/metrics"
	"physio-annotator/internal/source"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	workingRate := config.GetEnvInt("WORKING_RATE", source.DefaultWorkingRate)
	folders := config.GetFolders()

	log := logger.New(logLevel, logFormat)

	codec := annotation.NewCodec(log)
	src := source.New(source.Config{
		DataFolder:      folders.Data,
		OutputFolder:    folders.Output,
		WorkingRate:     workingRate,
		DefaultSession:  config.GetEnv("DEFAULT_SESSION", "ses-session1"),
		DefaultModality: config.GetEnv("DEFAULT_MODALITY", "beh"),
		DefaultPattern:  config.GetEnv("DEFAULT_PATTERN", "task-"),
	}, codec, log)

	repo := annotation.NewInMemoryRepository()
	svc := annotation.NewService(repo, src, detect.New(), codec, log)
	met := metrics.New()
	h := annotation.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetOpenSessions(repo.OpenSessionCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"data_folder", folders.Data,
		"output_folder", folders.Output,
		"working_rate", workingRate,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections",
		"open_sessions", repo.OpenSessionCount())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
