package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ferhates/earshot/internal/api"
	"github.com/ferhates/earshot/internal/config"
	"github.com/ferhates/earshot/internal/session"
	"github.com/ferhates/earshot/internal/storage/sqlite"
	"github.com/ferhates/earshot/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	db, err := sql.Open("sqlite", cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	sessionStorage := sqlite.NewSessionStorage(db, log)

	newSink := func(sessionID string) session.HistorySink {
		return sqlite.NewSessionSink(sessionStorage, sessionID, log)
	}
	manager := session.NewManager(cfg, newSink, log)

	router := api.NewRouter(manager, sessionStorage, cfg, log)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router.Routes(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", logger.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", logger.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("HTTP shutdown incomplete", logger.Error(err))
	}

	// The session owns the microphone and audio devices; release them
	// before the storage underneath the history sink goes away.
	manager.Teardown()

	return nil
}
