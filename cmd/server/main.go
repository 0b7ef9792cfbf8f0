/*
main.go - Server entry point

PURPOSE:
  Wires configuration, logging, storage, the workflow engine, and the
  HTTP API together, then runs until interrupted.

STARTUP SEQUENCE:
  1. Load configuration (viper: file, env, defaults)
  2. Build the zap logger
  3. Open the SQLite store (migrates on open)
  4. Load the catalog and status graph (JSON overrides or built-ins)
  5. Start the HTTP server
  6. Wait for SIGINT/SIGTERM, then drain with a shutdown deadline

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Route definitions
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/advisory-engine/advisory"
	"github.com/warp/advisory-engine/api"
	"github.com/warp/advisory-engine/config"
	"github.com/warp/advisory-engine/engine"
	"github.com/warp/advisory-engine/factory"
	"github.com/warp/advisory-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	st, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	log.Info("store opened", zap.String("path", cfg.Store.Path))

	catalog, rules, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return err
	}

	wf := engine.NewWorkflow(st, rules, catalog, logPublisher{log: log.Named("events")})
	h := api.NewHandler(st, wf, rules, catalog, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(h, cfg.Server.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// loadCatalog resolves the catalog and status graph, preferring the JSON
// override files when configured.
func loadCatalog(cfg config.CatalogConfig) (*advisory.Catalog, *engine.RuleTable, error) {
	catalog := advisory.DefaultCatalog()
	rules := advisory.DefaultRuleTable()
	f := factory.NewCatalogFactory()

	if cfg.File != "" {
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read catalog file: %w", err)
		}
		catalog, err = f.ParseCatalog(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse catalog: %w", err)
		}
	}
	if cfg.RulesFile != "" {
		data, err := os.ReadFile(cfg.RulesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read rules file: %w", err)
		}
		rules, err = f.ParseRules(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse rules: %w", err)
		}
	}
	return catalog, rules, nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// logPublisher writes workflow events to the log. A message broker could
// replace it without touching the engine.
type logPublisher struct {
	log *zap.Logger
}

func (p logPublisher) Publish(e engine.Event) {
	fields := []zap.Field{
		zap.String("kind", string(e.Kind)),
		zap.String("request_id", e.RequestID),
	}
	for k, v := range e.Payload {
		fields = append(fields, zap.String(k, v))
	}
	p.log.Info("event", fields...)
}
