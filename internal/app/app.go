package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	sfcfg "signalflow/internal/config"
	"signalflow/internal/ingest"
	"signalflow/internal/logger"
	"signalflow/internal/store/dispatchlog"
	"signalflow/internal/store/orderstore"
	apihttp "signalflow/internal/transport/http/api"
)

// App owns application-level orchestration: load config, wire the
// dependency graph, run the HTTP intake until shutdown.
type App struct {
	cfg      *sfcfg.Config
	server   *apihttp.Server
	ingestor *ingest.Ingestor
	orders   *orderstore.Store
	attempts *dispatchlog.Store
	Summary  *StartupSummary
}

// NewApp builds the application object from configuration (not started).
func NewApp(cfg *sfcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run serves the intake API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("api http server error: %w", err)
		}
		return nil
	})

	err := group.Wait()
	a.Close()
	return err
}

// Close releases the store handles.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.orders != nil {
		if err := a.orders.Close(); err != nil {
			logger.Warnf("closing order store: %v", err)
		}
	}
	if a.attempts != nil {
		if err := a.attempts.Close(); err != nil {
			logger.Warnf("closing dispatch log: %v", err)
		}
	}
}

// Ingestor exposes the signal pipeline (for testing and replay harnesses).
func (a *App) Ingestor() *ingest.Ingestor {
	if a == nil {
		return nil
	}
	return a.ingestor
}
