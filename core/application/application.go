package application

import (
	"context"
	"errors"

	"github.com/mudler/genstudio/core/chat"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/persistence"
	"github.com/mudler/genstudio/core/services"
	"github.com/mudler/genstudio/core/trace"
	"github.com/mudler/xlog"
)

type Application struct {
	applicationConfig *config.ApplicationConfig
	schemaLoader      *config.ModelSchemaLoader
	persister         persistence.Store

	chats       *chat.Manager
	workspaces  *services.WorkspaceService
	generations *services.GenerationService
	metrics     *services.MetricsService
	traces      *trace.Buffer
	events      *services.NATSPublisher
	watcher     *configFileHandler
}

func newApplication(appConfig *config.ApplicationConfig) *Application {
	return &Application{
		applicationConfig: appConfig,
		schemaLoader:      config.NewModelSchemaLoader(),
	}
}

func (a *Application) ApplicationConfig() *config.ApplicationConfig {
	return a.applicationConfig
}

func (a *Application) ModelSchemaLoader() *config.ModelSchemaLoader {
	return a.schemaLoader
}

func (a *Application) Chats() *chat.Manager {
	return a.chats
}

func (a *Application) Workspaces() *services.WorkspaceService {
	return a.workspaces
}

func (a *Application) GenerationService() *services.GenerationService {
	return a.generations
}

// MetricsService is nil when metrics are disabled.
func (a *Application) MetricsService() *services.MetricsService {
	return a.metrics
}

// Traces is nil when tracing is disabled.
func (a *Application) Traces() *trace.Buffer {
	return a.traces
}

// Shutdown waits for in-flight generations, then releases every resource.
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error
	if a.generations != nil {
		if err := a.generations.Shutdown(ctx); err != nil {
			xlog.Warn("Generations still in flight at shutdown", "error", err)
			errs = append(errs, err)
		}
	}
	if a.chats != nil {
		a.chats.Stop()
	}
	if a.watcher != nil {
		errs = append(errs, a.watcher.Stop())
	}
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	a.traces.Close()
	if a.metrics != nil {
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	if c, ok := a.persister.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
