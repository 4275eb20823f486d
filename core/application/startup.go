package application

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mudler/genstudio/core/backend"
	"github.com/mudler/genstudio/core/chat"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/persistence"
	"github.com/mudler/genstudio/core/services"
	"github.com/mudler/genstudio/core/trace"
	"github.com/mudler/genstudio/internal"
	"github.com/mudler/genstudio/pkg/replicate"
	"github.com/mudler/genstudio/pkg/utils"
	"github.com/mudler/xlog"
)

// GeneratedContentRoute is where the local output store is served.
const GeneratedContentRoute = "/generated-images"

// outputs can be much larger than uploads (videos)
const maxOutputBytes = 512 << 20

func New(opts ...config.AppOption) (*Application, error) {
	options := config.NewApplicationConfig(opts...)
	application := newApplication(options)

	xlog.Info("Starting genstudio", "modelsPath", options.ModelsPath, "stateBackend", options.StateBackend)
	xlog.Info("genstudio version", "version", internal.PrintableVersion())

	if err := application.loadSchemas(); err != nil {
		return nil, err
	}

	persister, err := openPersistence(options)
	if err != nil {
		return nil, fmt.Errorf("unable to open state backend %q: %w", options.StateBackend, err)
	}
	application.persister = persister

	application.chats = chat.NewManager(persister, chat.Options{
		MaxPersistedSessions: options.MaxPersistedSessions,
		MaxPersistedMessages: options.MaxPersistedMessages,
	})
	if err := application.chats.StartRetention(options.RetentionSchedule, options.SessionRetentionDays); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", options.RetentionSchedule, err)
	}
	application.workspaces = services.NewWorkspaceService(persister, application.schemaLoader, options.DefaultModel)

	genOpts, err := application.generationOptions()
	if err != nil {
		return nil, err
	}
	generator, err := application.generator()
	if err != nil {
		return nil, err
	}
	application.generations = services.NewGenerationService(generator, genOpts...)

	if options.WatchModels && options.ModelsPath != "" {
		w, err := newConfigFileHandler(options, application.schemaLoader)
		if err != nil {
			return nil, err
		}
		if err := w.Watch(); err != nil {
			xlog.Error("Cannot watch the models directory", "path", options.ModelsPath, "error", err)
		} else {
			application.watcher = w
		}
	}

	if options.Debug {
		for _, s := range application.schemaLoader.GetAllModelSchemas() {
			xlog.Debug("Model schema", "id", s.ID, "model", s.Model, "properties", s.Properties.Len())
		}
	}

	return application, nil
}

func (a *Application) loadSchemas() error {
	if err := a.schemaLoader.LoadDefaults(); err != nil {
		return fmt.Errorf("loading built-in model schemas: %w", err)
	}
	path := a.applicationConfig.ModelsPath
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("unable to create models path %q: %w", path, err)
	}
	if err := a.schemaLoader.LoadModelSchemasFromPath(path); err != nil {
		xlog.Error("error loading model schemas", "path", path, "error", err)
	}
	return nil
}

func openPersistence(o *config.ApplicationConfig) (persistence.Store, error) {
	path := o.StatePath
	if path == "" {
		switch o.StateBackend {
		case config.StateBackendSQLite:
			path = "genstudio.db"
		default:
			path = "genstudio-state.json"
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, err
		}
	}
	return persistence.Open(persistence.Backend(o.StateBackend), persistence.Options{
		Path:       path,
		DSN:        o.DatabaseURL,
		QuotaBytes: o.PersistQuotaBytes,
	})
}

func (a *Application) generator() (backend.Generator, error) {
	o := a.applicationConfig
	if o.ReplicateAPIToken == "" {
		xlog.Warn("No Replicate API token configured, generations will fail")
	}
	client := replicate.New(o.ReplicateAPIToken,
		replicate.WithBaseURL(o.ReplicateBaseURL),
		replicate.WithPollInterval(o.GenerationPollInterval),
	)

	var store backend.OutputStore
	switch {
	case o.S3Bucket != "":
		s3, err := backend.NewS3OutputStore(o.Context, backend.S3Options{
			Bucket:          o.S3Bucket,
			Region:          o.S3Region,
			Endpoint:        o.S3Endpoint,
			Prefix:          o.S3Prefix,
			PublicURL:       o.S3PublicURL,
			AccessKeyID:     o.S3AccessKeyID,
			SecretAccessKey: o.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		store = s3
	case o.EmbedOutputs && o.GeneratedContentDir != "":
		local, err := backend.NewLocalOutputStore(o.GeneratedContentDir, GeneratedContentRoute)
		if err != nil {
			return nil, fmt.Errorf("unable to create generated content dir: %w", err)
		}
		store = local
	}
	if store == nil {
		return backend.NewReplicateGenerator(client, nil), nil
	}
	fetcher := utils.NewFetcher(maxOutputBytes)
	return backend.NewReplicateGenerator(client, backend.NewOutputEmbedder(store, fetcher)), nil
}

func (a *Application) generationOptions() ([]services.GenerationOption, error) {
	o := a.applicationConfig
	opts := []services.GenerationOption{
		services.WithFetcher(utils.NewFetcher(int64(o.UploadLimitMB) << 20)),
	}
	if o.GeneratedContentDir != "" {
		opts = append(opts, services.WithLocalOutputs(GeneratedContentRoute, o.GeneratedContentDir))
	}
	if !o.DisableMetrics {
		m, err := services.NewMetricsService()
		if err != nil {
			return nil, fmt.Errorf("unable to start metrics: %w", err)
		}
		a.metrics = m
		opts = append(opts, services.WithMetrics(m))
	}
	if o.EnableTracing {
		a.traces = trace.NewBuffer(o.TracingMaxItems)
		opts = append(opts, services.WithTraces(a.traces))
	}
	if o.NATSURL != "" {
		p, err := services.NewNATSPublisher(o.NATSURL, o.NATSSubject)
		if err != nil {
			// events are optional, generations do not depend on them
			xlog.Error("Cannot connect to NATS, generation events disabled", "url", o.NATSURL, "error", err)
		} else {
			a.events = p
			opts = append(opts, services.WithEvents(p))
		}
	}
	return opts, nil
}
