package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mudler/genstudio/core/application"
	cliContext "github.com/mudler/genstudio/core/cli/context"
	"github.com/mudler/genstudio/core/config"
	httpapi "github.com/mudler/genstudio/core/http"
	"github.com/mudler/genstudio/internal"
	"github.com/mudler/genstudio/pkg/signals"
	"github.com/mudler/xlog"
)

type RunCMD struct {
	ModelsPath   string `env:"GENSTUDIO_MODELS_PATH,MODELS_PATH" type:"path" default:"${basepath}/models" help:"Directory with model schema files (yaml, json or toml) overlaid on the built-in ones" group:"models"`
	WatchModels  bool   `env:"GENSTUDIO_WATCH_MODELS,WATCH_MODELS" default:"true" negatable:"" help:"Reload model schemas and api_keys.json when files in the models path change" group:"models"`
	DefaultModel string `env:"GENSTUDIO_DEFAULT_MODEL,DEFAULT_MODEL" default:"flux-schnell" help:"Model a new workspace starts on" group:"models"`

	ReplicateAPIToken string        `env:"REPLICATE_API_TOKEN,GENSTUDIO_REPLICATE_API_TOKEN" help:"Replicate API token" group:"replicate"`
	ReplicateBaseURL  string        `env:"GENSTUDIO_REPLICATE_BASE_URL" default:"https://api.replicate.com/v1" help:"Replicate API base URL" group:"replicate"`
	PollInterval      time.Duration `env:"GENSTUDIO_POLL_INTERVAL" default:"1s" help:"Interval between prediction status polls" group:"replicate"`

	GeneratedContentPath string `env:"GENSTUDIO_GENERATED_CONTENT_PATH,GENERATED_CONTENT_PATH" type:"path" help:"Directory where generated outputs are re-hosted, served under /generated-images" group:"outputs"`
	EmbedOutputs         bool   `env:"GENSTUDIO_EMBED_OUTPUTS" help:"Download generated outputs instead of linking to the provider's short-lived URLs" group:"outputs"`
	S3Bucket             string `env:"GENSTUDIO_S3_BUCKET" help:"Upload generated outputs to this S3 bucket" group:"outputs"`
	S3Region             string `env:"GENSTUDIO_S3_REGION,AWS_REGION" help:"S3 region" group:"outputs"`
	S3Endpoint           string `env:"GENSTUDIO_S3_ENDPOINT" help:"Custom S3 endpoint, for S3 compatible stores" group:"outputs"`
	S3Prefix             string `env:"GENSTUDIO_S3_PREFIX" default:"generations/" help:"Key prefix of uploaded outputs" group:"outputs"`
	S3PublicURL          string `env:"GENSTUDIO_S3_PUBLIC_URL" help:"Public base URL of the bucket, presigned URLs are used otherwise" group:"outputs"`
	S3AccessKeyID        string `env:"GENSTUDIO_S3_ACCESS_KEY_ID,AWS_ACCESS_KEY_ID" help:"S3 access key, the default AWS credential chain is used otherwise" group:"outputs"`
	S3SecretAccessKey    string `env:"GENSTUDIO_S3_SECRET_ACCESS_KEY,AWS_SECRET_ACCESS_KEY" help:"S3 secret key" group:"outputs"`

	StateBackend          string `env:"GENSTUDIO_STATE_BACKEND" default:"file" enum:"file,sqlite,postgres,memory" help:"Where chat sessions are persisted [${enum}]" group:"storage"`
	StatePath             string `env:"GENSTUDIO_STATE_PATH" type:"path" help:"State file (file backend) or database file (sqlite backend)" group:"storage"`
	DatabaseURL           string `env:"GENSTUDIO_DATABASE_URL,DATABASE_URL" help:"Postgres DSN for the postgres backend" group:"storage"`
	PersistQuotaBytes     int    `env:"GENSTUDIO_PERSIST_QUOTA_BYTES" default:"5242880" help:"Maximum size of one owner's persisted chat state" group:"storage"`
	MaxPersistedSessions  int    `env:"GENSTUDIO_MAX_PERSISTED_SESSIONS" default:"20" help:"Sessions kept per owner when persisting" group:"storage"`
	MaxPersistedMessages  int    `env:"GENSTUDIO_MAX_PERSISTED_MESSAGES" default:"100" help:"Messages kept per session when persisting" group:"storage"`
	SessionRetentionDays  int    `env:"GENSTUDIO_SESSION_RETENTION_DAYS" default:"0" help:"Drop chat sessions idle for longer than this many days, 0 keeps them forever" group:"storage"`
	SessionRetentionCheck string `env:"GENSTUDIO_SESSION_RETENTION_SCHEDULE" default:"@hourly" help:"Cron schedule of the idle session sweep" group:"storage"`

	Address                string `env:"GENSTUDIO_ADDRESS,ADDRESS" default:":8080" help:"Bind address for the API server" group:"api"`
	UploadLimit            int    `env:"GENSTUDIO_UPLOAD_LIMIT,UPLOAD_LIMIT" default:"15" help:"Default upload-limit in MB" group:"api"`
	CORS                   bool   `env:"GENSTUDIO_CORS,CORS" help:"Enables CORS middleware" group:"api"`
	CORSAllowOrigins       string `env:"GENSTUDIO_CORS_ALLOW_ORIGINS,CORS_ALLOW_ORIGINS" group:"api"`
	CSRF                   bool   `env:"GENSTUDIO_CSRF" help:"Enables CSRF middleware" group:"api"`
	DisableMetricsEndpoint bool   `env:"GENSTUDIO_DISABLE_METRICS_ENDPOINT,DISABLE_METRICS_ENDPOINT" default:"false" help:"Disable the /metrics endpoint" group:"api"`
	EnableTracing          bool   `env:"GENSTUDIO_ENABLE_TRACING,ENABLE_TRACING" help:"Keep a trace of recent generations, served under /api/traces" group:"api"`
	TracingMaxItems        int    `env:"GENSTUDIO_TRACING_MAX_ITEMS" default:"100" help:"Maximum number of generation traces to keep" group:"api"`
	NATSURL                string `env:"GENSTUDIO_NATS_URL,NATS_URL" help:"Publish generation lifecycle events to this NATS server" group:"api"`
	NATSSubject            string `env:"GENSTUDIO_NATS_SUBJECT" default:"genstudio.generations" help:"Subject prefix of generation events" group:"api"`

	APIKeys                            []string `env:"GENSTUDIO_API_KEY,API_KEY" help:"List of API Keys to enable API authentication. When this is set, all the requests must be authenticated with one of these API keys. A key may be given as name=key to name its owner" group:"hardening"`
	OIDCIssuer                         string   `env:"GENSTUDIO_OIDC_ISSUER" help:"Accept ID tokens from this OpenID Connect issuer" group:"hardening"`
	OIDCClientID                       string   `env:"GENSTUDIO_OIDC_CLIENT_ID" help:"Expected audience of OpenID Connect ID tokens" group:"hardening"`
	OpaqueErrors                       bool     `env:"GENSTUDIO_OPAQUE_ERRORS" default:"false" help:"If true, all error responses are replaced with blank 500 errors. This is intended only for hardening against information leaks and is normally not recommended." group:"hardening"`
	UseSubtleKeyComparison             bool     `env:"GENSTUDIO_SUBTLE_KEY_COMPARISON" default:"false" help:"If true, API Key validation comparisons will be performed using constant-time comparisons rather than simple equality. This trades off performance on each request for resiliancy against timing attacks." group:"hardening"`
	DisableApiKeyRequirementForHttpGet bool     `env:"GENSTUDIO_DISABLE_API_KEY_REQUIREMENT_FOR_HTTP_GET" default:"false" help:"If true, a valid API key is not required to issue GET requests to portions of the web ui. This should only be enabled in secure testing environments" group:"hardening"`
	HttpGetExemptedEndpoints           []string `env:"GENSTUDIO_HTTP_GET_EXEMPTED_ENDPOINTS" default:"^/$,^/healthz$,^/readyz$,^/api/models$" help:"If GENSTUDIO_DISABLE_API_KEY_REQUIREMENT_FOR_HTTP_GET is overriden to true, this is the list of endpoints to exempt. Only adjust this in case of a security incident or as a result of a personal security posture review" group:"hardening"`

	ShutdownTimeout time.Duration `env:"GENSTUDIO_SHUTDOWN_TIMEOUT" default:"30s" help:"How long to wait for in-flight requests and generations on shutdown" group:"api"`

	Version bool
}

func (r *RunCMD) appOptions(ctx *cliContext.Context, base context.Context) []config.AppOption {
	opts := []config.AppOption{
		config.WithContext(base),
		config.WithModelsPath(r.ModelsPath),
		config.WithDefaultModel(r.DefaultModel),
		config.WithDebug(ctx.Debug()),
		config.WithUploadLimitMB(r.UploadLimit),
		config.WithCors(r.CORS),
		config.WithCorsAllowOrigins(r.CORSAllowOrigins),
		config.WithCsrf(r.CSRF),
		config.WithApiKeys(r.APIKeys),
		config.WithOIDC(r.OIDCIssuer, r.OIDCClientID),
		config.WithOpaqueErrors(r.OpaqueErrors),
		config.WithSubtleKeyComparison(r.UseSubtleKeyComparison),
		config.WithDisableApiKeyRequirementForHttpGet(r.DisableApiKeyRequirementForHttpGet),
		config.WithHttpGetExemptedEndpoints(r.HttpGetExemptedEndpoints),
		config.WithReplicateAPIToken(r.ReplicateAPIToken),
		config.WithReplicateBaseURL(r.ReplicateBaseURL),
		config.WithGenerationPollInterval(r.PollInterval),
		config.WithEmbedOutputs(r.EmbedOutputs),
		config.WithGeneratedContentDir(r.GeneratedContentPath),
		config.WithS3Output(r.S3Bucket, r.S3Region, r.S3Endpoint, r.S3Prefix, r.S3PublicURL),
		config.WithStateBackend(config.StateBackend(r.StateBackend)),
		config.WithStatePath(r.StatePath),
		config.WithDatabaseURL(r.DatabaseURL),
		config.WithPersistQuotaBytes(r.PersistQuotaBytes),
		config.WithPersistenceCaps(r.MaxPersistedSessions, r.MaxPersistedMessages),
		config.WithSessionRetention(r.SessionRetentionDays, r.SessionRetentionCheck),
		config.WithNATS(r.NATSURL, r.NATSSubject),
		config.WithTracing(r.EnableTracing, r.TracingMaxItems),
	}

	if r.S3AccessKeyID != "" {
		opts = append(opts, config.WithS3Credentials(r.S3AccessKeyID, r.S3SecretAccessKey))
	}

	if r.WatchModels {
		opts = append(opts, config.EnableModelsWatcher)
	}

	if r.DisableMetricsEndpoint {
		opts = append(opts, config.DisableMetricsEndpoint)
	}

	return opts
}

func (r *RunCMD) Run(ctx *cliContext.Context) error {
	if r.Version {
		fmt.Println(internal.PrintableVersion())
		return nil
	}

	if r.ReplicateAPIToken == "" {
		xlog.Warn("No Replicate API token configured, generations will be rejected by the provider")
	}

	if err := os.MkdirAll(r.ModelsPath, 0750); err != nil {
		return fmt.Errorf("creating models path: %w", err)
	}

	sigCtx, stop := signals.TerminationContext(context.Background())
	defer stop()

	app, err := application.New(r.appOptions(ctx, sigCtx)...)
	if err != nil {
		return fmt.Errorf("failed basic startup tasks with error %s", err.Error())
	}

	appHTTP, err := httpapi.API(app)
	if err != nil {
		xlog.Error("error during HTTP App construction", "error", err)
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- appHTTP.Start(r.Address)
	}()

	xlog.Info("genstudio is started and running", "address", r.Address, "version", internal.PrintableVersion())

	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.ShutdownTimeout)
	defer cancel()

	if serr := appHTTP.Shutdown(shutdownCtx); serr != nil {
		xlog.Error("error while stopping the HTTP server", "error", serr)
	}
	if serr := app.Shutdown(shutdownCtx); serr != nil {
		xlog.Error("error while stopping the application", "error", serr)
	}
	return err
}
