package config

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/mudler/xlog"
)

// StateBackend names where chat sessions are persisted.
type StateBackend string

const (
	StateBackendFile     StateBackend = "file"
	StateBackendSQLite   StateBackend = "sqlite"
	StateBackendPostgres StateBackend = "postgres"
	StateBackendMemory   StateBackend = "memory"
)

type ApplicationConfig struct {
	Context       context.Context
	ModelsPath    string
	WatchModels   bool
	DefaultModel  string
	UploadLimitMB int
	Debug         bool

	CORS             bool
	CSRF             bool
	CORSAllowOrigins string

	ApiKeys                            []string
	apiKeysMu                          sync.RWMutex
	UseSubtleKeyComparison             bool
	DisableApiKeyRequirementForHttpGet bool
	HttpGetExemptedEndpoints           []*regexp.Regexp
	OIDCIssuer                         string
	OIDCClientID                       string

	OpaqueErrors   bool
	DisableMetrics bool

	ReplicateAPIToken      string
	ReplicateBaseURL       string
	GenerationPollInterval time.Duration

	// Generated outputs are downloaded and re-hosted when set
	EmbedOutputs        bool
	GeneratedContentDir string
	S3Bucket            string
	S3Region            string
	S3Endpoint          string
	S3Prefix            string
	S3PublicURL         string
	S3AccessKeyID       string
	S3SecretAccessKey   string

	StateBackend         StateBackend
	StatePath            string
	DatabaseURL          string
	PersistQuotaBytes    int
	MaxPersistedSessions int
	MaxPersistedMessages int

	SessionRetentionDays int
	RetentionSchedule    string

	NATSURL     string
	NATSSubject string

	EnableTracing   bool
	TracingMaxItems int
}

type AppOption func(*ApplicationConfig)

func NewApplicationConfig(o ...AppOption) *ApplicationConfig {
	opt := &ApplicationConfig{
		Context:                context.Background(),
		DefaultModel:           "flux-schnell",
		UploadLimitMB:          15,
		ReplicateBaseURL:       "https://api.replicate.com/v1",
		GenerationPollInterval: time.Second,
		StateBackend:           StateBackendFile,
		MaxPersistedSessions:   20,
		MaxPersistedMessages:   100,
		RetentionSchedule:      "@hourly",
		NATSSubject:            "genstudio.generations",
		TracingMaxItems:        100,
	}
	for _, oo := range o {
		oo(opt)
	}
	return opt
}

func WithContext(ctx context.Context) AppOption {
	return func(o *ApplicationConfig) {
		o.Context = ctx
	}
}

func WithModelsPath(path string) AppOption {
	return func(o *ApplicationConfig) {
		o.ModelsPath = path
	}
}

// WithDefaultModel sets the model new workspaces start on.
func WithDefaultModel(id string) AppOption {
	return func(o *ApplicationConfig) {
		if id != "" {
			o.DefaultModel = id
		}
	}
}

var EnableModelsWatcher = func(o *ApplicationConfig) {
	o.WatchModels = true
}

func WithUploadLimitMB(limit int) AppOption {
	return func(o *ApplicationConfig) {
		o.UploadLimitMB = limit
	}
}

func WithDebug(debug bool) AppOption {
	return func(o *ApplicationConfig) {
		o.Debug = debug
	}
}

func WithCors(b bool) AppOption {
	return func(o *ApplicationConfig) {
		o.CORS = b
	}
}

func WithCsrf(b bool) AppOption {
	return func(o *ApplicationConfig) {
		o.CSRF = b
	}
}

func WithCorsAllowOrigins(b string) AppOption {
	return func(o *ApplicationConfig) {
		o.CORSAllowOrigins = b
	}
}

func WithApiKeys(apiKeys []string) AppOption {
	return func(o *ApplicationConfig) {
		o.ApiKeys = apiKeys
	}
}

func WithSubtleKeyComparison(subtle bool) AppOption {
	return func(o *ApplicationConfig) {
		o.UseSubtleKeyComparison = subtle
	}
}

func WithDisableApiKeyRequirementForHttpGet(required bool) AppOption {
	return func(o *ApplicationConfig) {
		o.DisableApiKeyRequirementForHttpGet = required
	}
}

func WithHttpGetExemptedEndpoints(endpoints []string) AppOption {
	return func(o *ApplicationConfig) {
		o.HttpGetExemptedEndpoints = []*regexp.Regexp{}
		for _, epr := range endpoints {
			r, err := regexp.Compile(epr)
			if err == nil && r != nil {
				o.HttpGetExemptedEndpoints = append(o.HttpGetExemptedEndpoints, r)
			} else {
				xlog.Warn("Error while compiling HTTP Get Exemption regex, skipping this entry.", "regex", epr, "error", err)
			}
		}
	}
}

func WithOIDC(issuer, clientID string) AppOption {
	return func(o *ApplicationConfig) {
		o.OIDCIssuer = issuer
		o.OIDCClientID = clientID
	}
}

func WithOpaqueErrors(opaque bool) AppOption {
	return func(o *ApplicationConfig) {
		o.OpaqueErrors = opaque
	}
}

var DisableMetricsEndpoint AppOption = func(o *ApplicationConfig) {
	o.DisableMetrics = true
}

func WithReplicateAPIToken(token string) AppOption {
	return func(o *ApplicationConfig) {
		o.ReplicateAPIToken = token
	}
}

func WithReplicateBaseURL(url string) AppOption {
	return func(o *ApplicationConfig) {
		if url != "" {
			o.ReplicateBaseURL = url
		}
	}
}

func WithGenerationPollInterval(d time.Duration) AppOption {
	return func(o *ApplicationConfig) {
		if d > 0 {
			o.GenerationPollInterval = d
		}
	}
}

func WithEmbedOutputs(embed bool) AppOption {
	return func(o *ApplicationConfig) {
		o.EmbedOutputs = embed
	}
}

func WithGeneratedContentDir(dir string) AppOption {
	return func(o *ApplicationConfig) {
		o.GeneratedContentDir = dir
	}
}

func WithS3Output(bucket, region, endpoint, prefix, publicURL string) AppOption {
	return func(o *ApplicationConfig) {
		o.S3Bucket = bucket
		o.S3Region = region
		o.S3Endpoint = endpoint
		o.S3Prefix = prefix
		o.S3PublicURL = publicURL
	}
}

// WithS3Credentials sets static credentials, otherwise the default AWS
// credential chain is used.
func WithS3Credentials(accessKeyID, secretAccessKey string) AppOption {
	return func(o *ApplicationConfig) {
		o.S3AccessKeyID = accessKeyID
		o.S3SecretAccessKey = secretAccessKey
	}
}

func WithStateBackend(backend StateBackend) AppOption {
	return func(o *ApplicationConfig) {
		if backend != "" {
			o.StateBackend = backend
		}
	}
}

func WithStatePath(path string) AppOption {
	return func(o *ApplicationConfig) {
		o.StatePath = path
	}
}

func WithDatabaseURL(url string) AppOption {
	return func(o *ApplicationConfig) {
		o.DatabaseURL = url
	}
}

func WithPersistQuotaBytes(n int) AppOption {
	return func(o *ApplicationConfig) {
		o.PersistQuotaBytes = n
	}
}

func WithPersistenceCaps(sessions, messages int) AppOption {
	return func(o *ApplicationConfig) {
		if sessions > 0 {
			o.MaxPersistedSessions = sessions
		}
		if messages > 0 {
			o.MaxPersistedMessages = messages
		}
	}
}

func WithSessionRetention(days int, schedule string) AppOption {
	return func(o *ApplicationConfig) {
		o.SessionRetentionDays = days
		if schedule != "" {
			o.RetentionSchedule = schedule
		}
	}
}

func WithNATS(url, subject string) AppOption {
	return func(o *ApplicationConfig) {
		o.NATSURL = url
		if subject != "" {
			o.NATSSubject = subject
		}
	}
}

func WithTracing(enabled bool, maxItems int) AppOption {
	return func(o *ApplicationConfig) {
		o.EnableTracing = enabled
		if maxItems > 0 {
			o.TracingMaxItems = maxItems
		}
	}
}

// GetApiKeys returns the accepted keys, including the ones loaded at runtime.
func (o *ApplicationConfig) GetApiKeys() []string {
	o.apiKeysMu.RLock()
	defer o.apiKeysMu.RUnlock()
	return o.ApiKeys
}

func (o *ApplicationConfig) SetApiKeys(keys []string) {
	o.apiKeysMu.Lock()
	defer o.apiKeysMu.Unlock()
	o.ApiKeys = keys
}
