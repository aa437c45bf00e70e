package config

import "time"

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `json:"addr"`
	ReadHeaderTimeout Duration `json:"read_header_timeout"`
	IdleTimeout       Duration `json:"idle_timeout"`
	ShutdownTimeout   Duration `json:"shutdown_timeout"`

	// AllowedOrigins is the CORS whitelist. Required in production and
	// must not contain "*" there.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

type DBConfig struct {
	// Driver selects the store engine: "postgres" or "sqlite".
	Driver string `json:"driver"`
	DSN    string `json:"dsn,omitempty"`

	MaxOpenConns    int      `json:"max_open_conns,omitempty"`
	MaxIdleConns    int      `json:"max_idle_conns,omitempty"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime,omitempty"`
}

type RedisConfig struct {
	// Addr enables the job event bus when set; empty runs without one.
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

type StorageConfig struct {
	Bucket string `json:"object_store_bucket"`
	Region string `json:"object_store_region"`

	// Mode is "gcs" (default) or "emulator" for local development.
	Mode         string `json:"mode,omitempty"`
	EmulatorHost string `json:"emulator_host,omitempty"`

	// PublicBaseURL overrides the public URL root when presigning is
	// unavailable (emulator, unauthenticated clients).
	PublicBaseURL string `json:"public_base_url,omitempty"`

	PresignTTL  Duration `json:"presign_ttl"`
	ManifestTTL Duration `json:"manifest_url_ttl"`
}

type WebhookConfig struct {
	// Secret signs inbound payloads (hex HMAC-SHA256). Required in
	// production; optional elsewhere.
	Secret          string `json:"secret,omitempty"`
	SignatureHeader string `json:"signature_header,omitempty"`
	MaxBytes        int64  `json:"max_bytes,omitempty"`

	// MaxImagesPerSKU bounds active jobs per sku at admission. 0 disables.
	MaxImagesPerSKU int    `json:"max_images_per_sku"`
	DefaultTheme    string `json:"default_theme,omitempty"`

	// AllowUnsigned skips signature verification when no secret is set.
	// Rejected in production.
	AllowUnsigned bool `json:"allow_unsigned,omitempty"`
}

type ProcessorConfig struct {
	PollInterval   Duration `json:"poll_interval"`
	Concurrency    int      `json:"concurrency"`
	MaxRetries     int      `json:"max_retries"`
	RetryBaseDelay Duration `json:"retry_base_delay"`

	// NumBackgrounds is how many background variants each job renders.
	NumBackgrounds  int      `json:"num_backgrounds,omitempty"`
	DownloadTimeout Duration `json:"download_timeout,omitempty"`

	// AutoStart launches the scheduler with the process; when false the
	// processor waits for POST /processor/start.
	AutoStart bool `json:"auto_start"`
}

type ProvidersConfig struct {
	// Segment is "freepik" or "mock"; Background is "nanobanana",
	// "studio" (local renderer) or "mock".
	Segment    string `json:"segment"`
	Background string `json:"background"`

	FreepikAPIKey     string `json:"freepik_api_key,omitempty"`
	FreepikBaseURL    string `json:"freepik_base_url,omitempty"`
	NanobananaAPIKey  string `json:"nanobanana_api_key,omitempty"`
	NanobananaBaseURL string `json:"nanobanana_base_url,omitempty"`

	RequestTimeout Duration `json:"request_timeout,omitempty"`
}

type ShopifyConfig struct {
	ShopDomain  string `json:"shop_domain,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	APIVersion  string `json:"api_version,omitempty"`
}

// Enabled reports whether the push stage has a live Shopify target.
// When false the stage records a skip and advances.
func (s ShopifyConfig) Enabled() bool {
	return s.ShopDomain != "" && s.AccessToken != ""
}

type ObservabilityConfig struct {
	ServiceName  string  `json:"service_name,omitempty"`
	OTLPEndpoint string  `json:"otlp_endpoint,omitempty"`
	SampleRatio  float64 `json:"sample_ratio,omitempty"`
}

type Config struct {
	Env           string              `json:"env"`
	HTTP          HTTPConfig          `json:"http"`
	DB            DBConfig            `json:"db"`
	Redis         RedisConfig         `json:"redis"`
	Storage       StorageConfig       `json:"storage"`
	Webhook       WebhookConfig       `json:"webhook"`
	Processor     ProcessorConfig     `json:"processor"`
	Providers     ProvidersConfig     `json:"providers"`
	Shopify       ShopifyConfig       `json:"shopify"`
	Observability ObservabilityConfig `json:"observability"`
}

func (c *Config) IsProduction() bool { return c.Env == "production" }
