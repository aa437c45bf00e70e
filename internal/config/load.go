package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		if strings.TrimSpace(u) == "" {
			d.Duration = 0
			return nil
		}
		dd, err := time.ParseDuration(u)
		if err != nil {
			return err
		}
		d.Duration = dd
		return nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a JSON string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
		},
		DB: DBConfig{
			Driver: "sqlite",
			DSN:    "darkroom.db",
		},
		Storage: StorageConfig{
			Mode:        "gcs",
			PresignTTL:  Duration{Duration: time.Hour},
			ManifestTTL: Duration{Duration: 24 * time.Hour},
		},
		Webhook: WebhookConfig{
			SignatureHeader: "x-source-signature",
			MaxBytes:        10 << 20,
			MaxImagesPerSKU: 4,
			DefaultTheme:    "default",
		},
		Processor: ProcessorConfig{
			PollInterval:    Duration{Duration: 5 * time.Second},
			Concurrency:     1,
			MaxRetries:      3,
			RetryBaseDelay:  Duration{Duration: 60 * time.Second},
			NumBackgrounds:  2,
			DownloadTimeout: Duration{Duration: 60 * time.Second},
			AutoStart:       true,
		},
		Providers: ProvidersConfig{
			Segment:        "mock",
			Background:     "studio",
			RequestTimeout: Duration{Duration: 120 * time.Second},
		},
		Observability: ObservabilityConfig{
			ServiceName: "darkroom",
			SampleRatio: 1.0,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaultConfig()

	cfgPath := strings.TrimSpace(os.Getenv("DARKROOM_CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			p := filepath.Join(wd, "config", "config.json")
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
			}
		}
	}

	if cfgPath != "" {
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, err
		}
		// Unmarshal over the defaults so omitted keys keep them. An
		// explicit zero (max_images_per_sku: 0) still lands.
		if err := json.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LOG_MODE")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_ENV")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_ALLOWED_ORIGINS")); v != "" {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DB.Driver = "postgres"
		cfg.DB.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_DB_DRIVER")); v != "" {
		cfg.DB.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_PASSWORD")); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("GCS_BUCKET_NAME")); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("GCS_REGION")); v != "" {
		cfg.Storage.Region = v
	}
	if v := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_MODE")); v != "" {
		cfg.Storage.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")); v != "" {
		cfg.Storage.Mode = "emulator"
		cfg.Storage.EmulatorHost = v
	}
	if v := strings.TrimSpace(os.Getenv("GCS_PUBLIC_BASE_URL")); v != "" {
		cfg.Storage.PublicBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_SECRET")); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_WEBHOOK_ALLOW_UNSIGNED")); v != "" {
		cfg.Webhook.AllowUnsigned = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_MAX_IMAGES_PER_SKU")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Webhook.MaxImagesPerSKU = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_DEFAULT_THEME")); v != "" {
		cfg.Webhook.DefaultTheme = v
	}
	if d, ok := parseDurationValue(os.Getenv("DARKROOM_POLL_INTERVAL")); ok {
		cfg.Processor.PollInterval = Duration{Duration: d}
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Processor.Concurrency = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Processor.MaxRetries = n
		}
	}
	if d, ok := parseDurationValue(os.Getenv("DARKROOM_RETRY_BASE_DELAY")); ok {
		cfg.Processor.RetryBaseDelay = Duration{Duration: d}
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_BACKGROUND_COUNT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Processor.NumBackgrounds = n
		}
	}
	if d, ok := parseDurationValue(os.Getenv("DARKROOM_DOWNLOAD_TIMEOUT")); ok {
		cfg.Processor.DownloadTimeout = Duration{Duration: d}
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_AUTO_START")); v != "" {
		cfg.Processor.AutoStart = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_SEGMENT_PROVIDER")); v != "" {
		cfg.Providers.Segment = v
	}
	if v := strings.TrimSpace(os.Getenv("DARKROOM_BACKGROUND_PROVIDER")); v != "" {
		cfg.Providers.Background = v
	}
	if v := strings.TrimSpace(os.Getenv("FREEPIK_API_KEY")); v != "" {
		cfg.Providers.FreepikAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("NANOBANANA_API_KEY")); v != "" {
		cfg.Providers.NanobananaAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SHOPIFY_SHOP_DOMAIN")); v != "" {
		cfg.Shopify.ShopDomain = v
	}
	if v := strings.TrimSpace(os.Getenv("SHOPIFY_ACCESS_TOKEN")); v != "" {
		cfg.Shopify.AccessToken = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.Observability.OTLPEndpoint = v
	}
}

func applyDefaults(cfg *Config) {
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadHeaderTimeout.Duration <= 0 {
		cfg.HTTP.ReadHeaderTimeout = Duration{Duration: 5 * time.Second}
	}
	if cfg.HTTP.IdleTimeout.Duration <= 0 {
		cfg.HTTP.IdleTimeout = Duration{Duration: 2 * time.Minute}
	}
	if cfg.HTTP.ShutdownTimeout.Duration <= 0 {
		cfg.HTTP.ShutdownTimeout = Duration{Duration: 15 * time.Second}
	}
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "sqlite"
	}
	if cfg.DB.Driver == "sqlite" && strings.TrimSpace(cfg.DB.DSN) == "" {
		cfg.DB.DSN = "darkroom.db"
	}
	cfg.Storage.Mode = strings.ToLower(strings.TrimSpace(cfg.Storage.Mode))
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = "gcs"
	}
	if cfg.Storage.PresignTTL.Duration <= 0 {
		cfg.Storage.PresignTTL = Duration{Duration: time.Hour}
	}
	if cfg.Storage.ManifestTTL.Duration <= 0 {
		cfg.Storage.ManifestTTL = Duration{Duration: 24 * time.Hour}
	}
	if strings.TrimSpace(cfg.Webhook.SignatureHeader) == "" {
		cfg.Webhook.SignatureHeader = "x-source-signature"
	}
	if cfg.Webhook.MaxBytes <= 0 {
		cfg.Webhook.MaxBytes = 10 << 20
	}
	if strings.TrimSpace(cfg.Webhook.DefaultTheme) == "" {
		cfg.Webhook.DefaultTheme = "default"
	}
	if cfg.Processor.PollInterval.Duration <= 0 {
		cfg.Processor.PollInterval = Duration{Duration: 5 * time.Second}
	}
	if cfg.Processor.Concurrency <= 0 {
		cfg.Processor.Concurrency = 1
	}
	if cfg.Processor.RetryBaseDelay.Duration <= 0 {
		cfg.Processor.RetryBaseDelay = Duration{Duration: 60 * time.Second}
	}
	if cfg.Processor.NumBackgrounds <= 0 {
		cfg.Processor.NumBackgrounds = 2
	}
	if cfg.Processor.DownloadTimeout.Duration <= 0 {
		cfg.Processor.DownloadTimeout = Duration{Duration: 60 * time.Second}
	}
	cfg.Providers.Segment = strings.ToLower(strings.TrimSpace(cfg.Providers.Segment))
	if cfg.Providers.Segment == "" {
		cfg.Providers.Segment = "mock"
	}
	cfg.Providers.Background = strings.ToLower(strings.TrimSpace(cfg.Providers.Background))
	if cfg.Providers.Background == "" {
		cfg.Providers.Background = "studio"
	}
	if cfg.Providers.RequestTimeout.Duration <= 0 {
		cfg.Providers.RequestTimeout = Duration{Duration: 120 * time.Second}
	}
	if strings.TrimSpace(cfg.Shopify.APIVersion) == "" {
		cfg.Shopify.APIVersion = "2024-07"
	}
	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = "darkroom"
	}
	if cfg.Observability.SampleRatio <= 0 || cfg.Observability.SampleRatio > 1 {
		cfg.Observability.SampleRatio = 1.0
	}
}

func validate(cfg *Config) error {
	switch cfg.Env {
	case "development", "production", "test":
	default:
		return fmt.Errorf("unknown env %q", cfg.Env)
	}

	switch cfg.DB.Driver {
	case "postgres":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return errors.New("db.dsn is required for the postgres driver")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}

	if strings.TrimSpace(cfg.Storage.Bucket) == "" {
		return errors.New("storage.object_store_bucket is required")
	}
	if strings.TrimSpace(cfg.Storage.Region) == "" {
		return errors.New("storage.object_store_region is required")
	}
	switch cfg.Storage.Mode {
	case "gcs":
	case "emulator":
		if strings.TrimSpace(cfg.Storage.EmulatorHost) == "" {
			return errors.New("storage.emulator_host is required in emulator mode")
		}
	default:
		return fmt.Errorf("unknown storage mode %q", cfg.Storage.Mode)
	}

	if cfg.Webhook.MaxImagesPerSKU < 0 {
		return errors.New("webhook.max_images_per_sku must be >= 0")
	}
	if cfg.Processor.MaxRetries < 0 {
		return errors.New("processor.max_retries must be >= 0")
	}
	if cfg.Processor.NumBackgrounds > 8 {
		return errors.New("processor.num_backgrounds must be <= 8")
	}

	switch cfg.Providers.Segment {
	case "freepik", "mock":
	default:
		return fmt.Errorf("unknown segment provider %q", cfg.Providers.Segment)
	}
	switch cfg.Providers.Background {
	case "nanobanana", "studio", "mock":
	default:
		return fmt.Errorf("unknown background provider %q", cfg.Providers.Background)
	}

	if cfg.IsProduction() {
		if strings.TrimSpace(cfg.Webhook.Secret) == "" {
			return errors.New("webhook.secret is required in production")
		}
		if cfg.Webhook.AllowUnsigned {
			return errors.New("webhook.allow_unsigned is not permitted in production")
		}
		if len(cfg.HTTP.AllowedOrigins) == 0 {
			return errors.New("http.allowed_origins is required in production")
		}
		for _, o := range cfg.HTTP.AllowedOrigins {
			if strings.TrimSpace(o) == "*" {
				return errors.New("http.allowed_origins must not contain * in production")
			}
		}
		if cfg.Providers.Segment == "freepik" && strings.TrimSpace(cfg.Providers.FreepikAPIKey) == "" {
			return errors.New("providers.freepik_api_key is required in production")
		}
		if cfg.Providers.Background == "nanobanana" && strings.TrimSpace(cfg.Providers.NanobananaAPIKey) == "" {
			return errors.New("providers.nanobanana_api_key is required in production")
		}
	}

	return nil
}

// parseDurationValue accepts Go duration strings ("5s") and bare
// integers, which are read as milliseconds.
func parseDurationValue(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Millisecond, true
	}
	return 0, false
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	default:
		return false
	}
}
