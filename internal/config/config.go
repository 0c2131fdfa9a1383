package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/dbourene/kinjo-production/internal/production"
)

type AppConfig struct {
	Port string
	// Mode "debug" switches to the development logger.
	Mode string

	// PVWatts access. A missing key is reported when a run needs it.
	NRELAPIKey     string
	PVWattsBaseURL string
	DefaultYear    int `validate:"gte=1900,lte=2100"`

	// Array parameters applied unless a request overrides them.
	System production.SystemConfig

	Estimator       string        `validate:"oneof=pvwatts simulation"`
	SimulationYield float64       `validate:"gt=0"`
	HTTPTimeout     time.Duration
	HTTPMaxRetries  int `validate:"gte=0,lte=10"`

	DatabaseURL string
	// JSON array of installations seeded into the in-memory store.
	InstallationsFile string

	StorageBackend string `validate:"oneof=gcs supabase local"`
	StorageBucket  string `validate:"required"`
	StoragePrefix  string
	StorageBaseDir string
	GCSCredentials string
	SupabaseURL    string
	SupabaseKey    string

	ExportFormats   []string `validate:"dive,oneof=xlsx parquet"`
	ParquetCompress string
	GeocoderAPIKey  string
	AllowedOrigins  string

	RunTimeout    time.Duration
	CommitRetries int `validate:"gte=0"`
	CommitBackoff time.Duration

	// Installations recalculated every RecalcInterval (0 disables).
	RecalcInstallations []string
	RecalcInterval      time.Duration
	ReconcileInterval   time.Duration
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from an environment lookup.
func FromEnv(getenv func(string) string) (*AppConfig, error) {
	e := env(getenv)
	cfg := &AppConfig{
		Port:             e.str("PORT", "8000"),
		Mode:             e.str("MODE", "release"),
		NRELAPIKey:       e.str("NREL_API_KEY", ""),
		PVWattsBaseURL:   e.str("PVWATTS_BASE_URL", ""),
		DefaultYear:      e.int("PVWATTS_DEFAULT_YEAR", 2024),
		Estimator:        strings.ToLower(e.str("ESTIMATOR", "pvwatts")),
		HTTPMaxRetries:   e.int("HTTP_MAX_RETRIES", 3),
		DatabaseURL:      e.str("DATABASE_URL", ""),
		StorageBackend:   strings.ToLower(e.str("STORAGE_BACKEND", "local")),
		StorageBucket:    e.str("STORAGE_BUCKET", "courbescharge"),
		StoragePrefix:    e.str("STORAGE_PREFIX", production.DefaultPathPrefix),
		StorageBaseDir:   e.str("STORAGE_BASE_DIR", "./data"),
		GCSCredentials:   e.str("GCS_CREDENTIALS_FILE", ""),
		SupabaseURL:      e.str("SUPABASE_URL", ""),
		SupabaseKey:      e.str("SUPABASE_SERVICE_ROLE_KEY", ""),
		ExportFormats:    lower(e.list("EXPORT_FORMATS")),
		ParquetCompress:  e.str("PARQUET_COMPRESSION", "SNAPPY"),
		GeocoderAPIKey:   e.str("GEOCODER_API_KEY", ""),
		AllowedOrigins:   e.str("ALLOWED_ORIGINS", "*"),
		CommitRetries:    e.int("COMMIT_RETRIES", 3),
	}
	cfg.RecalcInstallations = e.list("RECALC_INSTALLATIONS")
	cfg.InstallationsFile = e.str("INSTALLATIONS_FILE", "")

	var err error
	if cfg.SimulationYield, err = e.float("SIMULATION_YIELD_KWH_PER_KWC", 1100); err != nil {
		return nil, err
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", "30s", &cfg.HTTPTimeout},
		{"RUN_TIMEOUT", "2m", &cfg.RunTimeout},
		{"COMMIT_BACKOFF", "500ms", &cfg.CommitBackoff},
		{"RECALC_INTERVAL", "0", &cfg.RecalcInterval},
		{"RECONCILE_INTERVAL", "15m", &cfg.ReconcileInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(e.str(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	cfg.System = production.DefaultSystemConfig()
	floats := []struct {
		key string
		dst *float64
	}{
		{"PV_TILT", &cfg.System.Tilt},
		{"PV_AZIMUTH", &cfg.System.Azimuth},
		{"PV_LOSSES", &cfg.System.Losses},
	}
	for _, f := range floats {
		if *f.dst, err = e.float(f.key, *f.dst); err != nil {
			return nil, err
		}
	}
	cfg.System.ArrayType = production.ArrayType(e.int("PV_ARRAY_TYPE", int(cfg.System.ArrayType)))
	cfg.System.ModuleType = production.ModuleType(e.int("PV_MODULE_TYPE", int(cfg.System.ModuleType)))
	cfg.System.Dataset = e.str("PVWATTS_DATASET", cfg.System.Dataset)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks value ranges and backend specific requirements.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.StorageBackend == "supabase" && (c.SupabaseURL == "" || c.SupabaseKey == "") {
		return fmt.Errorf("invalid configuration: supabase storage requires SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
	}
	return nil
}

// APIKeyPreview returns the first characters of the NREL key for health
// reports, or "" when unset.
func (c *AppConfig) APIKeyPreview() string {
	const n = 10
	if c.NRELAPIKey == "" {
		return ""
	}
	if len(c.NRELAPIKey) <= n {
		return strings.Repeat("*", len(c.NRELAPIKey))
	}
	return c.NRELAPIKey[:n] + "..."
}

type env func(string) string

func (e env) str(key, def string) string {
	if v := strings.TrimSpace(e(key)); v != "" {
		return v
	}
	return def
}

func (e env) int(key string, def int) int {
	if v := e(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}
	return def
}

func (e env) float(key string, def float64) (float64, error) {
	v := strings.TrimSpace(e(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func (e env) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lower(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToLower(v)
	}
	return values
}
