package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbourene/kinjo-production/internal/production"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "pvwatts", cfg.Estimator)
	assert.Equal(t, 2024, cfg.DefaultYear)
	assert.Equal(t, production.DefaultSystemConfig(), cfg.System)
	assert.Equal(t, "local", cfg.StorageBackend)
	assert.Equal(t, "courbescharge", cfg.StorageBucket)
	assert.Equal(t, "producteurs/avant_acc/", cfg.StoragePrefix)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 2*time.Minute, cfg.RunTimeout)
	assert.Equal(t, time.Duration(0), cfg.RecalcInterval)
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 1100.0, cfg.SimulationYield)
	assert.Equal(t, "*", cfg.AllowedOrigins)
	assert.Empty(t, cfg.NRELAPIKey)
	assert.Empty(t, cfg.ExportFormats)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"PORT":                      "9000",
		"ESTIMATOR":                 "Simulation",
		"NREL_API_KEY":              "abcdefghijklmnop",
		"PV_TILT":                   "35.5",
		"PV_AZIMUTH":                "170",
		"PV_ARRAY_TYPE":             "0",
		"PVWATTS_DATASET":           "nsrdb",
		"STORAGE_BACKEND":           "supabase",
		"SUPABASE_URL":              "https://x.supabase.co",
		"SUPABASE_SERVICE_ROLE_KEY": "k",
		"EXPORT_FORMATS":            "XLSX, parquet",
		"RECALC_INSTALLATIONS":      "Inst-A, inst-b,,",
		"RECALC_INTERVAL":           "24h",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "simulation", cfg.Estimator)
	assert.Equal(t, 35.5, cfg.System.Tilt)
	assert.Equal(t, 170.0, cfg.System.Azimuth)
	assert.Equal(t, production.ArrayFixedOpenRack, cfg.System.ArrayType)
	assert.Equal(t, "nsrdb", cfg.System.Dataset)
	assert.Equal(t, []string{"xlsx", "parquet"}, cfg.ExportFormats)
	assert.Equal(t, []string{"Inst-A", "inst-b"}, cfg.RecalcInstallations)
	assert.Equal(t, 24*time.Hour, cfg.RecalcInterval)
	assert.Equal(t, "abcdefghij...", cfg.APIKeyPreview())
}

func TestFromEnvInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"estimator":     {"ESTIMATOR": "magic"},
		"backend":       {"STORAGE_BACKEND": "ftp"},
		"duration":      {"RUN_TIMEOUT": "soon"},
		"tilt":          {"PV_TILT": "95"},
		"tilt parse":    {"PV_TILT": "steep"},
		"export":        {"EXPORT_FORMATS": "pdf"},
		"supabase keys": {"STORAGE_BACKEND": "supabase"},
	}
	for name, env := range cases {
		_, err := FromEnv(envMap(env))
		assert.Error(t, err, name)
	}
}

func TestAPIKeyPreview(t *testing.T) {
	assert.Equal(t, "", (&AppConfig{}).APIKeyPreview())
	assert.Equal(t, "*****", (&AppConfig{NRELAPIKey: "short"}).APIKeyPreview())
}
