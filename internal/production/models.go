package production

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Default system parameters applied when neither the request nor the
// installation overrides them.
const (
	DefaultTilt       = 30.0
	DefaultAzimuth    = 180.0
	DefaultLosses     = 14.0
	DefaultDataset    = "intl"
	DefaultTimeframe  = "hourly"
	IntervalLength    = "15min"
	QuartersPerHour   = 4
	DefaultPathPrefix = "producteurs/avant_acc/"
)

// ArrayType is the PVWatts array type code.
type ArrayType int

const (
	ArrayFixedOpenRack ArrayType = 0
	ArrayFixedRoof     ArrayType = 1
	ArrayOneAxis       ArrayType = 2
	ArrayOneAxisBack   ArrayType = 3
	ArrayTwoAxis       ArrayType = 4
)

// ModuleType is the PVWatts module type code.
type ModuleType int

const (
	ModuleStandard ModuleType = 0
	ModulePremium  ModuleType = 1
	ModuleThinFilm ModuleType = 2
)

// Installation is a producer site as persisted in the installations table.
// Latitude/Longitude are nil when the site has only been registered by address.
type Installation struct {
	ID        string   `json:"id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	// CapacityKWc is the rated peak capacity ("puissance").
	CapacityKWc float64 `json:"puissance"`
	// PRM is the site reference code used to name artifacts.
	PRM     string `json:"prm"`
	Address string `json:"adresse,omitempty"`
	// EnergyKWh is the last computed annual energy ("energie_injectee").
	EnergyKWh *float64 `json:"energie_injectee"`
}

// HasCoordinates reports whether both coordinates are known.
func (i Installation) HasCoordinates() bool {
	return i.Latitude != nil && i.Longitude != nil
}

// SystemConfig is the set of array parameters sent to the estimator.
type SystemConfig struct {
	Tilt       float64    `json:"tilt" validate:"gte=0,lte=90"`
	Azimuth    float64    `json:"azimuth" validate:"gte=0,lt=360"`
	Losses     float64    `json:"losses" validate:"gte=-5,lte=99"`
	ArrayType  ArrayType  `json:"array_type" validate:"gte=0,lte=4"`
	ModuleType ModuleType `json:"module_type" validate:"gte=0,lte=2"`
	Dataset    string     `json:"dataset" validate:"omitempty,oneof=nsrdb tmy2 tmy3 intl"`
	Timeframe  string     `json:"timeframe"`
}

// DefaultSystemConfig returns the documented defaults: tilt 30, azimuth 180,
// losses 14, fixed-roof array, standard module.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		Tilt:       DefaultTilt,
		Azimuth:    DefaultAzimuth,
		Losses:     DefaultLosses,
		ArrayType:  ArrayFixedRoof,
		ModuleType: ModuleStandard,
		Dataset:    DefaultDataset,
		Timeframe:  DefaultTimeframe,
	}
}

// Overrides carries optional per-run changes to SystemConfig. Nil fields keep
// the base value.
type Overrides struct {
	Tilt       *float64    `json:"tilt,omitempty" validate:"omitempty,gte=0,lte=90"`
	Azimuth    *float64    `json:"azimuth,omitempty" validate:"omitempty,gte=0,lt=360"`
	Losses     *float64    `json:"losses,omitempty" validate:"omitempty,gte=-5,lte=99"`
	ArrayType  *ArrayType  `json:"array_type,omitempty" validate:"omitempty,gte=0,lte=4"`
	ModuleType *ModuleType `json:"module_type,omitempty" validate:"omitempty,gte=0,lte=2"`
	Dataset    *string     `json:"dataset,omitempty" validate:"omitempty,oneof=nsrdb tmy2 tmy3 intl"`
}

// Validate checks every set override against the accepted ranges.
func (o Overrides) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return nil
}

// Apply returns base with every non-nil override set.
func (o Overrides) Apply(base SystemConfig) SystemConfig {
	if o.Tilt != nil {
		base.Tilt = *o.Tilt
	}
	if o.Azimuth != nil {
		base.Azimuth = *o.Azimuth
	}
	if o.Losses != nil {
		base.Losses = *o.Losses
	}
	if o.ArrayType != nil {
		base.ArrayType = *o.ArrayType
	}
	if o.ModuleType != nil {
		base.ModuleType = *o.ModuleType
	}
	if o.Dataset != nil && *o.Dataset != "" {
		base.Dataset = *o.Dataset
	}
	return base
}

// Site is what an estimator needs to know about an installation.
type Site struct {
	Latitude    float64
	Longitude   float64
	CapacityKWc float64
}

// HourlySeries is the estimator output: one AC energy value in Wh per hour,
// ordered from Jan 1 00:00 of Year.
type HourlySeries struct {
	Year      int
	ACWh      []float64
	Source    string
	Simulated bool
}

// Start returns the timestamp of the first sample.
func (s HourlySeries) Start() time.Time {
	return time.Date(s.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// QuarterHourRow is one 15-minute slice of an hourly sample.
type QuarterHourRow struct {
	Timestamp      time.Time
	ValueWh        float64
	IntervalLength string
	InstallationID string
}

// Date formats the row date as YYYY-MM-DD.
func (r QuarterHourRow) Date() string {
	return r.Timestamp.Format("2006-01-02")
}

// Time formats the row time of day as HH:MM:SS.
func (r QuarterHourRow) Time() string {
	return r.Timestamp.Format("15:04:05")
}

// Artifact is a serialized production curve ready for upload.
type Artifact struct {
	Filename    string
	Path        string
	ContentType string
	Content     []byte
}

// RunStatus tracks a run through the upload/update sequence.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunUploaded   RunStatus = "uploaded"
	RunCommitted  RunStatus = "committed"
	RunFailed     RunStatus = "failed"
	RunSuperseded RunStatus = "superseded"
)

// Run is a ledger entry for one calculation.
type Run struct {
	ID             string    `json:"id"`
	InstallationID string    `json:"installation_id"`
	Filename       string    `json:"filename"`
	Path           string    `json:"path"`
	EnergyKWh      float64   `json:"energie_kwh"`
	Status         RunStatus `json:"status"`
	Error          string    `json:"error,omitempty"`
	Simulated      bool      `json:"simulated"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summary is returned to the caller of a successful run.
type Summary struct {
	RunID          string   `json:"run_id"`
	InstallationID string   `json:"installation_id"`
	Filename       string   `json:"filename"`
	Path           string   `json:"path"`
	EnergyKWh      float64  `json:"energie_kwh"`
	Rows           int      `json:"data_points"`
	Year           int      `json:"year"`
	Source         string   `json:"api_source"`
	Simulated      bool     `json:"simulation"`
	Exports        []string `json:"exports,omitempty"`
}
