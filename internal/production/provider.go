package production

import (
	"context"
)

// Estimator abstracts an hourly production source (PVWatts, simulation).
type Estimator interface {
	Name() string
	Estimate(ctx context.Context, site Site, cfg SystemConfig) (HourlySeries, error)
}

// InstallationRepository reads installations. Get returns ErrNotFound for
// unknown ids. The energy total is written through RunLedger.CommitRun.
type InstallationRepository interface {
	Get(ctx context.Context, id string) (*Installation, error)
}

// RunLedger records the progress of each run so that an upload whose record
// update failed can be replayed.
type RunLedger interface {
	BeginRun(ctx context.Context, run *Run) error
	SetRunStatus(ctx context.Context, runID string, status RunStatus, errMsg string) error
	// CommitRun stores energy on the installation and marks the run committed.
	// If a newer run for the installation is already committed, it marks the
	// run superseded instead and returns ErrSuperseded.
	CommitRun(ctx context.Context, run *Run) error
	// LatestRun returns nil, nil when the installation has no run yet.
	LatestRun(ctx context.Context, installationID string) (*Run, error)
	RunsByStatus(ctx context.Context, status RunStatus) ([]Run, error)
}

// ArtifactStore is a path-addressed blob store.
type ArtifactStore interface {
	Name() string
	Upload(ctx context.Context, path string, content []byte, contentType string, upsert bool) error
}

// Exporter renders a companion artifact for a run (workbook, columnar file).
type Exporter interface {
	Extension() string
	ContentType() string
	Export(series HourlySeries, rows []QuarterHourRow) ([]byte, error)
}

// Geocoder resolves a postal address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (lat, lon float64, err error)
}

// Recorder receives run metrics. All methods must be safe for concurrent use.
type Recorder interface {
	ObserveRun(estimator string, outcome string, seconds float64)
	ObserveEnergy(installationID string, energyKWh float64)
}
