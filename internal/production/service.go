package production

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Service drives one production calculation: fetch, expand, write, upload,
// update. Runs for the same installation are serialized.
type Service struct {
	installations InstallationRepository
	ledger        RunLedger
	estimator     Estimator
	artifacts     ArtifactStore

	exporters []Exporter
	geocoder  Geocoder
	recorder  Recorder
	logger    *zap.Logger

	system        SystemConfig
	prefix        string
	commitRetries int
	commitBackoff time.Duration

	locks *keyedLocks
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSystemConfig replaces the default array parameters.
func WithSystemConfig(cfg SystemConfig) Option {
	return func(s *Service) { s.system = cfg }
}

// WithPathPrefix overrides the storage prefix ("producteurs/avant_acc/").
func WithPathPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		s.prefix = prefix
	}
}

// WithExporters adds companion exports uploaded next to the CSV.
func WithExporters(exporters ...Exporter) Option {
	return func(s *Service) { s.exporters = append(s.exporters, exporters...) }
}

// WithGeocoder enables coordinate lookup for installations registered by address.
func WithGeocoder(g Geocoder) Option {
	return func(s *Service) { s.geocoder = g }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithCommitRetry bounds the replays of the record update after an upload.
func WithCommitRetry(retries int, backoff time.Duration) Option {
	return func(s *Service) {
		if retries >= 0 {
			s.commitRetries = retries
		}
		if backoff > 0 {
			s.commitBackoff = backoff
		}
	}
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService creates a new Service.
func NewService(installations InstallationRepository, ledger RunLedger, estimator Estimator, artifacts ArtifactStore, opts ...Option) *Service {
	s := &Service{
		installations: installations,
		ledger:        ledger,
		estimator:     estimator,
		artifacts:     artifacts,
		recorder:      nopRecorder{},
		logger:        zap.NewNop(),
		system:        DefaultSystemConfig(),
		prefix:        DefaultPathPrefix,
		commitRetries: 3,
		commitBackoff: 500 * time.Millisecond,
		locks:         newKeyedLocks(),
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EstimatorName reports which estimator backs the service.
func (s *Service) EstimatorName() string {
	return s.estimator.Name()
}

// Calculate runs the whole pipeline for one installation and returns the
// artifact name and the annual energy in kWh.
func (s *Service) Calculate(ctx context.Context, installationID string, overrides Overrides) (Summary, error) {
	started := time.Now()
	summary, err := s.calculate(ctx, installationID, overrides)
	s.recorder.ObserveRun(s.estimator.Name(), outcome(err), time.Since(started).Seconds())
	if err != nil {
		s.logger.Error("production run failed",
			zap.String("installation_id", installationID),
			zap.Error(err))
		return Summary{}, err
	}
	s.recorder.ObserveEnergy(installationID, summary.EnergyKWh)
	s.logger.Info("production run committed",
		zap.String("installation_id", installationID),
		zap.String("run_id", summary.RunID),
		zap.String("filename", summary.Filename),
		zap.Float64("energie_kwh", summary.EnergyKWh))
	return summary, nil
}

func (s *Service) calculate(ctx context.Context, installationID string, overrides Overrides) (Summary, error) {
	if err := overrides.Validate(); err != nil {
		return Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	release, err := s.locks.acquire(ctx, installationID)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer release()

	inst, err := s.installations.Get(ctx, installationID)
	if err != nil {
		return Summary{}, err
	}

	site, err := s.resolveSite(ctx, inst)
	if err != nil {
		return Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	cfg := overrides.Apply(s.system)
	series, err := s.estimator.Estimate(ctx, site, cfg)
	if err != nil {
		return Summary{}, err
	}
	if len(series.ACWh) == 0 {
		return Summary{}, fmt.Errorf("%w: empty hourly series", ErrUpstream)
	}
	if expected := HoursInYear(series.Year); len(series.ACWh) != expected {
		s.logger.Warn("hourly series length differs from calendar year",
			zap.Int("year", series.Year),
			zap.Int("samples", len(series.ACWh)),
			zap.Int("expected", expected))
	}

	rows := ExpandHourly(series.ACWh, series.Start(), inst.ID)
	artifact, err := BuildArtifact(s.prefix, inst.PRM, rows, series.Simulated)
	if err != nil {
		return Summary{}, err
	}
	companions, err := s.buildCompanions(artifact, series, rows)
	if err != nil {
		return Summary{}, err
	}
	energy := TotalKWh(rows)

	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	run := &Run{
		ID:             s.newID(),
		InstallationID: inst.ID,
		Filename:       artifact.Filename,
		Path:           artifact.Path,
		EnergyKWh:      energy,
		Status:         RunPending,
		Simulated:      series.Simulated,
	}
	if err := s.ledger.BeginRun(ctx, run); err != nil {
		return Summary{}, fmt.Errorf("%w: begin run: %v", ErrStorage, err)
	}

	exports, err := s.upload(ctx, artifact, companions)
	if err != nil {
		if serr := s.ledger.SetRunStatus(context.WithoutCancel(ctx), run.ID, RunFailed, err.Error()); serr != nil {
			s.logger.Warn("could not mark run failed", zap.String("run_id", run.ID), zap.Error(serr))
		}
		return Summary{}, err
	}

	// The artifact is now visible; finish the record update even if the
	// caller goes away.
	commitCtx := context.WithoutCancel(ctx)
	if err := s.ledger.SetRunStatus(commitCtx, run.ID, RunUploaded, ""); err != nil {
		s.logger.Warn("could not mark run uploaded", zap.String("run_id", run.ID), zap.Error(err))
	}
	run.Status = RunUploaded
	if err := s.commit(commitCtx, run); err != nil {
		return Summary{}, &inconsistentError{cause: fmt.Errorf("run %s (%s): %w", run.ID, run.Filename, err)}
	}

	return Summary{
		RunID:          run.ID,
		InstallationID: inst.ID,
		Filename:       artifact.Filename,
		Path:           artifact.Path,
		EnergyKWh:      energy,
		Rows:           len(rows),
		Year:           series.Year,
		Source:         series.Source,
		Simulated:      series.Simulated,
		Exports:        exports,
	}, nil
}

func (s *Service) resolveSite(ctx context.Context, inst *Installation) (Site, error) {
	if inst.CapacityKWc <= 0 {
		return Site{}, fmt.Errorf("%w: installation %s has no positive capacity", ErrInvalidInstallation, inst.ID)
	}
	if inst.PRM == "" {
		return Site{}, fmt.Errorf("%w: installation %s has no prm", ErrInvalidInstallation, inst.ID)
	}
	site := Site{CapacityKWc: inst.CapacityKWc}
	if inst.HasCoordinates() {
		site.Latitude, site.Longitude = *inst.Latitude, *inst.Longitude
		return site, nil
	}
	if s.geocoder == nil || inst.Address == "" {
		return Site{}, fmt.Errorf("%w: installation %s has no coordinates", ErrInvalidInstallation, inst.ID)
	}
	lat, lon, err := s.geocoder.Geocode(ctx, inst.Address)
	if err != nil {
		return Site{}, fmt.Errorf("%w: geocode %q: %v", ErrInvalidInstallation, inst.Address, err)
	}
	s.logger.Debug("installation geocoded",
		zap.String("installation_id", inst.ID),
		zap.Float64("lat", lat),
		zap.Float64("lon", lon))
	site.Latitude, site.Longitude = lat, lon
	return site, nil
}

func (s *Service) buildCompanions(artifact Artifact, series HourlySeries, rows []QuarterHourRow) ([]Artifact, error) {
	if len(s.exporters) == 0 {
		return nil, nil
	}
	base := strings.TrimSuffix(artifact.Path, ".csv")
	out := make([]Artifact, 0, len(s.exporters))
	for _, e := range s.exporters {
		content, err := e.Export(series, rows)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", e.Extension(), err)
		}
		path := base + "." + e.Extension()
		out = append(out, Artifact{
			Filename:    path[strings.LastIndex(path, "/")+1:],
			Path:        path,
			ContentType: e.ContentType(),
			Content:     content,
		})
	}
	return out, nil
}

// upload stores the companions before the CSV. The CSV is the artifact the
// record tracks, so a failure before it leaves both unchanged.
func (s *Service) upload(ctx context.Context, artifact Artifact, companions []Artifact) ([]string, error) {
	exports := make([]string, 0, len(companions))
	for _, c := range companions {
		if err := s.artifacts.Upload(ctx, c.Path, c.Content, c.ContentType, true); err != nil {
			return nil, fmt.Errorf("%w: upload %s: %v", ErrStorage, c.Path, err)
		}
		exports = append(exports, c.Filename)
	}

	if err := s.artifacts.Upload(ctx, artifact.Path, artifact.Content, artifact.ContentType, true); err != nil {
		return nil, fmt.Errorf("%w: upload %s: %v", ErrStorage, artifact.Path, err)
	}
	s.logger.Debug("artifact uploaded",
		zap.String("store", s.artifacts.Name()),
		zap.String("path", artifact.Path),
		zap.Int("bytes", len(artifact.Content)))
	return exports, nil
}

// commit replays CommitRun with exponential backoff. CommitRun overwrites the
// energy total, so replays are idempotent.
func (s *Service) commit(ctx context.Context, run *Run) error {
	var lastErr error
	delay := s.commitBackoff
	for attempt := 0; attempt <= s.commitRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
		lastErr = s.ledger.CommitRun(ctx, run)
		if lastErr == nil {
			run.Status = RunCommitted
			return nil
		}
		if errors.Is(lastErr, ErrSuperseded) {
			return lastErr
		}
		s.logger.Warn("record update failed",
			zap.String("run_id", run.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return lastErr
}

// StatusReport describes an installation and its latest run.
type StatusReport struct {
	Installation *Installation `json:"installation"`
	LatestRun    *Run          `json:"latest_run,omitempty"`
	Estimator    string        `json:"estimator"`
	Ready        bool          `json:"ready"`
	Reason       string        `json:"reason,omitempty"`
}

// Status reports whether an installation can be calculated and its last run.
func (s *Service) Status(ctx context.Context, installationID string) (StatusReport, error) {
	inst, err := s.installations.Get(ctx, installationID)
	if err != nil {
		return StatusReport{}, err
	}
	report := StatusReport{Installation: inst, Estimator: s.estimator.Name(), Ready: true}
	switch {
	case inst.CapacityKWc <= 0:
		report.Ready, report.Reason = false, "missing capacity"
	case inst.PRM == "":
		report.Ready, report.Reason = false, "missing prm"
	case !inst.HasCoordinates() && (s.geocoder == nil || inst.Address == ""):
		report.Ready, report.Reason = false, "missing coordinates"
	}

	run, err := s.ledger.LatestRun(ctx, installationID)
	if err != nil {
		return StatusReport{}, fmt.Errorf("%w: latest run: %v", ErrStorage, err)
	}
	report.LatestRun = run
	return report, nil
}

// Reconcile replays the record update of every run left in the uploaded
// state, oldest first. Runs older than a committed run of the same
// installation are marked superseded by the ledger and not counted. It
// returns how many runs were committed.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	runs, err := s.ledger.RunsByStatus(ctx, RunUploaded)
	if err != nil {
		return 0, fmt.Errorf("%w: list uploaded runs: %v", ErrStorage, err)
	}

	var result *multierror.Error
	committed := 0
	for i := range runs {
		run := runs[i]
		release, err := s.locks.acquire(ctx, run.InstallationID)
		if err != nil {
			result = multierror.Append(result, err)
			break
		}
		err = s.ledger.CommitRun(ctx, &run)
		release()
		if errors.Is(err, ErrSuperseded) {
			s.logger.Info("run superseded, record left unchanged",
				zap.String("run_id", run.ID),
				zap.String("installation_id", run.InstallationID))
			continue
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("run %s: %w", run.ID, err))
			continue
		}
		committed++
		s.logger.Info("run reconciled",
			zap.String("run_id", run.ID),
			zap.String("installation_id", run.InstallationID),
			zap.Float64("energie_kwh", run.EnergyKWh))
	}
	return committed, result.ErrorOrNil()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInstallation), errors.Is(err, ErrInvalidParameters):
		return "invalid"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrInconsistent):
		return "inconsistent"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "error"
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveRun(string, string, float64) {}
func (nopRecorder) ObserveEnergy(string, float64)      {}
