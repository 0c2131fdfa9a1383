package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dbourene/kinjo-production/internal/production"
)

const (
	defaultInstallationsTable = "installations"
	defaultRunsTable          = "production_runs"
)

// runsSchema creates the run ledger in table. The installations table belongs
// to the registration application and is not managed here.
func runsSchema(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id              TEXT PRIMARY KEY,
	installation_id TEXT NOT NULL,
	filename        TEXT NOT NULL,
	path            TEXT NOT NULL,
	energie_kwh     DOUBLE PRECISION NOT NULL,
	status          TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	simulated       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_installation_idx ON %[1]s (installation_id, created_at DESC);
CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s (status);`, table)
}

// PostgresStore implements the installation repository and run ledger on
// Postgres (Supabase) through database/sql and the pgx driver.
type PostgresStore struct {
	db                 *sql.DB
	installationsTable string
	runsTable          string
	now                func() time.Time
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore)

// WithInstallationsTable overrides the default table name.
func WithInstallationsTable(table string) PostgresOption {
	return func(s *PostgresStore) {
		if table != "" {
			s.installationsTable = table
		}
	}
}

// WithRunsTable overrides the default run ledger table name.
func WithRunsTable(table string) PostgresOption {
	return func(s *PostgresStore) {
		if table != "" {
			s.runsTable = table
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPostgresStore constructs a store over an open pool.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:                 db,
		installationsTable: defaultInstallationsTable,
		runsTable:          defaultRunsTable,
		now:                func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the backend in health reports.
func (s *PostgresStore) Name() string {
	return "postgres"
}

// EnsureSchema creates the run ledger if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, runsSchema(s.runsTable)); err != nil {
		return fmt.Errorf("create run ledger: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get loads an installation by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*production.Installation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("installation repo: nil db")
	}
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", production.ErrNotFound)
	}

	query := fmt.Sprintf(`
SELECT id, latitude, longitude, puissance, prm, adresse, energie_injectee
FROM %s
WHERE id = $1
LIMIT 1`, s.installationsTable)

	var (
		inst      production.Installation
		lat, lon  sql.NullFloat64
		capacity  sql.NullFloat64
		prm, addr sql.NullString
		energy    sql.NullFloat64
	)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(
		&inst.ID,
		&lat,
		&lon,
		&capacity,
		&prm,
		&addr,
		&energy,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", production.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: select installation: %v", production.ErrStorage, err)
	}
	if lat.Valid {
		inst.Latitude = &lat.Float64
	}
	if lon.Valid {
		inst.Longitude = &lon.Float64
	}
	if energy.Valid {
		inst.EnergyKWh = &energy.Float64
	}
	inst.CapacityKWc = capacity.Float64
	inst.PRM = prm.String
	inst.Address = addr.String
	return &inst, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func updateEnergy(ctx context.Context, db execer, table, id string, energyKWh float64) error {
	query := fmt.Sprintf(`UPDATE %s SET energie_injectee = $2 WHERE id = $1`, table)
	res, err := db.ExecContext(ctx, query, id, energyKWh)
	if err != nil {
		return fmt.Errorf("update installation energy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update installation energy: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", production.ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) BeginRun(ctx context.Context, run *production.Run) error {
	now := s.now()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	installation_id,
	filename,
	path,
	energie_kwh,
	status,
	error,
	simulated,
	created_at,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $9
)`, s.runsTable)

	if _, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.InstallationID,
		run.Filename,
		run.Path,
		run.EnergyKWh,
		string(run.Status),
		run.Error,
		run.Simulated,
		now,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	run.CreatedAt, run.UpdatedAt = now, now
	return nil
}

func (s *PostgresStore) SetRunStatus(ctx context.Context, runID string, status production.RunStatus, errMsg string) error {
	return setRunStatus(ctx, s.db, s.runsTable, runID, status, errMsg, s.now())
}

func setRunStatus(ctx context.Context, db execer, table, runID string, status production.RunStatus, errMsg string, now time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, error = $3, updated_at = $4 WHERE id = $1`, table)
	res, err := db.ExecContext(ctx, query, runID, string(status), errMsg, now)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// CommitRun writes the energy total and marks the run committed in one
// transaction. The installation row is locked first so concurrent commits for
// it are serialized; a run older than an already committed one is marked
// superseded and the installation is left untouched.
func (s *PostgresStore) CommitRun(ctx context.Context, run *production.Run) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockInstallation(ctx, tx, s.installationsTable, run.InstallationID); err != nil {
		return err
	}

	var superseded bool
	if superseded, err = newerCommitted(ctx, tx, s.runsTable, run.ID); err != nil {
		return err
	}
	if superseded {
		if err = setRunStatus(ctx, tx, s.runsTable, run.ID, production.RunSuperseded, "a newer run was committed", s.now()); err != nil {
			return err
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit run: %w", err)
		}
		run.Status = production.RunSuperseded
		return fmt.Errorf("%w: run %s", production.ErrSuperseded, run.ID)
	}

	if err = updateEnergy(ctx, tx, s.installationsTable, run.InstallationID, run.EnergyKWh); err != nil {
		return err
	}
	if err = setRunStatus(ctx, tx, s.runsTable, run.ID, production.RunCommitted, "", s.now()); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	run.Status = production.RunCommitted
	return nil
}

func lockInstallation(ctx context.Context, db querier, table, id string) error {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, table)
	var locked string
	if err := db.QueryRowContext(ctx, query, id).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", production.ErrNotFound, id)
		}
		return fmt.Errorf("lock installation: %w", err)
	}
	return nil
}

func newerCommitted(ctx context.Context, db querier, table, runID string) (bool, error) {
	query := fmt.Sprintf(`
SELECT EXISTS (
	SELECT 1
	FROM %[1]s newer
	JOIN %[1]s cur ON cur.id = $1
	WHERE newer.installation_id = cur.installation_id
	  AND newer.status = $2
	  AND newer.created_at > cur.created_at
)`, table)

	var exists bool
	if err := db.QueryRowContext(ctx, query, runID, string(production.RunCommitted)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check newer runs: %w", err)
	}
	return exists, nil
}

const runColumns = `id, installation_id, filename, path, energie_kwh, status, error, simulated, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (production.Run, error) {
	var (
		run    production.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.InstallationID,
		&run.Filename,
		&run.Path,
		&run.EnergyKWh,
		&status,
		&run.Error,
		&run.Simulated,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	run.Status = production.RunStatus(status)
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	return run, err
}

func (s *PostgresStore) LatestRun(ctx context.Context, installationID string) (*production.Run, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE installation_id = $1
ORDER BY created_at DESC
LIMIT 1`, runColumns, s.runsTable)

	run, err := scanRun(s.db.QueryRowContext(ctx, query, installationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select latest run: %w", err)
	}
	return &run, nil
}

// RunsByStatus returns matching runs oldest first.
func (s *PostgresStore) RunsByStatus(ctx context.Context, status production.RunStatus) ([]production.Run, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE status = $1
ORDER BY created_at ASC`, runColumns, s.runsTable)

	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	var result []production.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}
