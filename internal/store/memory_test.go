package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbourene/kinjo-production/internal/production"
)

func TestMemoryStoreGet(t *testing.T) {
	s := NewMemoryStore()
	lat, lon := 45.0, 5.0
	s.PutInstallation(production.Installation{ID: "a", Latitude: &lat, Longitude: &lon, CapacityKWc: 6, PRM: "p"})

	inst, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 6.0, inst.CapacityKWc)
	assert.True(t, inst.HasCoordinates())

	_, err = s.Get(context.Background(), "b")
	assert.True(t, errors.Is(err, production.ErrNotFound))
}

func TestMemoryStoreRunLifecycle(t *testing.T) {
	s := NewMemoryStore()
	s.PutInstallation(production.Installation{ID: "a", CapacityKWc: 6, PRM: "p"})
	ctx := context.Background()

	latest, err := s.LatestRun(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, latest)

	run := &production.Run{ID: "r1", InstallationID: "a", EnergyKWh: 12.5, Status: production.RunPending}
	require.NoError(t, s.BeginRun(ctx, run))
	assert.False(t, run.CreatedAt.IsZero())
	assert.Error(t, s.BeginRun(ctx, run))

	require.NoError(t, s.SetRunStatus(ctx, "r1", production.RunUploaded, ""))
	uploaded, err := s.RunsByStatus(ctx, production.RunUploaded)
	require.NoError(t, err)
	require.Len(t, uploaded, 1)

	require.NoError(t, s.CommitRun(ctx, run))
	assert.Equal(t, production.RunCommitted, run.Status)

	inst, _ := s.Get(ctx, "a")
	require.NotNil(t, inst.EnergyKWh)
	assert.Equal(t, 12.5, *inst.EnergyKWh)

	latest, err = s.LatestRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, production.RunCommitted, latest.Status)

	assert.Error(t, s.SetRunStatus(ctx, "missing", production.RunFailed, "x"))
}

func TestMemoryStoreCommitUnknownInstallation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	run := &production.Run{ID: "r1", InstallationID: "ghost"}
	require.NoError(t, s.BeginRun(ctx, run))

	err := s.CommitRun(ctx, run)
	assert.True(t, errors.Is(err, production.ErrNotFound))
	got, _ := s.LatestRun(ctx, "ghost")
	assert.Equal(t, production.RunStatus(""), got.Status)
}

func TestMemoryStoreRunsByStatusOrder(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	ctx := context.Background()
	for _, id := range []string{"r3", "r1", "r2"} {
		require.NoError(t, s.BeginRun(ctx, &production.Run{ID: id, InstallationID: "a", Status: production.RunUploaded}))
	}

	runs, err := s.RunsByStatus(ctx, production.RunUploaded)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[2].ID)

	latest, err := s.LatestRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.ID)
}

func TestMemoryStoreLoadInstallations(t *testing.T) {
	s := NewMemoryStore()
	n, err := s.LoadInstallations(strings.NewReader(`[
		{"id":"a","latitude":45.1,"longitude":4.2,"puissance":9,"prm":"111"},
		{"id":"b","puissance":3,"prm":"222","adresse":"Lyon"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := s.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, b.HasCoordinates())
	assert.Equal(t, "Lyon", b.Address)

	_, err = s.LoadInstallations(strings.NewReader(`[{"puissance":3}]`))
	assert.Error(t, err)
}

func TestMemoryStoreCommitOlderRunSuperseded(t *testing.T) {
	s := NewMemoryStore()
	s.PutInstallation(production.Installation{ID: "a", CapacityKWc: 6, PRM: "p"})
	ctx := context.Background()

	older := &production.Run{ID: "old", InstallationID: "a", EnergyKWh: 1, Status: production.RunUploaded}
	newer := &production.Run{ID: "new", InstallationID: "a", EnergyKWh: 2, Status: production.RunUploaded}
	require.NoError(t, s.BeginRun(ctx, older))
	require.NoError(t, s.BeginRun(ctx, newer))
	require.NoError(t, s.CommitRun(ctx, newer))

	err := s.CommitRun(ctx, older)
	assert.True(t, errors.Is(err, production.ErrSuperseded))
	assert.Equal(t, production.RunSuperseded, older.Status)

	inst, _ := s.Get(ctx, "a")
	assert.Equal(t, 2.0, *inst.EnergyKWh)
	superseded, err := s.RunsByStatus(ctx, production.RunSuperseded)
	require.NoError(t, err)
	require.Len(t, superseded, 1)
	assert.Equal(t, "old", superseded[0].ID)
}

func TestMemoryStoreCommitOutOfOrderUploads(t *testing.T) {
	s := NewMemoryStore()
	s.PutInstallation(production.Installation{ID: "a", CapacityKWc: 6, PRM: "p"})
	ctx := context.Background()

	older := &production.Run{ID: "old", InstallationID: "a", EnergyKWh: 1}
	newer := &production.Run{ID: "new", InstallationID: "a", EnergyKWh: 2}
	require.NoError(t, s.BeginRun(ctx, older))
	require.NoError(t, s.BeginRun(ctx, newer))

	// oldest first, as replayed: both apply and the newest total wins
	require.NoError(t, s.CommitRun(ctx, older))
	require.NoError(t, s.CommitRun(ctx, newer))
	inst, _ := s.Get(ctx, "a")
	assert.Equal(t, 2.0, *inst.EnergyKWh)
}
