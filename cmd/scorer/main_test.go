package main

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/config"
	"railway-accident-analytics/logging"
	"railway-accident-analytics/pipeline"
	"railway-accident-analytics/services"
	"railway-accident-analytics/severity"
)

func testOptions() pipeline.Options {
	return services.TrainOptions(config.ModelConfig{Trees: 5, Seed: 42, TestFraction: 0.2, Workers: 2})
}

func sampleRecords(n int) []accident.Record {
	types := []string{"Derailment", "Collision", "Fire"}
	rng := rand.New(rand.NewSource(5))
	recs := make([]accident.Record, n)
	for i := range recs {
		recs[i] = accident.New(types[i%len(types)], rng.Intn(15), rng.Intn(40), float64(rng.Intn(8)))
	}
	return recs
}

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.id
	*(dest[1].(*time.Time)) = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return nil
}

type fakeDB struct {
	row      fakeRow
	rowArgs  [][]any
	execArgs []any
	execErr  error
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.rowArgs = append(f.rowArgs, args)
	return f.row
}

func (f *fakeDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	f.execArgs = args
	return pgconn.CommandTag{}, f.execErr
}

type fakePruner struct{ keep int }

func (f *fakePruner) Prune(_ context.Context, keep int) (int64, error) {
	f.keep = keep
	return 0, nil
}

func newTestScorer(db *fakeDB) *scorer {
	log := logging.Discard()
	cache := services.NewDisabledCache(log)
	return &scorer{
		db:     db,
		models: services.NewModelService(testOptions(), nil, cache, log),
		cache:  cache,
		log:    log,
	}
}

// ── Row selection tests ──

func TestTrainable(t *testing.T) {
	sev := 12.0
	deaths := 2
	all := []storedAccident{
		{ID: 1, Record: accident.New("Fire", 1, 2, 3)},
		{ID: 2, Record: accident.Record{AccidentType: "Fire", Severity: &sev}},
		{ID: 3, Record: accident.Record{AccidentType: "Fire", Deaths: &deaths}},
	}
	got := trainable(all)
	require.Len(t, got, 2)
	assert.Equal(t, 12.0, *got[1].Severity)
}

func TestPending(t *testing.T) {
	all := []storedAccident{
		{ID: 1, Record: accident.New("Fire", 1, 1, 1)},
		{ID: 2, Record: accident.New("Fire", 2, 2, 2)},
		{ID: 3, Record: accident.New("Collision", 3, 3, 3)},
	}
	got, skipped := pending(all, map[int64]bool{2: true})
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
	assert.Zero(t, skipped)

	got, _ = pending(all, map[int64]bool{1: true, 2: true, 3: true})
	assert.Empty(t, got)
}

func TestPendingSkipsUnscorable(t *testing.T) {
	sev := 4.0
	all := []storedAccident{
		{ID: 1, Record: accident.New("Fire", 1, 1, 1)},
		{ID: 2, Record: accident.Record{AccidentType: "Fire", Severity: &sev}},
		{ID: 3, Record: accident.Record{AccidentType: "Fire"}},
	}
	for cycle := 0; cycle < 3; cycle++ {
		got, skipped := pending(all, nil)
		require.Len(t, got, 1)
		assert.Equal(t, int64(1), got[0].ID)
		assert.Equal(t, 2, skipped)
	}
}

func TestNeedsRetrain(t *testing.T) {
	p, err := pipeline.Fit(context.Background(), sampleRecords(30), testOptions())
	require.NoError(t, err)

	tests := []struct {
		name      string
		current   *pipeline.Pipeline
		trainedOn int
		count     int
		want      bool
	}{
		{"too few rows", nil, 0, severity.MinTrainingRecords - 1, false},
		{"no pipeline", nil, 0, severity.MinTrainingRecords, true},
		{"restored, same rows", p, 0, 30, false},
		{"restored, new rows", p, 0, 31, true},
		{"tracked count unchanged", p, 40, 40, false},
		{"tracked count changed", p, 40, 30, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsRetrain(tt.current, tt.trainedOn, tt.count))
		})
	}
}

// ── Cycle step tests ──

func TestRetrain(t *testing.T) {
	db := &fakeDB{}
	s := newTestScorer(db)
	pruner := &fakePruner{}
	s.snapshots = pruner

	s.retrain(context.Background(), sampleRecords(30))
	require.True(t, s.models.Current().Trained())
	assert.Equal(t, 30, s.trainedOn)
	require.Len(t, db.execArgs, 9)
	assert.Equal(t, s.models.Current().ID().String(), db.execArgs[0])
	assert.Equal(t, 30, db.execArgs[2])
	assert.Equal(t, trainingSource, db.execArgs[8])
	assert.Equal(t, keepSnapshots, pruner.keep)
}

func TestRetrainFailureKeepsCount(t *testing.T) {
	s := newTestScorer(&fakeDB{})
	s.retrain(context.Background(), sampleRecords(3))
	assert.Nil(t, s.models.Current())
	assert.Zero(t, s.trainedOn)
}

func TestScoreAndStore(t *testing.T) {
	db := &fakeDB{row: fakeRow{id: 9}}
	s := newTestScorer(db)
	_, err := s.models.Train(context.Background(), sampleRecords(30), "seed")
	require.NoError(t, err)

	todo := []storedAccident{
		{ID: 4, Record: accident.New("Fire", 6, 4, 2)},
		{ID: 5, Record: accident.Record{AccidentType: "Fire"}},
	}
	predictions := s.score(todo)
	require.Len(t, predictions, 1)
	assert.Equal(t, int64(4), *predictions[0].AccidentID)
	assert.Equal(t, "Fire", predictions[0].AccidentType)

	stored := s.storePredictions(context.Background(), predictions)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(9), stored[0].ID)
	assert.False(t, stored[0].CreatedAt.IsZero())
	require.Len(t, db.rowArgs, 1)
	require.Len(t, db.rowArgs[0], 12)
	assert.Equal(t, s.models.Current().ID().String(), db.rowArgs[0][1])
	assert.Equal(t, "INR", db.rowArgs[0][11])

	assert.Zero(t, s.publishPredictions(context.Background(), stored), "disabled cache publishes nothing")
}

func TestStorePredictionsSkipsFailures(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: errors.New("deadlock detected")}}
	s := newTestScorer(db)
	_, err := s.models.Train(context.Background(), sampleRecords(30), "seed")
	require.NoError(t, err)

	predictions := s.score([]storedAccident{{ID: 1, Record: accident.New("Collision", 1, 1, 1)}})
	assert.Empty(t, s.storePredictions(context.Background(), predictions))
}
