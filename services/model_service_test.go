package services

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/config"
	"railway-accident-analytics/logging"
	"railway-accident-analytics/pipeline"
	"railway-accident-analytics/store"
)

type fakeSnapshots struct {
	saved   []*pipeline.Pipeline
	sources []string
	latest  *pipeline.Pipeline
	err     error
}

func (f *fakeSnapshots) Save(_ context.Context, p *pipeline.Pipeline, source string) error {
	f.saved = append(f.saved, p)
	f.sources = append(f.sources, source)
	return f.err
}

func (f *fakeSnapshots) Latest(context.Context) (*pipeline.Pipeline, error) {
	if f.latest == nil {
		return nil, store.ErrNoSnapshot
	}
	return f.latest, nil
}

func trainingRecords(n int) []accident.Record {
	types := []string{"Derailment", "Collision", "Fire"}
	rng := rand.New(rand.NewSource(3))
	recs := make([]accident.Record, n)
	for i := range recs {
		recs[i] = accident.New(types[i%len(types)], rng.Intn(20), rng.Intn(50), float64(rng.Intn(10)))
	}
	return recs
}

func newTestModelService(snaps SnapshotRepository) *ModelService {
	opts := TrainOptions(config.ModelConfig{Trees: 5, Seed: 42, TestFraction: 0.2, Workers: 2})
	return NewModelService(opts, snaps, NewDisabledCache(logging.Discard()), logging.Discard())
}

// ── ModelService tests ──

func TestTrainOptions(t *testing.T) {
	opts := TrainOptions(config.ModelConfig{Trees: 7, MaxDepth: 4, Seed: 9, TestFraction: 0.25, Workers: 3})
	assert.Equal(t, int64(9), opts.Train.Seed)
	assert.Equal(t, 0.25, opts.Train.TestFraction)
	assert.Equal(t, 7, opts.Train.Forest.Trees)
	assert.Equal(t, 4, opts.Train.Forest.MaxDepth)
	assert.Equal(t, int64(9), opts.Train.Forest.Seed)
	assert.Equal(t, 3, opts.Train.Forest.Workers)
	assert.True(t, opts.Train.Forest.Bootstrap)
}

func TestModelServiceBeforeTraining(t *testing.T) {
	svc := newTestModelService(nil)

	assert.Nil(t, svc.Current())
	st := svc.Status()
	assert.False(t, st.Trained)
	assert.Nil(t, st.ID)

	_, err := svc.Predict(accident.New("Fire", 1, 1, 1))
	assert.ErrorIs(t, err, accident.ErrNotTrained)
}

func TestModelServiceTrain(t *testing.T) {
	snaps := &fakeSnapshots{}
	svc := newTestModelService(snaps)

	p, err := svc.Train(context.Background(), trainingRecords(30), "upload")
	require.NoError(t, err)
	assert.Same(t, p, svc.Current())
	require.Len(t, snaps.saved, 1)
	assert.Same(t, p, snaps.saved[0])
	assert.Equal(t, []string{"upload"}, snaps.sources)

	st := svc.Status()
	assert.True(t, st.Trained)
	assert.False(t, st.Training)
	require.NotNil(t, st.ID)
	assert.Equal(t, p.ID(), *st.ID)
	assert.Equal(t, 5, st.Trees)
	assert.Equal(t, []string{"Collision", "Derailment", "Fire"}, st.Vocabulary)

	res, err := svc.Predict(accident.New("Fire", 2, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, p.ID(), res.PipelineID)
}

func TestModelServiceTrainFailureKeepsPrevious(t *testing.T) {
	svc := newTestModelService(nil)
	first, err := svc.Train(context.Background(), trainingRecords(30), "seed")
	require.NoError(t, err)

	_, err = svc.Train(context.Background(), trainingRecords(3), "upload")
	assert.ErrorIs(t, err, accident.ErrInsufficientData)
	assert.Same(t, first, svc.Current())
}

func TestModelServiceSnapshotSaveErrorIsLogged(t *testing.T) {
	snaps := &fakeSnapshots{err: errors.New("disk full")}
	svc := newTestModelService(snaps)

	p, err := svc.Train(context.Background(), trainingRecords(30), "upload")
	require.NoError(t, err)
	assert.Same(t, p, svc.Current())
}

func TestModelServiceTrainingInProgress(t *testing.T) {
	svc := newTestModelService(nil)
	svc.mu.Lock()
	defer svc.mu.Unlock()

	_, err := svc.Train(context.Background(), trainingRecords(30), "upload")
	assert.ErrorIs(t, err, ErrTrainingInProgress)
}

func TestModelServiceRestore(t *testing.T) {
	t.Run("no snapshot", func(t *testing.T) {
		svc := newTestModelService(&fakeSnapshots{})
		require.NoError(t, svc.Restore(context.Background()))
		assert.Nil(t, svc.Current())
	})

	t.Run("latest snapshot installed", func(t *testing.T) {
		trained := newTestModelService(nil)
		p, err := trained.Train(context.Background(), trainingRecords(30), "seed")
		require.NoError(t, err)

		svc := newTestModelService(&fakeSnapshots{latest: p})
		require.NoError(t, svc.Restore(context.Background()))
		assert.Equal(t, p.ID(), svc.Current().ID())
	})

	t.Run("no repository", func(t *testing.T) {
		svc := newTestModelService(nil)
		assert.NoError(t, svc.Restore(context.Background()))
	})
}
