// Package severity trains the accident severity regressor and buckets its
// scores into tiers.
package severity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/forest"
)

const (
	// DefaultSeed drives both the train/test shuffle and the forest.
	DefaultSeed int64 = 42
	// DefaultTestFraction is the share of rows held out for metrics.
	DefaultTestFraction = 0.2
	// MinTrainingRecords is the smallest dataset Train accepts.
	MinTrainingRecords = 10
)

// TrainConfig controls the split and the ensemble.
type TrainConfig struct {
	Seed         int64
	TestFraction float64
	Forest       forest.Config
}

// DefaultTrainConfig returns the reference configuration.
func DefaultTrainConfig() TrainConfig {
	fc := forest.DefaultConfig()
	fc.Seed = DefaultSeed
	return TrainConfig{
		Seed:         DefaultSeed,
		TestFraction: DefaultTestFraction,
		Forest:       fc,
	}
}

// Metrics are computed on the held-out rows.
type Metrics struct {
	MAE       float64 `json:"mae"`
	R2        float64 `json:"r2"`
	TrainSize int     `json:"train_size"`
	TestSize  int     `json:"test_size"`
}

// Model is a fitted severity regressor. It is read-only after Train.
type Model struct {
	forest  *forest.Forest
	metrics Metrics
}

// Train splits x and y, fits the forest on the training part and scores it
// on the held-out part. progress may be nil.
func Train(ctx context.Context, x *mat.Dense, y []float64, cfg TrainConfig, progress forest.ProgressFunc) (*Model, error) {
	rows, cols := x.Dims()
	if rows != len(y) {
		return nil, fmt.Errorf("train: %d rows but %d targets", rows, len(y))
	}
	if rows < MinTrainingRecords {
		return nil, fmt.Errorf("train needs at least %d records, got %d: %w",
			MinTrainingRecords, rows, accident.ErrInsufficientData)
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		return nil, fmt.Errorf("train: test fraction %v out of (0,1)", cfg.TestFraction)
	}

	testSize := int(math.Ceil(float64(rows) * cfg.TestFraction))
	trainSize := rows - testSize
	if trainSize < 1 {
		return nil, fmt.Errorf("train: no rows left after holding out %d: %w", testSize, accident.ErrInsufficientData)
	}
	perm := rand.New(rand.NewSource(cfg.Seed)).Perm(rows)
	testIdx, trainIdx := perm[:testSize], perm[testSize:]

	xTrain, yTrain := gather(x, y, trainIdx, cols)
	xTest, yTest := gather(x, y, testIdx, cols)

	f, err := forest.Fit(ctx, xTrain, yTrain, cfg.Forest, progress)
	if err != nil {
		return nil, err
	}

	pred := f.PredictMatrix(xTest)
	m := &Model{
		forest: f,
		metrics: Metrics{
			MAE:       floats.Distance(pred, yTest, 1) / float64(len(yTest)),
			R2:        rSquared(pred, yTest),
			TrainSize: trainSize,
			TestSize:  testSize,
		},
	}
	return m, nil
}

func gather(x *mat.Dense, y []float64, idx []int, cols int) (*mat.Dense, []float64) {
	xs := mat.NewDense(len(idx), cols, nil)
	ys := make([]float64, len(idx))
	for i, r := range idx {
		xs.SetRow(i, x.RawRowView(r))
		ys[i] = y[r]
	}
	return xs, ys
}

// rSquared is the coefficient of determination. A constant target has no
// variance to explain: a perfect fit scores 1, anything else 0.
func rSquared(pred, actual []float64) float64 {
	if len(actual) < 2 || stat.Variance(actual, nil) == 0 {
		if floats.EqualApprox(pred, actual, 1e-9) {
			return 1
		}
		return 0
	}
	return stat.RSquaredFrom(pred, actual, nil)
}

// Predict scores one encoded row.
func (m *Model) Predict(row []float64) (float64, error) {
	if m == nil || m.forest == nil {
		return 0, accident.ErrNotTrained
	}
	if len(row) != m.forest.Features {
		return 0, fmt.Errorf("predict: row has %d columns, model expects %d", len(row), m.forest.Features)
	}
	return m.forest.Predict(row), nil
}

// Metrics returns the held-out evaluation.
func (m *Model) Metrics() Metrics {
	return m.metrics
}

// Width is the number of feature columns the model expects.
func (m *Model) Width() int {
	return m.forest.Features
}

// Trees is the ensemble size.
func (m *Model) Trees() int {
	return len(m.forest.Trees)
}

// Snapshot is the serialized form of a Model.
type Snapshot struct {
	Forest  forest.Forest
	Metrics Metrics
}

// Snapshot exports the model.
func (m *Model) Snapshot() Snapshot {
	return Snapshot{Forest: *m.forest, Metrics: m.metrics}
}

// RestoreModel rebuilds a Model from a snapshot.
func RestoreModel(snap Snapshot) (*Model, error) {
	f := snap.Forest
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if snap.Metrics.TrainSize <= 0 {
		return nil, errors.New("snapshot has no training size")
	}
	return &Model{forest: &f, metrics: snap.Metrics}, nil
}
