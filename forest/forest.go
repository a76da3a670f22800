// Package forest implements a random-forest regressor: bootstrap-sampled
// CART trees whose predictions are averaged.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Config controls ensemble fitting.
type Config struct {
	Trees           int   // number of trees
	MaxDepth        int   // 0 means unlimited
	MinSamplesSplit int   // minimum rows to split a node
	MinSamplesLeaf  int   // minimum rows in each child
	MaxFeatures     int   // features tried per split, 0 means all
	Bootstrap       bool  // sample rows with replacement per tree
	Seed            int64 // master seed; per-tree seeds derive from it
	Workers         int   // parallel tree builders, 0 means GOMAXPROCS
}

// DefaultConfig mirrors the usual random-forest regressor defaults.
func DefaultConfig() Config {
	return Config{
		Trees:           100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		Seed:            42,
	}
}

// ProgressFunc is called after each tree is grown. It may be called from
// multiple goroutines.
type ProgressFunc func(done, total int)

// Forest is a fitted ensemble. It is read-only after Fit.
type Forest struct {
	Trees    []Tree
	Features int
}

// Fit grows cfg.Trees trees on the rows of x against targets y.
func Fit(ctx context.Context, x mat.Matrix, y []float64, cfg Config, progress ProgressFunc) (*Forest, error) {
	rows, cols := x.Dims()
	if rows == 0 || cols == 0 {
		return nil, errors.New("forest: empty training matrix")
	}
	if len(y) != rows {
		return nil, fmt.Errorf("forest: %d targets for %d rows", len(y), rows)
	}
	if cfg.Trees <= 0 {
		return nil, fmt.Errorf("forest: trees must be positive, got %d", cfg.Trees)
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	if cfg.MinSamplesLeaf < 1 {
		cfg.MinSamplesLeaf = 1
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	xs := make([][]float64, rows)
	for i := range xs {
		xs[i] = mat.Row(nil, i, x)
	}

	// Seeds are drawn up front so the result does not depend on scheduling.
	master := rand.New(rand.NewSource(cfg.Seed))
	seeds := make([]int64, cfg.Trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]Tree, cfg.Trees)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			trees[i] = growTree(xs, y, sampleRows(rows, cfg.Bootstrap, rng), cfg, rng)
			if progress != nil {
				progress(int(done.Add(1)), cfg.Trees)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Forest{Trees: trees, Features: cols}, nil
}

func sampleRows(n int, bootstrap bool, rng *rand.Rand) []int {
	sample := make([]int, n)
	for i := range sample {
		if bootstrap {
			sample[i] = rng.Intn(n)
		} else {
			sample[i] = i
		}
	}
	return sample
}

// Predict averages the trees' predictions for one row of f.Features values.
func (f *Forest) Predict(x []float64) float64 {
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees))
}

// PredictMatrix predicts every row of x.
func (f *Forest) PredictMatrix(x mat.Matrix) []float64 {
	rows, _ := x.Dims()
	out := make([]float64, rows)
	row := make([]float64, f.Features)
	for i := range out {
		mat.Row(row, i, x)
		out[i] = f.Predict(row)
	}
	return out
}

// Validate checks that a deserialized forest is well formed: every split
// refers to an in-range feature and child.
func (f *Forest) Validate() error {
	if len(f.Trees) == 0 {
		return errors.New("forest: no trees")
	}
	if f.Features <= 0 {
		return fmt.Errorf("forest: invalid feature count %d", f.Features)
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("forest: tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Left < 0 {
				continue
			}
			if n.Feature < 0 || n.Feature >= f.Features {
				return fmt.Errorf("forest: tree %d node %d splits on feature %d", ti, ni, n.Feature)
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("forest: tree %d node %d has invalid children", ti, ni)
			}
		}
	}
	return nil
}
