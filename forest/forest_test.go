package forest

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func linearData(n int, seed int64) (*mat.Dense, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a, b := rng.Float64()*10, rng.Float64()*10
		x.Set(i, 0, a)
		x.Set(i, 1, b)
		y[i] = 3*a + b
	}
	return x, y
}

// ── Tree tests ──

func TestGrowTreeFitsStepFunction(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {10}, {11}, {12}}
	y := []float64{5, 5, 5, 40, 40, 40}
	cfg := DefaultConfig()
	tree := growTree(x, y, []int{0, 1, 2, 3, 4, 5}, cfg, rand.New(rand.NewSource(1)))

	assert.Equal(t, 3, len(tree.Nodes))
	assert.Equal(t, 1, tree.Depth())
	assert.Equal(t, 6.5, tree.Nodes[0].Threshold)
	assert.Equal(t, 5.0, tree.Predict([]float64{0}))
	assert.Equal(t, 40.0, tree.Predict([]float64{100}))
}

func TestGrowTreeRespectsLimits(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}}
	y := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	all := []int{0, 1, 2, 3, 4, 5, 6, 7}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantDepth int
	}{
		{"unlimited", func(*Config) {}, 3},
		{"max depth 1", func(c *Config) { c.MaxDepth = 1 }, 1},
		{"min leaf 4", func(c *Config) { c.MinSamplesLeaf = 4 }, 1},
		{"min split 9", func(c *Config) { c.MinSamplesSplit = 9 }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			tree := growTree(x, y, all, cfg, rand.New(rand.NewSource(1)))
			assert.Equal(t, tt.wantDepth, tree.Depth())
		})
	}
}

func TestGrowTreeConstantFeature(t *testing.T) {
	x := [][]float64{{1}, {1}, {1}}
	y := []float64{1, 2, 3}
	tree := growTree(x, y, []int{0, 1, 2}, DefaultConfig(), rand.New(rand.NewSource(1)))
	require.Len(t, tree.Nodes, 1)
	assert.Equal(t, 2.0, tree.Predict([]float64{1}))
}

func TestGrowTreeAdjacentFloats(t *testing.T) {
	lo := math.Nextafter(1, 2)
	hi := math.Nextafter(lo, 2)
	x := [][]float64{{lo}, {hi}}
	y := []float64{3, 9}

	tree := growTree(x, y, []int{0, 1}, DefaultConfig(), rand.New(rand.NewSource(1)))
	require.Len(t, tree.Nodes, 3)
	assert.Equal(t, lo, tree.Nodes[0].Threshold)
	assert.Equal(t, 3.0, tree.Predict([]float64{lo}))
	assert.Equal(t, 9.0, tree.Predict([]float64{hi}))
}

func TestBestSplitThresholdSeparatesRows(t *testing.T) {
	lo := -0.3822590138713718
	hi := math.Nextafter(lo, 0)
	g := &grower{
		x:        [][]float64{{lo}, {lo}, {hi}, {hi}},
		y:        []float64{1, 2, 7, 8},
		cfg:      DefaultConfig(),
		rng:      rand.New(rand.NewSource(1)),
		features: []int{0},
	}
	f, threshold, ok := g.bestSplit([]int{0, 1, 2, 3})
	require.True(t, ok)
	assert.Equal(t, 0, f)
	assert.GreaterOrEqual(t, threshold, lo)
	assert.Less(t, threshold, hi)
}

// ── Forest tests ──

func TestFitPredictsLinearTarget(t *testing.T) {
	x, y := linearData(200, 7)
	f, err := Fit(context.Background(), x, y, DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Len(t, f.Trees, 100)
	assert.Equal(t, 2, f.Features)

	got := f.Predict([]float64{5, 5})
	assert.InDelta(t, 20.0, got, 2.5)
}

func TestFitDeterministic(t *testing.T) {
	x, y := linearData(60, 3)
	cfg := DefaultConfig()
	cfg.Trees = 20

	cfg.Workers = 1
	a, err := Fit(context.Background(), x, y, cfg, nil)
	require.NoError(t, err)
	cfg.Workers = 8
	b, err := Fit(context.Background(), x, y, cfg, nil)
	require.NoError(t, err)

	pa, pb := a.PredictMatrix(x), b.PredictMatrix(x)
	for i := range pa {
		assert.Equal(t, math.Float64bits(pa[i]), math.Float64bits(pb[i]), "row %d", i)
	}
}

func TestFitProgress(t *testing.T) {
	x, y := linearData(30, 1)
	cfg := DefaultConfig()
	cfg.Trees = 12

	var (
		mu   sync.Mutex
		seen []int
	)
	_, err := Fit(context.Background(), x, y, cfg, func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 12, total)
		seen = append(seen, done)
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, seen)
}

func TestFitCancelled(t *testing.T) {
	x, y := linearData(30, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, err := Fit(ctx, x, y, DefaultConfig(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, f)
}

func TestFitRejectsBadInput(t *testing.T) {
	x, y := linearData(10, 1)

	_, err := Fit(context.Background(), x, y[:5], DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Trees = 0
	_, err = Fit(context.Background(), x, y, cfg, nil)
	assert.Error(t, err)
}
