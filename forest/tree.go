package forest

import (
	"math/rand"
	"sort"
)

// Node is one node of a flattened regression tree. Leaves have Left == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	Samples   int
}

// Tree is a CART regression tree grown with the squared-error criterion.
type Tree struct {
	Nodes []Node
}

// Predict walks the tree for one feature row.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the longest root-to-leaf path length.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Left < 0 {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

type grower struct {
	x        [][]float64
	y        []float64
	cfg      Config
	rng      *rand.Rand
	features []int
	nodes    []Node
}

// growTree fits one tree on the rows listed in sample (duplicates allowed).
func growTree(x [][]float64, y []float64, sample []int, cfg Config, rng *rand.Rand) Tree {
	nFeatures := len(x[0])
	g := &grower{
		x:        x,
		y:        y,
		cfg:      cfg,
		rng:      rng,
		features: make([]int, nFeatures),
	}
	for i := range g.features {
		g.features[i] = i
	}
	g.split(append([]int(nil), sample...), 0)
	return Tree{Nodes: g.nodes}
}

func (g *grower) leaf(rows []int) int {
	sum := 0.0
	for _, r := range rows {
		sum += g.y[r]
	}
	g.nodes = append(g.nodes, Node{Left: -1, Right: -1, Value: sum / float64(len(rows)), Samples: len(rows)})
	return len(g.nodes) - 1
}

func (g *grower) split(rows []int, depth int) int {
	if len(rows) < g.cfg.MinSamplesSplit || (g.cfg.MaxDepth > 0 && depth >= g.cfg.MaxDepth) || g.pure(rows) {
		return g.leaf(rows)
	}

	feature, threshold, ok := g.bestSplit(rows)
	if !ok {
		return g.leaf(rows)
	}

	var left, right []int
	for _, r := range rows {
		if g.x[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return g.leaf(rows)
	}

	idx := len(g.nodes)
	g.nodes = append(g.nodes, Node{Feature: feature, Threshold: threshold, Samples: len(rows)})
	l := g.split(left, depth+1)
	r := g.split(right, depth+1)
	g.nodes[idx].Left = l
	g.nodes[idx].Right = r
	return idx
}

func (g *grower) pure(rows []int) bool {
	first := g.y[rows[0]]
	for _, r := range rows[1:] {
		if g.y[r] != first {
			return false
		}
	}
	return true
}

// bestSplit maximizes the weighted reduction in squared error, which for a
// fixed parent reduces to maximizing sumL²/nL + sumR²/nR.
func (g *grower) bestSplit(rows []int) (int, float64, bool) {
	candidates := g.candidateFeatures()

	total := 0.0
	for _, r := range rows {
		total += g.y[r]
	}
	n := float64(len(rows))
	bestGain := total * total / n
	bestFeature, bestThreshold := -1, 0.0

	sorted := make([]int, len(rows))
	for _, f := range candidates {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool { return g.x[sorted[i]][f] < g.x[sorted[j]][f] })

		leftSum := 0.0
		for i := 0; i < len(sorted)-1; i++ {
			leftSum += g.y[sorted[i]]
			cur, next := g.x[sorted[i]][f], g.x[sorted[i+1]][f]
			if cur == next {
				continue
			}
			nl := i + 1
			nr := len(sorted) - nl
			if nl < g.cfg.MinSamplesLeaf || nr < g.cfg.MinSamplesLeaf {
				continue
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(nr)
			if gain > bestGain+1e-12 {
				bestGain = gain
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				// Adjacent floats can round the midpoint up to next.
				if bestThreshold >= next {
					bestThreshold = cur
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// candidateFeatures returns the features searched at one node: all of them
// when MaxFeatures is 0, otherwise a random subset of that size.
func (g *grower) candidateFeatures() []int {
	k := g.cfg.MaxFeatures
	if k <= 0 || k >= len(g.features) {
		return g.features
	}
	g.rng.Shuffle(len(g.features), func(i, j int) {
		g.features[i], g.features[j] = g.features[j], g.features[i]
	})
	return g.features[:k]
}
