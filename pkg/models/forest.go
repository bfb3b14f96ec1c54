package models

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// ForestConfig holds the ensemble hyperparameters.
type ForestConfig struct {
	// Trees is the ensemble size.
	Trees int `json:"trees"`
	// MaxDepth limits tree depth; 0 grows trees until leaves are pure or MinLeaf is reached.
	MaxDepth int `json:"max_depth"`
	// MinLeaf is the minimum number of samples in a leaf.
	MinLeaf int `json:"min_leaf"`
	// MaxFeatures is the fraction of columns considered at each split, in (0, 1].
	MaxFeatures float64 `json:"max_features"`
	// Seed makes training reproducible; tree i draws from Seed+i.
	Seed int64 `json:"seed"`
	// Workers bounds training parallelism (defaults to GOMAXPROCS).
	Workers int `json:"-"`
}

// DefaultForestConfig returns 300 fully grown trees seeded with 42.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{Trees: 300, MinLeaf: 1, MaxFeatures: 1, Seed: 42}
}

func (c ForestConfig) validate() error {
	switch {
	case c.Trees <= 0:
		return fmt.Errorf("trees must be positive, got %d", c.Trees)
	case c.MaxDepth < 0:
		return fmt.Errorf("max depth must not be negative, got %d", c.MaxDepth)
	case c.MinLeaf <= 0:
		return fmt.Errorf("min leaf must be positive, got %d", c.MinLeaf)
	case c.MaxFeatures <= 0 || c.MaxFeatures > 1:
		return fmt.Errorf("max features must be in (0, 1], got %g", c.MaxFeatures)
	}
	return nil
}

// Forest is a bagged ensemble of regression trees. Each tree is grown on a
// bootstrap sample with variance-reduction splits; the prediction is the mean
// of the trees. Training is deterministic for a given seed regardless of the
// number of workers.
type Forest struct {
	mu        sync.RWMutex
	cfg       ForestConfig
	nFeatures int
	trees     []tree
}

type tree struct {
	Nodes []node `json:"nodes"`
}

// node is a split when Feature >= 0 and a leaf otherwise.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// NewForest creates an untrained Forest.
func NewForest(cfg ForestConfig) (*Forest, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Forest{cfg: cfg}, nil
}

// Name returns the model identifier.
func (f *Forest) Name() string {
	return "forest"
}

// Config returns the hyperparameters.
func (f *Forest) Config() ForestConfig {
	return f.cfg
}

// Features returns the vector length the forest was trained on.
func (f *Forest) Features() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nFeatures
}

// Train fits the ensemble. It honors cancellation between trees.
func (f *Forest) Train(ctx context.Context, ds Dataset) error {
	if err := ds.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	workers := f.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > f.cfg.Trees {
		workers = f.cfg.Trees
	}

	nFeatures := len(ds.Columns)
	mtry := int(math.Ceil(f.cfg.MaxFeatures * float64(nFeatures)))
	if mtry < 1 {
		mtry = 1
	}

	trees := make([]tree, f.cfg.Trees)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for i := range jobs {
				rng := rand.New(rand.NewSource(f.cfg.Seed + int64(i)))
				b := &treeBuilder{x: ds.X, y: ds.Y, cfg: f.cfg, rng: rng, mtry: mtry, nFeatures: nFeatures}
				trees[i] = b.build(bootstrap(rng, ds.Len()))
			}
		})
	}

	var err error
	for i := range trees {
		if err = ctx.Err(); err != nil {
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.trees = trees
	f.nFeatures = nFeatures
	f.mu.Unlock()
	return nil
}

// Predict averages the trees' outputs for x.
func (f *Forest) Predict(ctx context.Context, x []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.trees) == 0 {
		return 0, ErrNotTrained
	}
	if len(x) != f.nFeatures {
		return 0, fmt.Errorf("%w: vector has %d values, model expects %d", ErrSchemaMismatch, len(x), f.nFeatures)
	}

	var sum float64
	for i := range f.trees {
		sum += f.trees[i].predict(x)
	}
	return sum / float64(len(f.trees)), nil
}

func (t *tree) predict(x []float64) float64 {
	n := t.Nodes[0]
	for n.Feature >= 0 {
		if x[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}

type forestJSON struct {
	Config    ForestConfig `json:"config"`
	NFeatures int          `json:"n_features"`
	Trees     []tree       `json:"trees"`
}

func (f *Forest) MarshalJSON() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return json.Marshal(forestJSON{Config: f.cfg, NFeatures: f.nFeatures, Trees: f.trees})
}

func (f *Forest) UnmarshalJSON(data []byte) error {
	var fj forestJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return err
	}
	for ti, t := range fj.Trees {
		if err := t.check(fj.NFeatures); err != nil {
			return fmt.Errorf("tree %d: %w", ti, err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = fj.Config
	f.nFeatures = fj.NFeatures
	f.trees = fj.Trees
	return nil
}

// check rejects trees whose node references would panic at predict time.
func (t tree) check(nFeatures int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Feature < 0 {
			continue
		}
		if n.Feature >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, nFeatures)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children", i)
		}
	}
	return nil
}

func bootstrap(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

type treeBuilder struct {
	x         [][]float64
	y         []float64
	cfg       ForestConfig
	rng       *rand.Rand
	mtry      int
	nFeatures int
	nodes     []node
	scratch   []int
}

func (b *treeBuilder) build(idx []int) tree {
	b.scratch = make([]int, len(idx))
	b.grow(idx, 0)
	return tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, node{Feature: -1, Value: b.mean(idx)})

	if len(idx) < 2*b.cfg.MinLeaf || (b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) {
		return id
	}
	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return id
	}

	// partition in place: left holds x <= threshold
	i, j := 0, len(idx)-1
	for i <= j {
		if b.x[idx[i]][feature] <= threshold {
			i++
		} else {
			idx[i], idx[j] = idx[j], idx[i]
			j--
		}
	}

	left := b.grow(idx[:i], depth+1)
	right := b.grow(idx[i:], depth+1)
	b.nodes[id] = node{Feature: feature, Threshold: threshold, Left: left, Right: right, Value: b.nodes[id].Value}
	return id
}

func (b *treeBuilder) mean(idx []int) float64 {
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	return sum / float64(len(idx))
}

// bestSplit scans the candidate features for the threshold with the lowest
// summed squared error of the two children.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	n := len(idx)
	var total, totalSq float64
	for _, i := range idx {
		total += b.y[i]
		totalSq += b.y[i] * b.y[i]
	}
	parentSSE := totalSq - total*total/float64(n)
	if parentSSE <= 1e-12 {
		return 0, 0, false
	}

	candidates := b.candidateFeatures()
	bestScore := parentSSE - 1e-12
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := b.scratch[:n]
	minLeaf := b.cfg.MinLeaf
	for _, f := range candidates {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })

		var sumL, sqL float64
		for k := 0; k < n-1; k++ {
			yk := b.y[sorted[k]]
			sumL += yk
			sqL += yk * yk

			nL := k + 1
			nR := n - nL
			if nL < minLeaf {
				continue
			}
			if nR < minLeaf {
				break
			}
			lo, hi := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if lo == hi {
				continue
			}

			sumR := total - sumL
			sqR := totalSq - sqL
			score := (sqL - sumL*sumL/float64(nL)) + (sqR - sumR*sumR/float64(nR))
			if score < bestScore {
				thr := lo + (hi-lo)/2
				if thr >= hi {
					thr = lo
				}
				bestScore, bestFeature, bestThreshold, found = score, f, thr, true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func (b *treeBuilder) candidateFeatures() []int {
	if b.mtry >= b.nFeatures {
		all := make([]int, b.nFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.rng.Perm(b.nFeatures)[:b.mtry]
}
