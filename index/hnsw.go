package index

import (
	"container/heap"
	"math"
	"math/rand"

	"github.com/RoaringBitmap/roaring/v2"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/distance"
	"github.com/ewienik/scylla-usearch/internal/queue"
)

const (
	// DefaultConnectivity is the default number of bidirectional links per node.
	DefaultConnectivity = 16

	// DefaultExpansionAdd is the default candidate list size during construction.
	DefaultExpansionAdd = 128

	// DefaultExpansionSearch is the default candidate list size during search.
	DefaultExpansionSearch = 64

	// mmax0Multiplier is the multiplier for calculating maximum connections at layer 0.
	mmax0Multiplier = 2

	// minimumConnectivity is the smallest usable graph degree.
	minimumConnectivity = 2

	// layerSeed fixes the layer distribution so rebuilt graphs assign
	// levels the same way across restarts.
	layerSeed = 42
)

// searchResult is one neighbor returned by the graph search.
type searchResult struct {
	node     uint32
	distance float32
}

// hnsw is a Hierarchical Navigable Small World proximity graph.
//
// It is not safe for concurrent use: the owning index actor confines
// all access to its processing loop, so the graph carries no locks.
type hnsw struct {
	dims            int
	connectivity    int
	mmax0           int
	expansionAdd    int
	expansionSearch int
	levelMult       float64
	distFunc        distance.Func
	rng             *rand.Rand

	entry    uint32
	maxLevel int

	vectors   [][]float32  // node -> vector
	neighbors [][][]uint32 // node -> layer -> connected nodes
	deleted   *roaring.Bitmap
}

// newHNSW validates def and builds an empty graph. Zero connectivity or
// expansion values select the defaults; a non-positive dimensionality
// is a construction error.
func newHNSW(def vectorstore.IndexDefinition) (*hnsw, error) {
	if def.Dimensions <= 0 {
		return nil, vectorstore.NewErrInvalidDimension(def.Dimensions, nil)
	}

	connectivity := int(def.Connectivity)
	if connectivity == 0 {
		connectivity = DefaultConnectivity
	}
	if connectivity < minimumConnectivity {
		connectivity = minimumConnectivity
	}
	expansionAdd := int(def.ExpansionAdd)
	if expansionAdd == 0 {
		expansionAdd = DefaultExpansionAdd
	}
	expansionSearch := int(def.ExpansionSearch)
	if expansionSearch == 0 {
		expansionSearch = DefaultExpansionSearch
	}

	distFunc, err := distance.Provider(distance.MetricL2)
	if err != nil {
		return nil, err
	}

	return &hnsw{
		dims:            int(def.Dimensions),
		connectivity:    connectivity,
		mmax0:           connectivity * mmax0Multiplier,
		expansionAdd:    expansionAdd,
		expansionSearch: expansionSearch,
		levelMult:       1 / math.Log(float64(connectivity)),
		distFunc:        distFunc,
		rng:             rand.New(rand.NewSource(layerSeed)),
		maxLevel:        -1,
		deleted:         roaring.New(),
	}, nil
}

// randomLevel draws a node's top layer from the exponential layer
// distribution.
func (h *hnsw) randomLevel() int {
	return int(-math.Log(h.rng.Float64()) * h.levelMult)
}

// Add inserts v as a new node and returns its id.
func (h *hnsw) Add(v []float32) (uint32, error) {
	if len(v) == 0 {
		return 0, vectorstore.ErrEmptyVector
	}
	if len(v) != h.dims {
		return 0, &vectorstore.ErrDimensionMismatch{
			Expected: vectorstore.Dimensions(h.dims),
			Actual:   vectorstore.Dimensions(len(v)),
		}
	}

	node := uint32(len(h.vectors))
	level := h.randomLevel()

	h.vectors = append(h.vectors, v)
	h.neighbors = append(h.neighbors, make([][]uint32, level+1))

	if h.maxLevel < 0 {
		// First node becomes the entry point.
		h.entry = node
		h.maxLevel = level
		return node, nil
	}

	curr := h.entry
	currDist := h.distFunc(v, h.vectors[curr])

	// Greedy descent through the layers above the node's top layer.
	for l := h.maxLevel; l > level; l-- {
		curr, currDist = h.greedyClosest(v, curr, currDist, l)
	}

	// Connect on every layer the node participates in.
	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(v, curr, h.expansionAdd, l)
		selected := h.selectNeighbors(candidates, h.connectivity)
		h.neighbors[node][l] = make([]uint32, 0, len(selected))
		for _, s := range selected {
			h.neighbors[node][l] = append(h.neighbors[node][l], s.Node)
			h.connect(s.Node, node, l)
		}
		if len(selected) > 0 {
			curr = selected[0].Node
		}
	}

	if level > h.maxLevel {
		h.entry = node
		h.maxLevel = level
	}
	return node, nil
}

// Delete tombstones a node. The node keeps participating in graph
// traversal but is excluded from results.
func (h *hnsw) Delete(node uint32) {
	h.deleted.Add(node)
}

// Len returns the number of live (non-tombstoned) nodes.
func (h *hnsw) Len() int {
	return len(h.vectors) - int(h.deleted.GetCardinality())
}

// Search returns up to k live nodes nearest to q, ascending by distance.
func (h *hnsw) Search(q []float32, k int) ([]searchResult, error) {
	if k <= 0 {
		return nil, vectorstore.ErrInvalidLimit
	}
	if len(q) != h.dims {
		return nil, &vectorstore.ErrDimensionMismatch{
			Expected: vectorstore.Dimensions(h.dims),
			Actual:   vectorstore.Dimensions(len(q)),
		}
	}
	if h.maxLevel < 0 || h.Len() == 0 {
		return nil, nil
	}

	curr := h.entry
	currDist := h.distFunc(q, h.vectors[curr])
	for l := h.maxLevel; l > 0; l-- {
		curr, currDist = h.greedyClosest(q, curr, currDist, l)
	}

	ef := max(h.expansionSearch, k)
	candidates := h.searchLayer(q, curr, ef, 0)

	// Popping the max-heap yields farthest first; filling the slice
	// backwards leaves it ascending by distance.
	ordered := make([]queue.PriorityQueueItem, candidates.Len())
	for i := len(ordered) - 1; i >= 0; i-- {
		ordered[i] = heap.Pop(candidates).(queue.PriorityQueueItem)
	}

	results := make([]searchResult, 0, k)
	for _, item := range ordered {
		if h.deleted.Contains(item.Node) {
			continue
		}
		results = append(results, searchResult{node: item.Node, distance: item.Distance})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// greedyClosest walks layer l greedily toward q, starting from curr.
func (h *hnsw) greedyClosest(q []float32, curr uint32, currDist float32, l int) (uint32, float32) {
	for {
		improved := false
		for _, n := range h.neighborsAt(curr, l) {
			d := h.distFunc(q, h.vectors[n])
			if d < currDist {
				curr, currDist = n, d
				improved = true
			}
		}
		if !improved {
			return curr, currDist
		}
	}
}

// searchLayer is the ef-bounded best-first search over one layer.
// The returned queue is a max-heap holding at most ef candidates.
func (h *hnsw) searchLayer(q []float32, entry uint32, ef int, l int) *queue.PriorityQueue {
	entryDist := h.distFunc(q, h.vectors[entry])

	visited := map[uint32]struct{}{entry: {}}

	candidates := &queue.PriorityQueue{} // min-heap of nodes to expand
	heap.Push(candidates, queue.PriorityQueueItem{Node: entry, Distance: entryDist})

	found := &queue.PriorityQueue{Descending: true} // max-heap of best ef
	heap.Push(found, queue.PriorityQueueItem{Node: entry, Distance: entryDist})

	for candidates.Len() > 0 {
		curr := heap.Pop(candidates).(queue.PriorityQueueItem)
		if found.Len() >= ef && curr.Distance > found.Top().Distance {
			break
		}
		for _, n := range h.neighborsAt(curr.Node, l) {
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}
			d := h.distFunc(q, h.vectors[n])
			if found.Len() < ef || d < found.Top().Distance {
				heap.Push(candidates, queue.PriorityQueueItem{Node: n, Distance: d})
				heap.Push(found, queue.PriorityQueueItem{Node: n, Distance: d})
				if found.Len() > ef {
					heap.Pop(found)
				}
			}
		}
	}
	return found
}

// selectNeighbors picks the m nearest candidates, nearest first.
func (h *hnsw) selectNeighbors(candidates *queue.PriorityQueue, m int) []queue.PriorityQueueItem {
	selected := make([]queue.PriorityQueueItem, candidates.Len())
	for i := len(selected) - 1; i >= 0; i-- {
		selected[i] = heap.Pop(candidates).(queue.PriorityQueueItem)
	}
	if len(selected) > m {
		selected = selected[:m]
	}
	return selected
}

// connect adds target to source's neighbor list on layer l, pruning the
// list back to the layer's connection limit when it overflows.
func (h *hnsw) connect(source, target uint32, l int) {
	limit := h.connectivity
	if l == 0 {
		limit = h.mmax0
	}
	conns := append(h.neighborsAt(source, l), target)
	if len(conns) > limit {
		pq := &queue.PriorityQueue{}
		for _, n := range conns {
			heap.Push(pq, queue.PriorityQueueItem{
				Node:     n,
				Distance: h.distFunc(h.vectors[source], h.vectors[n]),
			})
		}
		conns = conns[:0]
		for len(conns) < limit {
			conns = append(conns, heap.Pop(pq).(queue.PriorityQueueItem).Node)
		}
	}
	h.neighbors[source][l] = conns
}

func (h *hnsw) neighborsAt(node uint32, l int) []uint32 {
	if l >= len(h.neighbors[node]) {
		return nil
	}
	return h.neighbors[node][l]
}
