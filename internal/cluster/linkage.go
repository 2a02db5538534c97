package cluster

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// merge is one agglomeration step. Ids below n are leaves; merge k creates
// cluster n+k.
type merge struct {
	left, right int
	height      float64
	size        int
}

// completeLinkage clusters the rows of vecs with euclidean distance and
// complete linkage. Ties pick the lowest (i, j) pair of active clusters, so
// the result depends only on the input.
func completeLinkage(vecs [][]float64) []merge {
	n := len(vecs)
	if n < 2 {
		return nil
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(vecs[i], vecs[j], 2)
			dist[i][j], dist[j][i] = d, d
		}
	}

	// active[k] is the cluster id held in slot k; slots are compacted but
	// keep relative order so ties stay deterministic.
	active := make([]int, n)
	sizes := make([]int, n)
	slotDist := dist
	for i := range active {
		active[i] = i
		sizes[i] = 1
	}

	merges := make([]merge, 0, n-1)
	for len(active) > 1 {
		bi, bj := 0, 1
		best := math.Inf(1)
		for i := 0; i < len(active); i++ {
			for j := i + 1; j < len(active); j++ {
				if slotDist[i][j] < best {
					best = slotDist[i][j]
					bi, bj = i, j
				}
			}
		}

		// bi < bj, so the left child is the one holding the earlier slot.
		left, right := active[bi], active[bj]
		size := sizes[bi] + sizes[bj]
		merges = append(merges, merge{left: left, right: right, height: best, size: size})

		// Slot bi becomes the merged cluster; slot bj is removed.
		for k := range active {
			if k == bi || k == bj {
				continue
			}
			d := math.Max(slotDist[bi][k], slotDist[bj][k])
			slotDist[bi][k], slotDist[k][bi] = d, d
		}
		active[bi] = n + len(merges) - 1
		sizes[bi] = size

		active = append(active[:bj], active[bj+1:]...)
		sizes = append(sizes[:bj], sizes[bj+1:]...)
		slotDist = append(slotDist[:bj], slotDist[bj+1:]...)
		for k := range slotDist {
			slotDist[k] = append(slotDist[k][:bj], slotDist[k][bj+1:]...)
		}
	}
	return merges
}

// Branch is one dendrogram link drawn as a 4-point polyline
// (left leg up, across, right leg down).
type Branch struct {
	X [4]float64 `json:"x"`
	Y [4]float64 `json:"y"`
}

// leafSpacing and leafOffset place leaf i at x = leafOffset + leafSpacing*i.
const (
	leafSpacing = 10
	leafOffset  = 5
)

// dendrogram returns the leaf order and the branch polylines of a merge list
// over n leaves.
func dendrogram(n int, merges []merge) ([]int, []Branch) {
	if n == 0 {
		return nil, nil
	}
	if len(merges) == 0 {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order, nil
	}

	order := make([]int, 0, n)
	var walk func(id int)
	walk = func(id int) {
		if id < n {
			order = append(order, id)
			return
		}
		m := merges[id-n]
		walk(m.left)
		walk(m.right)
	}
	walk(n + len(merges) - 1)

	xs := make(map[int]float64, 2*n)
	for rank, leaf := range order {
		xs[leaf] = leafOffset + leafSpacing*float64(rank)
	}
	height := func(id int) float64 {
		if id < n {
			return 0
		}
		return merges[id-n].height
	}

	branches := make([]Branch, 0, len(merges))
	for k, m := range merges {
		xl, xr := xs[m.left], xs[m.right]
		h := m.height
		branches = append(branches, Branch{
			X: [4]float64{xl, xl, xr, xr},
			Y: [4]float64{height(m.left), h, h, height(m.right)},
		})
		xs[n+k] = (xl + xr) / 2
	}
	return order, branches
}
