package scheduler

// rateTree is a sum segment tree over float64 weights, supporting weight
// updates and prefix-sum search in O(log n). Every internal node is recomputed
// from its two children, so the sums depend only on the current weights and
// never on the order of past updates.
type rateTree struct {
	size int
	tree []float64
}

func newRateTree(n int) *rateTree {
	size := 1
	for size < n {
		size *= 2
	}
	return &rateTree{size: size, tree: make([]float64, 2*size)}
}

func (r *rateTree) total() float64 { return r.tree[1] }

func (r *rateTree) weight(i int) float64 { return r.tree[r.size+i] }

func (r *rateTree) set(i int, w float64) {
	node := r.size + i
	if r.tree[node] == w {
		return
	}
	r.tree[node] = w
	for node /= 2; node > 0; node /= 2 {
		r.tree[node] = r.tree[2*node] + r.tree[2*node+1]
	}
}

// find returns the index whose prefix range contains u, for 0 <= u < total.
// It never returns a zero-weight index, even when rounding pushes u past the
// last positive weight.
func (r *rateTree) find(u float64) int {
	node := 1
	for node < r.size {
		left := 2 * node
		if (u < r.tree[left] && r.tree[left] > 0) || r.tree[left+1] == 0 {
			node = left
		} else {
			u -= r.tree[left]
			node = left + 1
		}
	}
	return node - r.size
}
