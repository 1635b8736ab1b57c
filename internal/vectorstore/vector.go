package vectorstore

import (
	"fmt"
	"math"
	"sort"
)

// l2normalize scales v to unit length in place. Zero vectors are left unchanged.
func l2normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// argsortDesc returns indices of vals ordered by descending value; ties keep index order.
func argsortDesc(vals []float32) []int {
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return vals[idx[a]] > vals[idx[b]] })
	return idx
}

// PassageID is the stable identifier of a passage within the corpus.
func PassageID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", documentID, chunkIndex)
}
