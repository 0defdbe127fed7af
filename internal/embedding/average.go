package embedding

// Average returns the elementwise mean of vectors.
//
// It returns nil when there are no vectors, when the first vector is empty,
// or when any vector's dimension differs from the first. A single vector is
// returned as an exact copy. Sums are accumulated in float64.
func Average(vectors [][]float32) []float32 {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil
	}
	dim := len(vectors[0])
	for _, v := range vectors[1:] {
		if len(v) != dim {
			return nil
		}
	}

	if len(vectors) == 1 {
		out := make([]float32, dim)
		copy(out, vectors[0])
		return out
	}

	sums := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			sums[i] += float64(x)
		}
	}

	n := float64(len(vectors))
	out := make([]float32, dim)
	for i, s := range sums {
		out[i] = float32(s / n)
	}
	return out
}
