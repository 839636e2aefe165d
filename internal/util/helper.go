package util

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// JoinSlices concatenates the given slices into a single freshly-allocated slice.
func JoinSlices[T any](slices ...[]T) []T {
	total := 0
	for _, s := range slices {
		total += len(s)
	}

	joined := make([]T, 0, total)
	for _, s := range slices {
		joined = append(joined, s...)
	}

	return joined
}
