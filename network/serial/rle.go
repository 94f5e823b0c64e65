package serial

// Run is one run-length encoded (count, value) pair
type Run[T any] struct {
	Count int
	Value T
}

// RunLengthEncode collapses consecutive items for which equal reports true
func RunLengthEncode[T any](items []T, equal func(a, b T) bool) []Run[T] {
	var runs []Run[T]
	for _, item := range items {
		if n := len(runs); n > 0 && equal(runs[n-1].Value, item) {
			runs[n-1].Count++
			continue
		}
		runs = append(runs, Run[T]{Count: 1, Value: item})
	}
	return runs
}

// RunLengthDecode expands runs back into a flat slice
func RunLengthDecode[T any](runs []Run[T]) []T {
	total := 0
	for _, run := range runs {
		total += run.Count
	}

	out := make([]T, 0, total)
	for _, run := range runs {
		for i := 0; i < run.Count; i++ {
			out = append(out, run.Value)
		}
	}
	return out
}
