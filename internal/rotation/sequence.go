package rotation

import "iter"

// Filter yields the elements of seq for which skip reports false. Elements
// are pulled lazily, so skip runs only for candidates that are reached.
func Filter[T any](seq iter.Seq[T], skip func(T) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range seq {
			if skip(v) {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Limit yields at most n elements of seq. n <= 0 means no limit.
func Limit[T any](seq iter.Seq[T], n int) iter.Seq[T] {
	return func(yield func(T) bool) {
		if n <= 0 {
			for v := range seq {
				if !yield(v) {
					return
				}
			}
			return
		}
		i := 0
		for v := range seq {
			if !yield(v) {
				return
			}
			i++
			if i >= n {
				return
			}
		}
	}
}

// Pairs yields every unordered pair (items[i], items[j]) with i < j in list
// order.
func Pairs[T any](items []T) iter.Seq2[T, T] {
	return func(yield func(T, T) bool) {
		for i := 0; i < len(items); i++ {
			for j := i + 1; j < len(items); j++ {
				if !yield(items[i], items[j]) {
					return
				}
			}
		}
	}
}
