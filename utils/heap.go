package utils

import "golang.org/x/exp/constraints"

// Heap is a plain min-heap over ordered values.
type Heap[T constraints.Ordered] struct {
	buf []T
}

func (h *Heap[T]) Len() int {
	return len(h.buf)
}

// Peek returns the minimum without removing it; ok is false for an empty heap.
func (h *Heap[T]) Peek() (min T, ok bool) {
	if len(h.buf) == 0 {
		return
	}
	return h.buf[0], true
}

// Push pushes the element x onto the heap, O(log n).
func (h *Heap[T]) Push(x T) {
	h.buf = append(h.buf, x)
	h.up(h.Len() - 1)
}

// Pop removes and returns the minimum element, O(log n).
func (h *Heap[T]) Pop() (min T) {
	min = h.buf[0]
	n := h.Len() - 1
	h.swap(0, n)
	h.down(0, n)
	h.buf = h.buf[0:n]
	return
}

// RemoveValue drops the first occurrence of x, returns whether it was present.
func (h *Heap[T]) RemoveValue(x T) bool {
	for i, v := range h.buf {
		if v == x {
			h.remove(i)
			return true
		}
	}
	return false
}

func (h *Heap[T]) remove(i int) T {
	n := h.Len() - 1
	if n != i {
		h.swap(i, n)
		if !h.down(i, n) {
			h.up(i)
		}
	}
	x := h.buf[n]
	h.buf = h.buf[:n]
	return x
}

func (h *Heap[T]) swap(i, j int) {
	h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
}

func (h Heap[T]) up(j int) {
	for {
		i := (j - 1) / 2 // parent
		if i == j || !(h.buf[j] < h.buf[i]) {
			break
		}
		h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
		j = i
	}
}

func (h Heap[T]) down(i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 { // j1 < 0 after int overflow
			break
		}
		j := j1 // left child
		if j2 := j1 + 1; j2 < n && h.buf[j2] < h.buf[j1] {
			j = j2
		}
		if !(h.buf[j] < h.buf[i]) {
			break
		}
		h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
		i = j
	}
	return i > i0
}
