package push

// ringSet is a bounded set that evicts in insertion order.
type ringSet[K comparable] struct {
	buf   []K
	head  int // index of the oldest entry
	n     int
	index map[K]struct{}
}

func newRingSet[K comparable](capacity int) *ringSet[K] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ringSet[K]{
		buf:   make([]K, capacity),
		index: make(map[K]struct{}, capacity),
	}
}

func (r *ringSet[K]) Contains(k K) bool {
	_, ok := r.index[k]
	return ok
}

// Add inserts k and reports whether it was absent. When full, the oldest
// entry is evicted first.
func (r *ringSet[K]) Add(k K) bool {
	if r.Contains(k) {
		return false
	}
	if r.n == len(r.buf) {
		var zero K
		delete(r.index, r.buf[r.head])
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.n--
	}
	r.buf[(r.head+r.n)%len(r.buf)] = k
	r.n++
	r.index[k] = struct{}{}
	return true
}

// Remove deletes k, keeping the insertion order of the rest.
func (r *ringSet[K]) Remove(k K) bool {
	if !r.Contains(k) {
		return false
	}
	delete(r.index, k)
	size := len(r.buf)
	for i := 0; i < r.n; i++ {
		if r.buf[(r.head+i)%size] != k {
			continue
		}
		for j := i; j < r.n-1; j++ {
			r.buf[(r.head+j)%size] = r.buf[(r.head+j+1)%size]
		}
		var zero K
		r.buf[(r.head+r.n-1)%size] = zero
		r.n--
		break
	}
	return true
}

func (r *ringSet[K]) Len() int { return r.n }

func (r *ringSet[K]) Cap() int { return len(r.buf) }
