package registry

// outputRing is a fixed-capacity byte ring holding the tail of a worker's
// process output. Appends past capacity overwrite the oldest bytes.
type outputRing struct {
	buf   []byte
	start int
	size  int
}

func newOutputRing(capacity int) *outputRing {
	return &outputRing{buf: make([]byte, capacity)}
}

func (r *outputRing) Write(p []byte) {
	if len(p) >= len(r.buf) {
		copy(r.buf, p[len(p)-len(r.buf):])
		r.start = 0
		r.size = len(r.buf)
		return
	}
	for _, b := range p {
		idx := (r.start + r.size) % len(r.buf)
		r.buf[idx] = b
		if r.size < len(r.buf) {
			r.size++
		} else {
			r.start = (r.start + 1) % len(r.buf)
		}
	}
}

func (r *outputRing) String() string {
	out := make([]byte, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return string(out)
}
