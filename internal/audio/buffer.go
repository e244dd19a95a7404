package audio

// ringBuffer is a fixed-size byte ring. One slot is kept free so that
// read == write always means empty. Callers serialize access.
type ringBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write copies as much of data as fits and returns the count written
func (rb *ringBuffer) Write(data []byte) int {
	n := len(data)
	if space := rb.Space(); n > space {
		n = space
	}
	for i := 0; i < n; {
		end := rb.size
		if rb.read > rb.write {
			end = rb.read
		}
		copied := copy(rb.buffer[rb.write:end], data[i:n])
		i += copied
		rb.write = (rb.write + copied) % rb.size
	}
	return n
}

// Read fills data from the ring and returns the count read
func (rb *ringBuffer) Read(data []byte) int {
	n := len(data)
	if avail := rb.Available(); n > avail {
		n = avail
	}
	for i := 0; i < n; {
		end := rb.size
		if rb.write > rb.read {
			end = rb.write
		}
		copied := copy(data[i:n], rb.buffer[rb.read:end])
		i += copied
		rb.read = (rb.read + copied) % rb.size
	}
	return n
}

// Available returns the number of bytes available to read
func (rb *ringBuffer) Available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Space returns the number of bytes available to write
func (rb *ringBuffer) Space() int {
	return rb.size - rb.Available() - 1
}

func (rb *ringBuffer) Clear() {
	rb.read = 0
	rb.write = 0
}
