package kfmt

import "io"

// ringBufferSize defines the capacity of the buffer holding Printf output
// produced before a console is attached. It must be a power of 2.
const ringBufferSize = 2048

// ringBuffer keeps the most recent ringBufferSize bytes written to it; older
// bytes are overwritten.
type ringBuffer struct {
	buffer [ringBufferSize]byte
	head   int // index of the oldest unread byte
	size   int // number of unread bytes
}

// Write writes len(p) bytes from p to the ringBuffer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		tail := (rb.head + rb.size) & (ringBufferSize - 1)
		rb.buffer[tail] = b

		if rb.size == ringBufferSize {
			rb.head = (rb.head + 1) & (ringBufferSize - 1)
		} else {
			rb.size++
		}
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns io.EOF once the buffer
// has been drained.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.size == 0 {
		return 0, io.EOF
	}

	// Read the contiguous chunk that starts at head.
	n := ringBufferSize - rb.head
	if n > rb.size {
		n = rb.size
	}
	if n > len(p) {
		n = len(p)
	}

	copy(p, rb.buffer[rb.head:rb.head+n])
	rb.head = (rb.head + n) & (ringBufferSize - 1)
	rb.size -= n

	return n, nil
}
