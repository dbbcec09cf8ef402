package protocol

import (
	"encoding/binary"
	"sync"

	"github.com/luminet-im/luminet/internal/lmerr"
)

// Buffer reassembles frames from a TCP byte stream. Reads from the socket
// are appended with Write; CanRead reports true iff at least one complete
// frame (or one provably malformed frame) is buffered, and Read removes
// exactly one frame.
type Buffer struct {
	mu  sync.Mutex
	buf []byte
}

// NewBuffer returns an empty reassembly buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Write appends stream bytes. The buffer is bounded by MaxPackageLength:
// a peer that streams more than one maximum frame without ever completing
// one is cut off with data_too_large.
func (b *Buffer) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf)+len(p) > MaxPackageLength {
		return lmerr.Ef(lmerr.CodeDataTooLarge, "reassembly buffer overflow")
	}
	b.buf = append(b.buf, p...)
	return nil
}

// CanRead reports whether Read will make progress: either a complete frame
// is buffered, or the buffered length prefix is malformed and Read will
// surface the decode error.
func (b *Buffer) CanRead() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canReadLocked()
}

func (b *Buffer) canReadLocked() bool {
	if len(b.buf) < lengthSize {
		return false
	}
	total := int(binary.BigEndian.Uint32(b.buf[0:4]))
	if total == 0 || total < MinPackageLength || total > MaxPackageLength {
		// Malformed prefix: readable so the caller sees the error.
		return true
	}
	return len(b.buf) >= total
}

// Read decodes and removes exactly one frame. It fails with
// incomplete_package when no complete frame is buffered; decode failures
// leave the buffer untouched (the connection is torn down on any of them).
func (b *Buffer) Read() (*DataPackage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.canReadLocked() {
		return nil, lmerr.E(lmerr.CodeIncompletePackage)
	}
	total := int(binary.BigEndian.Uint32(b.buf[0:4]))
	if total == 0 || total < MinPackageLength || total > MaxPackageLength {
		_, err := Decode(b.buf)
		return nil, err
	}
	pkg, err := Decode(b.buf[:total])
	if err != nil {
		return nil, err
	}
	b.buf = b.buf[total:]
	return pkg, nil
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
