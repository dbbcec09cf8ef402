// Package protocol implements the wire framing of the chat server.
//
// Every frame is self-delimiting:
//
//	total_length:u32 | type:u8 | sequence:u32 | request_id:u64 | payload | hash
//
// All multi-byte integers are network byte order. total_length counts the
// whole frame, length field included. The hash is SHA-256 over everything
// that precedes it.
package protocol

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"

	"github.com/luminet-im/luminet/internal/lmerr"
)

// PackageType identifies the kind of payload a frame carries.
type PackageType uint8

const (
	Unknown    PackageType = 0
	Text       PackageType = 1 // JSON request/response
	FileStream PackageType = 2
	Binary     PackageType = 3
	Heartbeat  PackageType = 4
)

const (
	lengthSize = 4
	headerSize = lengthSize + 1 + 4 + 8
	hashSize   = sha256.Size

	// MinPackageLength is the smallest legal frame: header plus hash,
	// empty payload.
	MinPackageLength = headerSize + hashSize

	// MaxPackageLength bounds a single frame and the reassembly buffer.
	MaxPackageLength = 1 << 23
)

// DataPackage is one decoded frame.
type DataPackage struct {
	Type      PackageType
	Sequence  uint32
	RequestID uint64
	Data      []byte
}

// Encode serializes p into a single frame.
func (p *DataPackage) Encode() []byte {
	total := headerSize + len(p.Data) + hashSize
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	buf[4] = byte(p.Type)
	binary.BigEndian.PutUint32(buf[5:9], p.Sequence)
	binary.BigEndian.PutUint64(buf[9:17], p.RequestID)
	copy(buf[headerSize:], p.Data)
	sum := sha256.Sum256(buf[:total-hashSize])
	copy(buf[total-hashSize:], sum[:])
	return buf
}

// Decode parses exactly one frame from b. b must contain the complete frame
// and nothing else.
func Decode(b []byte) (*DataPackage, error) {
	if len(b) < lengthSize {
		return nil, lmerr.E(lmerr.CodeIncompletePackage)
	}
	total := int(binary.BigEndian.Uint32(b[0:4]))
	if total == 0 {
		return nil, lmerr.E(lmerr.CodeEmptyLength)
	}
	if total < MinPackageLength {
		return nil, lmerr.Ef(lmerr.CodeDataTooSmall, "declared length %d", total)
	}
	if total > MaxPackageLength {
		return nil, lmerr.Ef(lmerr.CodeDataTooLarge, "declared length %d", total)
	}
	if len(b) < total {
		return nil, lmerr.E(lmerr.CodeIncompletePackage)
	}
	if len(b) > total {
		return nil, lmerr.Ef(lmerr.CodeInvalidData, "%d trailing bytes", len(b)-total)
	}
	if b[4] > byte(Heartbeat) {
		return nil, lmerr.Ef(lmerr.CodeInvalidData, "unknown package type %d", b[4])
	}

	sum := sha256.Sum256(b[:total-hashSize])
	if subtle.ConstantTimeCompare(sum[:], b[total-hashSize:total]) != 1 {
		return nil, lmerr.E(lmerr.CodeHashMismatched)
	}

	pkg := &DataPackage{
		Type:      PackageType(b[4]),
		Sequence:  binary.BigEndian.Uint32(b[5:9]),
		RequestID: binary.BigEndian.Uint64(b[9:17]),
	}
	if n := total - headerSize - hashSize; n > 0 {
		pkg.Data = make([]byte, n)
		copy(pkg.Data, b[headerSize:total-hashSize])
	}
	return pkg, nil
}

// MakeTextPackage frames payload as a Text package echoing requestID.
func MakeTextPackage(payload []byte, requestID uint64) []byte {
	pkg := &DataPackage{Type: Text, RequestID: requestID, Data: payload}
	return pkg.Encode()
}
