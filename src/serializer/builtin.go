package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// BytesSerializer serializes []byte with a uint32 length prefix and
// orders values lexicographically.
type BytesSerializer struct{}

func (BytesSerializer) ID() string { return "bytes" }

func (BytesSerializer) Encode(dst []byte, v []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, v...)
	return dst
}

func (BytesSerializer) Decode(src []byte) ([]byte, int, error) {
	if len(src) < 4 {
		return nil, 0, fmt.Errorf("serializer: bytes length prefix truncated")
	}
	n := int(binary.BigEndian.Uint32(src[:4]))
	if len(src) < 4+n {
		return nil, 0, fmt.Errorf("serializer: bytes payload truncated: want %d have %d", n, len(src)-4)
	}
	v := make([]byte, n)
	copy(v, src[4:4+n])
	return v, 4 + n, nil
}

func (BytesSerializer) Compare(a, b []byte) int { return bytes.Compare(a, b) }

// StringSerializer serializes string the same way BytesSerializer does,
// with lexicographic byte ordering.
type StringSerializer struct{}

func (StringSerializer) ID() string { return "string" }

func (StringSerializer) Encode(dst []byte, v string) []byte {
	return BytesSerializer{}.Encode(dst, []byte(v))
}

func (StringSerializer) Decode(src []byte) (string, int, error) {
	b, n, err := BytesSerializer{}.Decode(src)
	return string(b), n, err
}

func (StringSerializer) Compare(a, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Int64Serializer serializes int64 as 8 big-endian bytes with the sign
// bit flipped, so unsigned big-endian comparison (and therefore plain
// byte-order comparison of the encoded form) matches signed numeric
// order.
type Int64Serializer struct{}

func (Int64Serializer) ID() string { return "int64" }

func (Int64Serializer) Encode(dst []byte, v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v)^(1<<63))
	return append(dst, buf[:]...)
}

func (Int64Serializer) Decode(src []byte) (int64, int, error) {
	if len(src) < 8 {
		return 0, 0, fmt.Errorf("serializer: int64 payload truncated")
	}
	u := binary.BigEndian.Uint64(src[:8])
	return int64(u ^ (1 << 63)), 8, nil
}

func (Int64Serializer) Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Uint64Serializer serializes uint64 as 8 big-endian bytes.
type Uint64Serializer struct{}

func (Uint64Serializer) ID() string { return "uint64" }

func (Uint64Serializer) Encode(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func (Uint64Serializer) Decode(src []byte) (uint64, int, error) {
	if len(src) < 8 {
		return 0, 0, fmt.Errorf("serializer: uint64 payload truncated")
	}
	return binary.BigEndian.Uint64(src[:8]), 8, nil
}

func (Uint64Serializer) Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// UnitSerializer serializes struct{} as zero bytes. It backs the nested
// sub-value trees a high-cardinality value holder promotes to: those
// trees are keyed by the user's V with nothing meaningful in the value
// slot, so the value serializer only needs to round-trip "nothing".
type UnitSerializer struct{}

func (UnitSerializer) ID() string { return "unit" }

func (UnitSerializer) Encode(dst []byte, _ struct{}) []byte { return dst }

func (UnitSerializer) Decode(src []byte) (struct{}, int, error) { return struct{}{}, 0, nil }

func (UnitSerializer) Compare(struct{}, struct{}) int { return 0 }

// BSONSerializer adapts bson.Marshal/Unmarshal into the Serializer
// capability for arbitrary struct- or map-shaped user values, the same
// role bson plays for persisting document-shaped data in the teacher's
// storage layer. T must be a type bson can marshal to a document (a
// struct or map); KeyFunc extracts the comparable sort key from a value
// so Compare doesn't have to re-decode both sides on every comparison.
type BSONSerializer[T any] struct {
	name    string
	keyFunc func(T) []byte
}

// NewBSONSerializer builds a BSON-backed serializer. keyFunc must return
// a byte encoding of whatever field(s) of T determine its sort order
// (e.g. a length-prefixed encoding of the primary key field); values are
// then ordered by bytes.Compare on that encoding.
func NewBSONSerializer[T any](name string, keyFunc func(T) []byte) BSONSerializer[T] {
	return BSONSerializer[T]{name: name, keyFunc: keyFunc}
}

func (s BSONSerializer[T]) ID() string { return "bson:" + s.name }

func (s BSONSerializer[T]) Encode(dst []byte, v T) []byte {
	doc, err := bson.Marshal(v)
	if err != nil {
		// Encode has no error return in the Serializer contract; a
		// marshal failure here means T is not bson-shaped, which is a
		// programming error caught by tests, not a runtime condition.
		panic(fmt.Sprintf("serializer: bson marshal of %T failed: %v", v, err))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(doc)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, doc...)
	return dst
}

func (s BSONSerializer[T]) Decode(src []byte) (T, int, error) {
	var zero T
	if len(src) < 4 {
		return zero, 0, fmt.Errorf("serializer: bson length prefix truncated")
	}
	n := int(binary.BigEndian.Uint32(src[:4]))
	if len(src) < 4+n {
		return zero, 0, fmt.Errorf("serializer: bson payload truncated: want %d have %d", n, len(src)-4)
	}
	var v T
	if err := bson.Unmarshal(src[4:4+n], &v); err != nil {
		return zero, 0, fmt.Errorf("serializer: bson unmarshal: %w", err)
	}
	return v, 4 + n, nil
}

func (s BSONSerializer[T]) Compare(a, b T) int {
	return bytes.Compare(s.keyFunc(a), s.keyFunc(b))
}
