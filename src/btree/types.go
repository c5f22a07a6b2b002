// Package btree implements the MVCC B+tree: copy-on-write leaf/node
// pages, split/merge/borrow rebalancing, per-revision root pointers, and
// the transaction/cursor objects that navigate them. It never inspects
// user key/value types directly — it is generic over a
// serializer.Serializer[K] and serializer.Serializer[V] bound at Open
// time (C1).
package btree

import (
	"encoding/binary"

	"mvccstore/src/dberrors"
)

// BTreeType distinguishes ordinary user trees from the two system trees
// (BoB, CPB) and the nested sub-value trees used for high-cardinality
// duplicate key values. The type affects exactly two things at commit:
// system trees are committed after user trees, and their own superseded
// pages are freed directly rather than recorded into CPB (to avoid
// self-reference).
type BTreeType int

const (
	TypeUser BTreeType = iota
	TypeBoB
	TypeCPB
	TypeSubValues
)

func (t BTreeType) String() string {
	switch t {
	case TypeUser:
		return "USER"
	case TypeBoB:
		return "BoB"
	case TypeCPB:
		return "CPB"
	case TypeSubValues:
		return "SubValues"
	default:
		return "UNKNOWN"
	}
}

// Info is the immutable per-tree metadata record (C4): fanout, name, and
// the serializer IDs needed to reconstruct the right codec on reopen.
type Info struct {
	Fanout          int32
	Name            string
	KeySerializerID string
	ValSerializerID string
	AllowDuplicates bool
}

// Encode serializes Info per §6: fanout, then three length-prefixed
// utf8 strings, then a 0/1 duplicates flag.
func (info Info) Encode() []byte {
	buf := make([]byte, 0, 4+4+len(info.Name)+4+len(info.KeySerializerID)+4+len(info.ValSerializerID)+4)
	buf = appendInt32(buf, info.Fanout)
	buf = appendString(buf, info.Name)
	buf = appendString(buf, info.KeySerializerID)
	buf = appendString(buf, info.ValSerializerID)
	dup := int32(0)
	if info.AllowDuplicates {
		dup = 1
	}
	buf = appendInt32(buf, dup)
	return buf
}

// DecodeInfo parses an Info record produced by Encode.
func DecodeInfo(b []byte) (Info, error) {
	var info Info
	var n int
	var err error

	info.Fanout, n, err = readInt32(b)
	if err != nil {
		return info, err
	}
	b = b[n:]

	info.Name, n, err = readString(b)
	if err != nil {
		return info, err
	}
	b = b[n:]

	info.KeySerializerID, n, err = readString(b)
	if err != nil {
		return info, err
	}
	b = b[n:]

	info.ValSerializerID, n, err = readString(b)
	if err != nil {
		return info, err
	}
	b = b[n:]

	dup, _, err := readInt32(b)
	if err != nil {
		return info, err
	}
	info.AllowDuplicates = dup != 0

	return info, nil
}

// Header is the per-revision tree header record (C5): one is created per
// committed revision of one tree.
type Header struct {
	Revision   int64
	NbElems    int64
	RootOffset int64
	InfoOffset int64
}

const headerRecordLen = 8 * 4

// Encode serializes Header per §6: four big-endian int64 fields.
func (h Header) Encode() []byte {
	buf := make([]byte, headerRecordLen)
	binary.BigEndian.PutUint64(buf[0:8], uint64(h.Revision))
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.NbElems))
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.RootOffset))
	binary.BigEndian.PutUint64(buf[24:32], uint64(h.InfoOffset))
	return buf
}

// DecodeHeader parses a Header record produced by Encode.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerRecordLen {
		return Header{}, dberrors.Wrap(dberrors.ErrInvalidBTree, "btree header record too short: %d bytes", len(b))
	}
	return Header{
		Revision:   int64(binary.BigEndian.Uint64(b[0:8])),
		NbElems:    int64(binary.BigEndian.Uint64(b[8:16])),
		RootOffset: int64(binary.BigEndian.Uint64(b[16:24])),
		InfoOffset: int64(binary.BigEndian.Uint64(b[24:32])),
	}, nil
}

// --- small encode/decode helpers shared by Info/Header/Leaf/Node ---

func appendInt32(dst []byte, v int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	return append(dst, buf[:]...)
}

func appendInt64(dst []byte, v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return append(dst, buf[:]...)
}

func appendString(dst []byte, s string) []byte {
	dst = appendInt32(dst, int32(len(s)))
	return append(dst, s...)
}

func appendBytesRaw(dst []byte, b []byte) []byte {
	dst = appendInt32(dst, int32(len(b)))
	return append(dst, b...)
}

func readInt32(b []byte) (int32, int, error) {
	if len(b) < 4 {
		return 0, 0, dberrors.Wrap(dberrors.ErrInvalidBTree, "truncated int32 field")
	}
	return int32(binary.BigEndian.Uint32(b[:4])), 4, nil
}

func readInt64(b []byte) (int64, int, error) {
	if len(b) < 8 {
		return 0, 0, dberrors.Wrap(dberrors.ErrInvalidBTree, "truncated int64 field")
	}
	return int64(binary.BigEndian.Uint64(b[:8])), 8, nil
}

func readString(b []byte) (string, int, error) {
	l, n, err := readInt32(b)
	if err != nil {
		return "", 0, err
	}
	if int(l) < 0 || len(b) < n+int(l) {
		return "", 0, dberrors.Wrap(dberrors.ErrInvalidBTree, "truncated string field")
	}
	return string(b[n : n+int(l)]), n + int(l), nil
}

func readBytesRaw(b []byte) ([]byte, int, error) {
	l, n, err := readInt32(b)
	if err != nil {
		return nil, 0, err
	}
	if int(l) < 0 || len(b) < n+int(l) {
		return nil, 0, dberrors.Wrap(dberrors.ErrInvalidBTree, "truncated bytes field")
	}
	out := make([]byte, l)
	copy(out, b[n:n+int(l)])
	return out, n + int(l), nil
}
