// Package catalog implements BoB (the directory of tree headers) and CPB
// (the directory of superseded pages awaiting reclamation): C9, C10, and
// C11 of the spec, both realized as ordinary btree.BTree instances of
// this same engine (§4.4) rather than bespoke structures.
package catalog

import (
	"bytes"
	"encoding/binary"

	"mvccstore/src/btree"
	"mvccstore/src/serializer"
)

// BoBKey orders BoB entries by (name ascending, revision ascending)
// (§4.4), so each name's revisions form one contiguous run. The lookup
// of a name's header as of an older snapshot (BoB.HistoricalHeader)
// scans the whole tree forward and keeps the greatest revision <= the
// snapshot.
type BoBKey struct {
	Name     string
	Revision int64
}

type bobKeySerializer struct{}

func (bobKeySerializer) ID() string { return "catalog.bobkey" }

func (bobKeySerializer) Encode(dst []byte, k BoBKey) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k.Name)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, k.Name...)
	var revBuf [8]byte
	binary.BigEndian.PutUint64(revBuf[:], uint64(k.Revision)^(1<<63))
	dst = append(dst, revBuf[:]...)
	return dst
}

func (bobKeySerializer) Decode(src []byte) (BoBKey, int, error) {
	n := int(binary.BigEndian.Uint32(src[:4]))
	name := string(src[4 : 4+n])
	rev := int64(binary.BigEndian.Uint64(src[4+n:4+n+8]) ^ (1 << 63))
	return BoBKey{Name: name, Revision: rev}, 4 + n + 8, nil
}

func (bobKeySerializer) Compare(a, b BoBKey) int {
	if a.Name != b.Name {
		if a.Name < b.Name {
			return -1
		}
		return 1
	}
	switch {
	case a.Revision < b.Revision:
		return -1
	case a.Revision > b.Revision:
		return 1
	default:
		return 0
	}
}

// headerSerializer adapts btree.Header's own Encode/DecodeHeader into
// the Serializer[T] capability so BoB can store it as an ordinary value.
type headerSerializer struct{}

func (headerSerializer) ID() string { return "catalog.header" }

func (headerSerializer) Encode(dst []byte, h btree.Header) []byte {
	return append(dst, h.Encode()...)
}

func (headerSerializer) Decode(src []byte) (btree.Header, int, error) {
	h, err := btree.DecodeHeader(src)
	if err != nil {
		return btree.Header{}, 0, err
	}
	return h, len(h.Encode()), nil
}

func (headerSerializer) Compare(a, b btree.Header) int {
	return bytes.Compare(a.Encode(), b.Encode())
}

// CPBKey orders CPB entries by (revision ascending, name ascending), so
// the reclaimer can walk from the oldest revision forward and stop at
// the first revision still visible to a live reader (§4.4).
type CPBKey struct {
	Revision int64
	Name     string
}

type cpbKeySerializer struct{}

func (cpbKeySerializer) ID() string { return "catalog.cpbkey" }

func (cpbKeySerializer) Encode(dst []byte, k CPBKey) []byte {
	var revBuf [8]byte
	binary.BigEndian.PutUint64(revBuf[:], uint64(k.Revision)^(1<<63))
	dst = append(dst, revBuf[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k.Name)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, k.Name...)
	return dst
}

func (cpbKeySerializer) Decode(src []byte) (CPBKey, int, error) {
	rev := int64(binary.BigEndian.Uint64(src[:8]) ^ (1 << 63))
	n := int(binary.BigEndian.Uint32(src[8:12]))
	name := string(src[12 : 12+n])
	return CPBKey{Revision: rev, Name: name}, 12 + n, nil
}

func (cpbKeySerializer) Compare(a, b CPBKey) int {
	switch {
	case a.Revision < b.Revision:
		return -1
	case a.Revision > b.Revision:
		return 1
	}
	if a.Name != b.Name {
		if a.Name < b.Name {
			return -1
		}
		return 1
	}
	return 0
}

// offsetListSerializer encodes a []int64 of superseded page offsets as a
// count followed by that many big-endian int64s.
type offsetListSerializer struct{}

func (offsetListSerializer) ID() string { return "catalog.offsetlist" }

func (offsetListSerializer) Encode(dst []byte, v []int64) []byte {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(v)))
	dst = append(dst, countBuf[:]...)
	for _, off := range v {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(off))
		dst = append(dst, buf[:]...)
	}
	return dst
}

func (offsetListSerializer) Decode(src []byte) ([]int64, int, error) {
	count := int(binary.BigEndian.Uint32(src[:4]))
	out := make([]int64, 0, count)
	pos := 4
	for i := 0; i < count; i++ {
		out = append(out, int64(binary.BigEndian.Uint64(src[pos:pos+8])))
		pos += 8
	}
	return out, pos, nil
}

func (offsetListSerializer) Compare(a, b []int64) int {
	// CPB never looks up by value, only by key; Compare exists only to
	// satisfy the Serializer contract and is never called in practice
	// since CPB's value type is never used as a key elsewhere.
	return bytes.Compare(offsetListSerializer{}.Encode(nil, a), offsetListSerializer{}.Encode(nil, b))
}

var (
	_ serializer.Serializer[BoBKey]  = bobKeySerializer{}
	_ serializer.Serializer[CPBKey]  = cpbKeySerializer{}
	_ serializer.Serializer[[]int64] = offsetListSerializer{}
)
