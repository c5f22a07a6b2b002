package pager

import (
	"encoding/binary"

	"mvccstore/src/dberrors"
)

// headerByteLen is the number of meaningful bytes in the file header
// page; the rest of page 0 is zero padding.
const headerByteLen = 4 + 4 + 8 + 8 + 8 + 8 + 8

// FileHeader is the page-0 record described in §3/§6: page size, tree
// count, free-list head, and the two-slot current/previous BoB and CPB
// offsets that make a commit's header rewrite the linearization point.
type FileHeader struct {
	PageSize       int32
	NbManagedTrees int32
	FirstFreePage  int64
	CurrentBoB     int64
	PreviousBoB    int64
	CurrentCPB     int64
	PreviousCPB    int64
}

func defaultHeader(pageSize int32) FileHeader {
	return FileHeader{
		PageSize:       pageSize,
		NbManagedTrees: 0,
		FirstFreePage:  NoOffset,
		CurrentBoB:     NoOffset,
		PreviousBoB:    NoOffset,
		CurrentCPB:     NoOffset,
		PreviousCPB:    NoOffset,
	}
}

// encode writes h into a freshly allocated pageSize-sized buffer.
func (h FileHeader) encode(pageSize int) []byte {
	buf := make([]byte, pageSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.PageSize))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.NbManagedTrees))
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.FirstFreePage))
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.CurrentBoB))
	binary.BigEndian.PutUint64(buf[24:32], uint64(h.PreviousBoB))
	binary.BigEndian.PutUint64(buf[32:40], uint64(h.CurrentCPB))
	binary.BigEndian.PutUint64(buf[40:48], uint64(h.PreviousCPB))
	return buf
}

// decodeHeader parses the header page. raw must be at least headerByteLen
// bytes (the caller's full page-0 buffer is fine; trailing bytes ignored).
func decodeHeader(raw []byte) (FileHeader, error) {
	if len(raw) < headerByteLen {
		return FileHeader{}, dberrors.Wrap(dberrors.ErrInvalidBTree, "header page too short: %d bytes", len(raw))
	}
	h := FileHeader{
		PageSize:       int32(binary.BigEndian.Uint32(raw[0:4])),
		NbManagedTrees: int32(binary.BigEndian.Uint32(raw[4:8])),
		FirstFreePage:  int64(binary.BigEndian.Uint64(raw[8:16])),
		CurrentBoB:     int64(binary.BigEndian.Uint64(raw[16:24])),
		PreviousBoB:    int64(binary.BigEndian.Uint64(raw[24:32])),
		CurrentCPB:     int64(binary.BigEndian.Uint64(raw[32:40])),
		PreviousCPB:    int64(binary.BigEndian.Uint64(raw[40:48])),
	}
	return h, nil
}
