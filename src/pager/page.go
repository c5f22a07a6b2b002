// Package pager implements the physical page store described in the
// engine's Record Manager: fixed-size page I/O, linked multi-page
// records, free-page reclamation, and the atomic header swap that
// commits a revision.
package pager

import (
	"encoding/binary"
	"fmt"

	"mvccstore/src/dberrors"
)

// NoOffset denotes "no page" wherever an offset field is stored on disk.
const NoOffset int64 = -1

// pageLinkSize is the size in bytes of the next-page pointer, present at
// the start of every physical page.
const pageLinkSize = 8

// pageSlotSize is the size in bytes of the slot immediately following the
// next-page pointer. On the first page of a record this slot holds the
// record's total payload size; on any later page of the same record the
// identical byte range is reused as ordinary payload continuation.
const pageSlotSize = 4

// MinPageSize is the smallest page size the pager will accept.
const MinPageSize = 64

// PageIO is the in-memory representation of one physical page slot: its
// raw bytes, its file offset, and (once parsed) the offset of the next
// PageIO in its record's chain.
type PageIO struct {
	Offset int64  // absolute byte offset of this page within the file
	Next   int64  // offset of the next page in the chain, or NoOffset
	Dirty  bool   // true once this PageIO diverges from what's on disk

	// raw holds the full page-sized byte buffer, header and payload
	// combined, exactly as it is written to / read from disk.
	raw []byte
}

// FirstPagePayloadCap returns how many payload bytes the first page of a
// record can hold for the given physical page size.
func FirstPagePayloadCap(pageSize int) int {
	return pageSize - pageLinkSize - pageSlotSize
}

// ContinuationPayloadCap returns how many payload bytes a non-first page
// of a record can hold for the given physical page size.
func ContinuationPayloadCap(pageSize int) int {
	return pageSize - pageLinkSize
}

// newBlankPage allocates a zeroed raw buffer of pageSize bytes for offset.
func newBlankPage(offset int64, pageSize int) *PageIO {
	return &PageIO{
		Offset: offset,
		Next:   NoOffset,
		raw:    make([]byte, pageSize),
		Dirty:  true,
	}
}

// setNext stores p.Next into the raw buffer's link field.
func (p *PageIO) setNext(next int64) {
	p.Next = next
	binary.BigEndian.PutUint64(p.raw[0:8], uint64(next))
	p.Dirty = true
}

// setFirstPageSize writes the record's total payload size into the first
// page's slot field. Only valid for the first page of a record.
func (p *PageIO) setFirstPageSize(size int32) {
	binary.BigEndian.PutUint32(p.raw[8:12], uint32(size))
	p.Dirty = true
}

func (p *PageIO) firstPageSize() int32 {
	return int32(binary.BigEndian.Uint32(p.raw[8:12]))
}

// writeFirstChunk copies the first chunk of a record's payload (up to
// FirstPagePayloadCap(pageSize) bytes) into this page.
func (p *PageIO) writeFirstChunk(chunk []byte) {
	copy(p.raw[12:], chunk)
	p.Dirty = true
}

// writeContinuationChunk copies a continuation chunk (up to
// ContinuationPayloadCap(pageSize) bytes) into this page, starting right
// after the next-page link.
func (p *PageIO) writeContinuationChunk(chunk []byte) {
	copy(p.raw[8:], chunk)
	p.Dirty = true
}

func (p *PageIO) firstChunk() []byte {
	return p.raw[12:]
}

func (p *PageIO) continuationChunk() []byte {
	return p.raw[8:]
}

// decodePage parses the next-page link out of a raw page buffer; a first
// page's record size stays in raw and is read by firstPageSize. raw must
// be exactly pageSize bytes.
func decodePage(offset int64, raw []byte) *PageIO {
	next := int64(binary.BigEndian.Uint64(raw[0:8]))
	return &PageIO{
		Offset: offset,
		Next:   next,
		raw:    raw,
	}
}

// validateOffset checks that offset is page-aligned and within
// [0, fileSize), returning ErrInvalidOffset otherwise. offset == NoOffset
// is always considered valid by the caller before invoking this.
func validateOffset(offset int64, pageSize int, fileSize int64) error {
	if offset < 0 {
		return dberrors.Wrap(dberrors.ErrInvalidOffset, "negative offset %d", offset)
	}
	if offset%int64(pageSize) != 0 {
		return dberrors.Wrap(dberrors.ErrInvalidOffset, "offset %d not page-aligned (page size %d)", offset, pageSize)
	}
	if offset >= fileSize {
		return dberrors.Wrap(dberrors.ErrInvalidOffset, "offset %d past end of file (size %d)", offset, fileSize)
	}
	return nil
}

func validatePageSize(size int) error {
	if size < MinPageSize {
		return fmt.Errorf("pager: page size %d below minimum %d", size, MinPageSize)
	}
	if size&(size-1) != 0 {
		return fmt.Errorf("pager: page size %d is not a power of two", size)
	}
	return nil
}
