package pager

import (
	"io"
	"os"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mvccstore/src/dberrors"
)

// Pager is the physical page store. It owns the backing file, the file
// header (including the free-page list), and turns byte records into
// chains of PageIOs and back. Exactly one Pager should hold the write
// role at a time (the pager does not enforce this; engine.Store's
// writer mutex, taken in its beginWrite/endWrite, serializes writers);
// many readers may call the read-only methods
// concurrently.
type Pager struct {
	path     string
	file     *os.File
	pageSize int

	// headerMu guards FileHeader field reads/writes and the header page
	// rewrite. It is held only for each single header read, update or
	// rewrite, never across a whole commit, so it does not serialize
	// writers by itself.
	headerMu sync.Mutex
	header   FileHeader

	// freeListMu guards allocate/free manipulation of the free-page
	// list independently of the header rewrite/file-extension path,
	// matching §5's "free list has a dedicated mutex" requirement.
	freeListMu sync.Mutex

	// trackingMu guards the optional allocation-tracking list a writer
	// transaction brackets with StartAllocationTracking/
	// StopAllocationTracking so a rollback can free everything the
	// transaction allocated before it failed (spec.md §4.1/§4.2's "pages
	// allocated within a write transaction are freed on rollback").
	trackingMu sync.Mutex
	tracking   bool
	tracked    []int64

	cache *pageCache

	flock *fileLock

	logger *zap.SugaredLogger
}

// Options configure Open/Create.
type Options struct {
	PageSize  int
	CacheSize int
	Logger    *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = 512
	}
	if o.CacheSize == 0 {
		o.CacheSize = 1000
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Create makes a new backing file at path and writes its initial header:
// empty free list, zero managed trees. The caller is responsible for
// installing BoB and CPB as the first two managed system trees (the
// catalog package does this).
func Create(path string, opts Options) (*Pager, error) {
	opts = opts.withDefaults()
	if err := validatePageSize(opts.PageSize); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, dberrors.WrapIO(err, "create %s", path)
	}

	lock, err := lockFile(file)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	pg := &Pager{
		path:     path,
		file:     file,
		pageSize: opts.PageSize,
		header:   defaultHeader(int32(opts.PageSize)),
		cache:    newPageCache(opts.CacheSize),
		flock:    lock,
		logger:   opts.Logger,
	}

	// Pre-allocate the header page (page 0).
	if _, err := file.WriteAt(pg.header.encode(pg.pageSize), 0); err != nil {
		file.Close()
		os.Remove(path)
		return nil, dberrors.WrapIO(err, "write initial header")
	}

	pg.logger.Infow("created storage file", "path", path, "pageSize", opts.PageSize)
	return pg, nil
}

// Open opens an existing backing file, validates the header, and walks
// the free list once to check acyclicity.
func Open(path string, opts Options) (*Pager, error) {
	opts = opts.withDefaults()

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, dberrors.WrapIO(err, "open %s", path)
	}

	lock, err := lockFile(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	hdrBuf := make([]byte, opts.PageSize)
	if _, err := io.ReadFull(file, hdrBuf); err != nil {
		file.Close()
		return nil, dberrors.WrapIO(err, "read header page")
	}
	hdr, err := decodeHeader(hdrBuf)
	if err != nil {
		file.Close()
		return nil, err
	}
	if int(hdr.PageSize) != opts.PageSize {
		// Trust the on-disk page size; callers may have passed a default.
		opts.PageSize = int(hdr.PageSize)
	}
	if err := validatePageSize(opts.PageSize); err != nil {
		file.Close()
		return nil, err
	}

	pg := &Pager{
		path:     path,
		file:     file,
		pageSize: opts.PageSize,
		header:   hdr,
		cache:    newPageCache(opts.CacheSize),
		flock:    lock,
		logger:   opts.Logger,
	}

	if err := pg.checkFreeListAcyclic(); err != nil {
		file.Close()
		return nil, err
	}

	pg.logger.Infow("opened storage file", "path", path, "pageSize", pg.pageSize)
	return pg, nil
}

// Close releases the advisory lock and closes the backing file,
// combining any failures from both steps.
func (pg *Pager) Close() error {
	var err error
	if pg.flock != nil {
		err = multierr.Append(err, pg.flock.unlock())
	}
	if pg.file != nil {
		err = multierr.Append(err, pg.file.Close())
	}
	return err
}

// PageSize returns the physical page size this pager was opened/created
// with.
func (pg *Pager) PageSize() int { return pg.pageSize }

// Header returns a copy of the current file header.
func (pg *Pager) Header() FileHeader {
	pg.headerMu.Lock()
	defer pg.headerMu.Unlock()
	return pg.header
}

// fileSize returns the current size of the backing file.
func (pg *Pager) fileSize() (int64, error) {
	info, err := pg.file.Stat()
	if err != nil {
		return 0, dberrors.WrapIO(err, "stat backing file")
	}
	return info.Size(), nil
}

// FileSize reports the current size of the backing file, for the
// inspector's printFileSize command.
func (pg *Pager) FileSize() (int64, error) {
	return pg.fileSize()
}

// readPhysicalPage reads one raw page at offset, consulting the cache
// first.
func (pg *Pager) readPhysicalPage(offset int64) (*PageIO, error) {
	if p, ok := pg.cache.get(offset); ok {
		return p, nil
	}

	raw := make([]byte, pg.pageSize)
	if _, err := pg.file.ReadAt(raw, offset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, dberrors.Wrap(dberrors.ErrEndOfFile, "page at offset %d", offset)
		}
		return nil, dberrors.WrapIO(err, "read page at offset %d", offset)
	}

	page := decodePage(offset, raw)
	pg.cache.put(offset, page)
	return page, nil
}

// writePhysicalPage writes one page to disk at its own offset and
// refreshes the cache.
func (pg *Pager) writePhysicalPage(p *PageIO) error {
	if _, err := pg.file.WriteAt(p.raw, p.Offset); err != nil {
		return dberrors.WrapIO(err, "write page at offset %d", p.Offset)
	}
	p.Dirty = false
	pg.cache.put(p.Offset, p)
	return nil
}

// ReadRecord follows next-page pointers from startOffset, reconciling the
// record's total length from the first page's size field, and returns
// the concatenated payload. maxBytes caps how much payload is read
// (callers pass the exact expected size, or a generous cap when
// scanning); a record whose declared size exceeds maxBytes is truncated
// at maxBytes.
func (pg *Pager) ReadRecord(startOffset int64, maxBytes int) ([]byte, error) {
	size, err := pg.fileSize()
	if err != nil {
		return nil, err
	}
	if err := validateOffset(startOffset, pg.pageSize, size); err != nil {
		return nil, err
	}

	first, err := pg.readPhysicalPage(startOffset)
	if err != nil {
		return nil, err
	}

	total := int(first.firstPageSize())
	if total < 0 {
		return nil, dberrors.Wrap(dberrors.ErrInvalidBTree, "negative record size at offset %d", startOffset)
	}
	if total > maxBytes {
		total = maxBytes
	}

	out := make([]byte, 0, total)
	chunk := first.firstChunk()
	if len(chunk) > total {
		chunk = chunk[:total]
	}
	out = append(out, chunk...)

	next := first.Next
	for len(out) < total {
		if next == NoOffset {
			return nil, dberrors.Wrap(dberrors.ErrEndOfFile, "record at %d truncated: got %d of %d bytes", startOffset, len(out), total)
		}
		if err := validateOffset(next, pg.pageSize, size); err != nil {
			return nil, err
		}
		page, err := pg.readPhysicalPage(next)
		if err != nil {
			return nil, err
		}
		remaining := total - len(out)
		chunk := page.continuationChunk()
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		out = append(out, chunk...)
		next = page.Next
	}

	return out, nil
}

// Allocate returns a freshly offset-assigned, in-memory chain of PageIO
// sized to hold nbBytes of payload, wired with next pointers but NOT yet
// written to disk (call Flush to persist). Pages come from the free list
// when available, from extending the file otherwise. Reused pages have
// their payload zeroed first.
func (pg *Pager) Allocate(nbBytes int) ([]*PageIO, error) {
	firstCap := FirstPagePayloadCap(pg.pageSize)
	contCap := ContinuationPayloadCap(pg.pageSize)

	n := 1
	remaining := nbBytes - firstCap
	for remaining > 0 {
		n++
		remaining -= contCap
	}

	offsets, err := pg.takeOffsets(n)
	if err != nil {
		return nil, err
	}

	pages := make([]*PageIO, n)
	for i, off := range offsets {
		pages[i] = newBlankPage(off, pg.pageSize)
	}
	for i := 0; i < n-1; i++ {
		pages[i].setNext(offsets[i+1])
	}
	pages[n-1].setNext(NoOffset)
	pages[0].setFirstPageSize(int32(nbBytes))

	return pages, nil
}

// takeOffsets returns n page offsets, preferring the front of the free
// list and extending the file for the rest.
func (pg *Pager) takeOffsets(n int) ([]int64, error) {
	pg.freeListMu.Lock()
	defer pg.freeListMu.Unlock()

	offsets := make([]int64, 0, n)

	for len(offsets) < n && pg.header.FirstFreePage != NoOffset {
		off := pg.header.FirstFreePage
		page, err := pg.readPhysicalPage(off)
		if err != nil {
			return nil, err
		}
		pg.headerMu.Lock()
		pg.header.FirstFreePage = page.Next
		pg.headerMu.Unlock()

		// Zero the reused page so stale payload never leaks into a new
		// record.
		zeroed := newBlankPage(off, pg.pageSize)
		pg.cache.put(off, zeroed)

		offsets = append(offsets, off)
	}

	if len(offsets) < n {
		size, err := pg.fileSize()
		if err != nil {
			return nil, err
		}
		// File size is always a multiple of pageSize once header page 0
		// has been written; extend by appending.
		next := size
		for len(offsets) < n {
			offsets = append(offsets, next)
			next += int64(pg.pageSize)
		}
	}

	pg.recordTracked(offsets)
	return offsets, nil
}

// StartAllocationTracking begins recording every offset handed out by
// Allocate (whether reused from the free list or extending the file) so
// a subsequent StopAllocationTracking can report everything a write
// transaction allocated, for rollback to free. Starting tracking
// discards anything left over from a previous, already-stopped bracket.
func (pg *Pager) StartAllocationTracking() {
	pg.trackingMu.Lock()
	defer pg.trackingMu.Unlock()
	pg.tracking = true
	pg.tracked = nil
}

// StopAllocationTracking ends tracking and returns every offset recorded
// since the matching StartAllocationTracking call. Safe to call even
// when tracking was never started (returns nil).
func (pg *Pager) StopAllocationTracking() []int64 {
	pg.trackingMu.Lock()
	defer pg.trackingMu.Unlock()
	out := pg.tracked
	pg.tracking = false
	pg.tracked = nil
	return out
}

func (pg *Pager) recordTracked(offsets []int64) {
	pg.trackingMu.Lock()
	defer pg.trackingMu.Unlock()
	if !pg.tracking {
		return
	}
	pg.tracked = append(pg.tracked, offsets...)
}

// Flush writes each page in chain to its own offset. Safe to call
// multiple times for the same pages (idempotent rewrite).
func (pg *Pager) Flush(chain []*PageIO) error {
	for _, p := range chain {
		if err := pg.writePhysicalPage(p); err != nil {
			return err
		}
	}
	return nil
}

// WriteRecord is a convenience that allocates a chain sized for payload,
// fills it, and flushes it in one call, returning the offset of the
// first page (the record's address).
func (pg *Pager) WriteRecord(payload []byte) (int64, error) {
	chain, err := pg.Allocate(len(payload))
	if err != nil {
		return 0, err
	}
	if err := pg.FillChain(chain, payload); err != nil {
		return 0, err
	}
	return chain[0].Offset, nil
}

// FillChain copies payload across an already-allocated chain (splitting it
// the same way Allocate sized the chain) and flushes it. Exposed so
// callers that build their own record layout (the btree package's
// leaf/node records) can allocate and fill in one step without going
// through WriteRecord's own redundant Allocate call.
func (pg *Pager) FillChain(chain []*PageIO, payload []byte) error {
	firstCap := FirstPagePayloadCap(pg.pageSize)
	contCap := ContinuationPayloadCap(pg.pageSize)

	chain[0].writeFirstChunk(payload[:min(firstCap, len(payload))])
	off := min(firstCap, len(payload))
	for i := 1; i < len(chain); i++ {
		end := min(off+contCap, len(payload))
		chain[i].writeContinuationChunk(payload[off:end])
		off = end
	}

	return pg.Flush(chain)
}

// Free prepends the given page offsets to the free list as one chain,
// completing in O(n) in the number of offsets.
func (pg *Pager) Free(offsets []int64) error {
	if len(offsets) == 0 {
		return nil
	}

	pg.freeListMu.Lock()
	defer pg.freeListMu.Unlock()

	// Link offsets[i] -> offsets[i+1], and the tail -> the current free
	// list head, then move the head to offsets[0].
	chain := make([]*PageIO, len(offsets))
	for i, off := range offsets {
		chain[i] = newBlankPage(off, pg.pageSize)
	}
	for i := 0; i < len(chain)-1; i++ {
		chain[i].setNext(offsets[i+1])
	}

	pg.headerMu.Lock()
	chain[len(chain)-1].setNext(pg.header.FirstFreePage)
	pg.headerMu.Unlock()

	if err := pg.Flush(chain); err != nil {
		return err
	}

	pg.headerMu.Lock()
	pg.header.FirstFreePage = offsets[0]
	pg.headerMu.Unlock()

	return nil
}

// ChainOffsets walks the next-page links starting at startOffset and
// returns every physical page offset belonging to that record, in chain
// order. Used when a whole record (not just its first page) must be
// listed for reclamation.
func (pg *Pager) ChainOffsets(startOffset int64) ([]int64, error) {
	size, err := pg.fileSize()
	if err != nil {
		return nil, err
	}

	var offsets []int64
	cur := startOffset
	for cur != NoOffset {
		if err := validateOffset(cur, pg.pageSize, size); err != nil {
			return nil, err
		}
		offsets = append(offsets, cur)
		page, err := pg.readPhysicalPage(cur)
		if err != nil {
			return nil, err
		}
		cur = page.Next
	}
	return offsets, nil
}

// checkFreeListAcyclic walks the free list once, failing if it revisits
// an offset (a cycle) or finds a non-page-aligned/out-of-range offset.
func (pg *Pager) checkFreeListAcyclic() error {
	size, err := pg.fileSize()
	if err != nil {
		return err
	}

	seen := make(map[int64]bool)
	cur := pg.header.FirstFreePage
	for cur != NoOffset {
		if seen[cur] {
			return dberrors.Wrap(dberrors.ErrInvalidBTree, "free list cycle at offset %d", cur)
		}
		if err := validateOffset(cur, pg.pageSize, size); err != nil {
			return err
		}
		seen[cur] = true
		page, err := pg.readPhysicalPage(cur)
		if err != nil {
			return err
		}
		cur = page.Next
	}
	return nil
}

// CommitHeader atomically rewrites the header page with newCurrentBoB/
// newCurrentCPB as the new current offsets, demoting the prior current
// values to previous. This single page write is the commit's
// linearization point: callers must have already flushed all body pages,
// the new BoB header, and the new CPB header before calling this.
func (pg *Pager) CommitHeader(newCurrentBoB, newCurrentCPB int64, nbManagedTrees int32) error {
	pg.headerMu.Lock()
	defer pg.headerMu.Unlock()

	next := pg.header
	if newCurrentBoB != NoOffset && newCurrentBoB != next.CurrentBoB {
		next.PreviousBoB = next.CurrentBoB
		next.CurrentBoB = newCurrentBoB
	}
	if newCurrentCPB != NoOffset && newCurrentCPB != next.CurrentCPB {
		next.PreviousCPB = next.CurrentCPB
		next.CurrentCPB = newCurrentCPB
	}
	next.NbManagedTrees = nbManagedTrees

	if _, err := pg.file.WriteAt(next.encode(pg.pageSize), 0); err != nil {
		return dberrors.WrapIO(err, "rewrite header page")
	}
	pg.header = next
	return nil
}

// ClearPreviousSlots nulls out both "previous" slots (BoB and CPB) once
// reclamation of that revision's pages is safe, per §3.
func (pg *Pager) ClearPreviousSlots() error {
	pg.headerMu.Lock()
	defer pg.headerMu.Unlock()

	next := pg.header
	next.PreviousBoB = NoOffset
	next.PreviousCPB = NoOffset
	if _, err := pg.file.WriteAt(next.encode(pg.pageSize), 0); err != nil {
		return dberrors.WrapIO(err, "rewrite header page")
	}
	pg.header = next
	return nil
}
