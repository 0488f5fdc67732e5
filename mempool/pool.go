// Package mempool implements the bounded pool of fixed-size pages backing
// sub-timeframe headers and repack copies.
//
// All pages live in one contiguous region, either heap-allocated or carved
// out of a caller-provided range (typically the transport's unmanaged
// shared region). Pages never move, and a page is handed out at most once
// until every handle to it has been released.
package mempool

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/daqline/stfpipe/block"
	"github.com/daqline/stfpipe/errs"
	"github.com/daqline/stfpipe/internal/logging"
)

// Page is one fixed-size buffer of the pool. The write cursor advances as
// child blocks are carved out for packed repack; it resets when the page
// returns to the free list.
type Page struct {
	pool   *Pool
	index  int
	buf    []byte
	cursor int
}

// Remaining returns the space left past the write cursor.
func (p *Page) Remaining() int {
	return len(p.buf) - p.cursor
}

// PageRef is an owning handle to a pool page. It embeds the block.Ref
// exposed to the transport; the page returns to its pool when the last
// handle (including child-block handles) is released.
type PageRef struct {
	*block.Ref
	page *Page
}

// Config controls pool construction.
type Config struct {
	// PageSize is the fixed page size in bytes.
	PageSize int
	// PageCount is the number of pages in the pool.
	PageCount int
	// Region, when non-nil, provides the backing memory. It must hold
	// PageSize*PageCount bytes past the alignment offset.
	Region []byte
	// FirstPageAlignment aligns the first page's offset within the backing
	// memory. Zero means no alignment constraint.
	FirstPageAlignment int
}

// Pool is a bounded pool of fixed-size pages.
type Pool struct {
	pageSize int
	base     []byte

	mu       sync.Mutex
	free     []*Page
	total    int
	inFlight int

	warnFn    func(string)
	warnToken *logging.MuteToken
}

// New creates a pool per cfg.
func New(cfg Config) (*Pool, error) {
	if cfg.PageSize <= 0 || cfg.PageCount <= 0 {
		return nil, fmt.Errorf("%w: pool needs positive page size and count", errs.ErrBadOption)
	}

	align := cfg.FirstPageAlignment
	offset := 0
	base := cfg.Region
	if base == nil {
		size := cfg.PageSize*cfg.PageCount + maxInt(align, 0)
		base = make([]byte, size)
	}
	if align > 0 {
		addr := uintptr(unsafe.Pointer(&base[0]))
		offset = int((uintptr(align) - addr%uintptr(align)) % uintptr(align))
	}
	need := offset + cfg.PageSize*cfg.PageCount
	if len(base) < need {
		return nil, fmt.Errorf("%w: region of %d bytes cannot hold %d pages x %d bytes",
			errs.ErrBadOption, len(base), cfg.PageCount, cfg.PageSize)
	}

	p := &Pool{
		pageSize:  cfg.PageSize,
		base:      base,
		total:     cfg.PageCount,
		free:      make([]*Page, 0, cfg.PageCount),
		warnToken: logging.NewMuteToken(1, 10*time.Second),
	}
	for i := cfg.PageCount - 1; i >= 0; i-- {
		start := offset + i*cfg.PageSize
		p.free = append(p.free, &Page{
			pool:  p,
			index: i,
			buf:   base[start : start+cfg.PageSize : start+cfg.PageSize],
		})
	}

	return p, nil
}

// PageSize returns the fixed page size.
func (p *Pool) PageSize() int {
	return p.pageSize
}

// SetWarningCallback installs a rate-limited diagnostic callback invoked on
// exhaustion events.
func (p *Pool) SetWarningCallback(fn func(string)) {
	p.mu.Lock()
	p.warnFn = fn
	p.mu.Unlock()
}

// Stats returns the current free, total and in-flight page counts.
// free+inFlight == total holds at all times.
func (p *Pool) Stats() (free, total, inFlight int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.free), p.total, p.inFlight
}

// Acquire hands out a free page. The returned handle's block spans the full
// page; the caller sets the valid data size. Returns ErrPoolExhausted when
// no page is available.
func (p *Pool) Acquire() (*PageRef, error) {
	p.mu.Lock()
	if len(p.free) == 0 {
		warnFn := p.warnFn
		p.mu.Unlock()
		p.warn(warnFn, "pool exhausted")

		return nil, errs.ErrPoolExhausted
	}
	page := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inFlight++
	p.mu.Unlock()

	b := block.NewDataBlock(page.buf, uint64(len(page.buf)))
	b.Header.MemorySize = uint64(len(page.buf))
	ref := block.NewRef(b, func() { p.release(page) })

	return &PageRef{Ref: ref, page: page}, nil
}

// AcquireChild carves a block of n bytes out of parent's page at its write
// cursor. The child holds a clone of the parent handle, so the page is
// freed only after the parent handle and every child handle are released.
// Returns ErrNoRoom when the remaining space is less than n.
func (p *Pool) AcquireChild(parent *PageRef, n int) (*block.Ref, error) {
	if n <= 0 || n > p.pageSize {
		return nil, errs.ErrNoRoom
	}

	page := parent.page
	p.mu.Lock()
	if page.Remaining() < n {
		p.mu.Unlock()
		return nil, errs.ErrNoRoom
	}
	start := page.cursor
	page.cursor += n
	p.mu.Unlock()

	parentClone := parent.Clone()
	b := block.NewDataBlock(page.buf[start:start+n:start+n], uint64(n))
	child := block.NewRef(b, parentClone.Release)

	return child, nil
}

// MarkUsed advances the parent page's write cursor without creating a
// child, reserving the first n bytes written directly through the parent
// handle (e.g. a header record).
func (p *Pool) MarkUsed(parent *PageRef, n int) {
	p.mu.Lock()
	if parent.page.cursor < n {
		parent.page.cursor = n
	}
	p.mu.Unlock()
}

func (p *Pool) release(page *Page) {
	p.mu.Lock()
	page.cursor = 0
	p.free = append(p.free, page)
	p.inFlight--
	warn := p.inFlight < 0
	p.mu.Unlock()

	if warn {
		// release without matching acquire indicates a handle bug
		panic("mempool: page released twice")
	}
}

func (p *Pool) warn(fn func(string), msg string) {
	if fn == nil {
		return
	}
	if s, ok := p.warnToken.Take(); ok {
		if s > 0 {
			fn(fmt.Sprintf("%s (%d similar events suppressed)", msg, s))
		} else {
			fn(msg)
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
