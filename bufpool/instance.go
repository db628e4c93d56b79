// bufpool caches device pages in a fixed set of frames.
//
// A page is held by the pool while it is pinned or dirty; each held frame
// consumes one permit of a counting semaphore sized to the frame count, so a
// fetch that needs a new frame waits until a holder unpins or the flusher
// writes a dirty page back. Dirty pages are never chosen for eviction.
package bufpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mit-pdos/go-ftlfs/buf"
	"github.com/mit-pdos/go-ftlfs/common"
	"github.com/mit-pdos/go-ftlfs/disk"
	"github.com/mit-pdos/go-ftlfs/replacer"
	"github.com/mit-pdos/go-ftlfs/util"
)

// PageFetcher is the part of a buffer pool that page users need.
type PageFetcher interface {
	FetchPage(ctx context.Context, id common.PageID, isNew bool) (*buf.Page, error)
	UnpinPage(id common.PageID, isDirty bool) error
}

// Instance is a single buffer pool.
type Instance struct {
	mu       *sync.Mutex // protects table, free, replacer and frame metadata
	flushMu  *sync.Mutex // one write-back at a time
	d        disk.Disk
	npage    uint64
	frames   []*buf.Page
	table    map[common.PageID]common.FrameID
	free     []common.FrameID
	replacer *replacer.LRU
	permits  *semaphore.Weighted
}

var _ PageFetcher = (*Instance)(nil)

func MkInstance(d disk.Disk, nframe uint64) *Instance {
	if nframe == 0 {
		panic("MkInstance: no frames")
	}
	npage, err := d.Size()
	if err != nil {
		panic(fmt.Errorf("MkInstance: %v", err))
	}
	frames := make([]*buf.Page, nframe)
	free := make([]common.FrameID, nframe)
	for i := uint64(0); i < nframe; i++ {
		frames[i] = buf.MkPage()
		free[i] = common.FrameID(i)
	}
	bp := &Instance{
		mu:       new(sync.Mutex),
		flushMu:  new(sync.Mutex),
		d:        d,
		npage:    npage,
		frames:   frames,
		table:    make(map[common.PageID]common.FrameID),
		free:     free,
		replacer: replacer.MkLRU(nframe),
		permits:  semaphore.NewWeighted(int64(nframe)),
	}
	return bp
}

func (bp *Instance) NumFrames() uint64 {
	return uint64(len(bp.frames))
}

func (bp *Instance) checkID(id common.PageID) {
	if uint64(id) >= bp.npage {
		panic(fmt.Errorf("page %d out of range (%d pages)", id, bp.npage))
	}
}

// FetchPage pins page id and returns its frame.
//
// If the page is not resident it is loaded into a free or evicted frame,
// zero-filled instead of read when isNew is set. When every frame is held the
// call waits for one to be released; it gives up with ErrTimeout once ctx is
// done.
func (bp *Instance) FetchPage(ctx context.Context, id common.PageID, isNew bool) (*buf.Page, error) {
	return bp.fetch(id, isNew, func() error {
		err := bp.permits.Acquire(ctx, 1)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w: %w", id, ErrTimeout, err)
		}
		return nil
	})
}

// TryFetchPage is FetchPage without waiting: it fails with ErrWouldBlock when
// the page would need a frame and none is free.
func (bp *Instance) TryFetchPage(id common.PageID, isNew bool) (*buf.Page, error) {
	return bp.fetch(id, isNew, func() error {
		if !bp.permits.TryAcquire(1) {
			return fmt.Errorf("fetch page %d: %w", id, ErrWouldBlock)
		}
		return nil
	})
}

// pinHeld pins id if it is resident in a frame that already holds a permit.
func (bp *Instance) pinHeld(id common.PageID) *buf.Page {
	f, ok := bp.table[id]
	if !ok {
		return nil
	}
	p := bp.frames[f]
	if !p.Held() {
		return nil
	}
	p.Pin()
	return p
}

func (bp *Instance) fetch(id common.PageID, isNew bool, acquire func() error) (*buf.Page, error) {
	bp.checkID(id)

	bp.mu.Lock()
	p := bp.pinHeld(id)
	bp.mu.Unlock()
	if p != nil {
		return p, nil
	}

	err := acquire()
	if err != nil {
		return nil, err
	}

	bp.mu.Lock()
	// Someone may have loaded id while we waited for the permit.
	if f, ok := bp.table[id]; ok {
		p := bp.frames[f]
		if p.Held() {
			bp.permits.Release(1)
		} else {
			bp.replacer.Pin(f)
		}
		p.Pin()
		bp.mu.Unlock()
		return p, nil
	}

	f := bp.claimFrame()
	p = bp.frames[f]
	p.Reset(id)
	bp.table[id] = f
	// The frame is unpinned and clean, so nobody else holds its lock. Taking
	// it before dropping the pool lock makes concurrent fetchers of id wait
	// for the load instead of seeing stale bytes.
	p.Lock()
	bp.mu.Unlock()

	if isNew {
		p.Zero()
	} else {
		err := bp.d.ReadTo(uint64(id), p.Data())
		if err != nil {
			panic(fmt.Errorf("read page %d: %v", id, err))
		}
	}
	p.Unlock()
	util.DPrintf(10, "fetch: page %d -> frame %d new %v\n", id, f, isNew)
	return p, nil
}

// claimFrame takes a free frame, or evicts the least recently unpinned one.
// The caller holds a permit, which guarantees one of the two exists.
func (bp *Instance) claimFrame() common.FrameID {
	if len(bp.free) > 0 {
		f := bp.free[0]
		bp.free = bp.free[1:]
		return f
	}
	f := bp.replacer.Victim()
	old := bp.frames[f]
	util.DPrintf(10, "evict: page %d from frame %d\n", old.ID(), f)
	delete(bp.table, old.ID())
	old.Evict()
	return f
}

// UnpinPage drops one pin on id, marking it dirty if isDirty. A page whose
// last pin goes away becomes evictable unless it is dirty, in which case it
// stays held until written back.
func (bp *Instance) UnpinPage(id common.PageID, isDirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	f, ok := bp.table[id]
	if !ok || bp.frames[f].PinCount() == 0 {
		return fmt.Errorf("unpin page %d: %w", id, ErrNotPinned)
	}
	p := bp.frames[f]
	if isDirty {
		p.SetDirty()
	}
	if p.Unpin() == 0 && !p.IsDirty() {
		bp.release(f)
	}
	return nil
}

// release makes frame f evictable and returns its permit.
func (bp *Instance) release(f common.FrameID) {
	bp.replacer.Unpin(f)
	bp.permits.Release(1)
}

// PageState describes a resident page.
type PageState struct {
	Frame    common.FrameID
	PinCount uint64
	Dirty    bool
}

// Lookup reports the state of id if it is resident.
func (bp *Instance) Lookup(id common.PageID) (PageState, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	f, ok := bp.table[id]
	if !ok {
		return PageState{}, false
	}
	p := bp.frames[f]
	return PageState{Frame: f, PinCount: p.PinCount(), Dirty: p.IsDirty()}, true
}

type Stats struct {
	Frames    uint64
	Resident  uint64
	Pinned    uint64
	Dirty     uint64
	Evictable uint64
}

func (s Stats) add(o Stats) Stats {
	return Stats{
		Frames:    s.Frames + o.Frames,
		Resident:  s.Resident + o.Resident,
		Pinned:    s.Pinned + o.Pinned,
		Dirty:     s.Dirty + o.Dirty,
		Evictable: s.Evictable + o.Evictable,
	}
}

func (bp *Instance) Stats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	s := Stats{
		Frames:    uint64(len(bp.frames)),
		Resident:  uint64(len(bp.table)),
		Evictable: bp.replacer.Size(),
	}
	for _, f := range bp.table {
		p := bp.frames[f]
		if p.PinCount() > 0 {
			s.Pinned += 1
		}
		if p.IsDirty() {
			s.Dirty += 1
		}
	}
	return s
}
