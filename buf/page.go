// buf holds the in-memory frames of the buffer pool.
package buf

import (
	"sync"

	"github.com/mit-pdos/go-ftlfs/common"
)

// A Page is one frame of the buffer pool together with the device page it
// currently caches.
//
// The contents are guarded by the page's own read/write lock, which holders
// take after fetching the page. The id, pin count and dirty state belong to
// the owning pool shard and may only be touched under that shard's lock.
type Page struct {
	mu   *sync.RWMutex
	data []byte

	id       common.PageID
	resident bool
	pinCount uint64
	dirty    bool
	version  uint64 // bumped on every dirty unpin
}

func MkPage() *Page {
	p := &Page{
		mu:   new(sync.RWMutex),
		data: make([]byte, common.PAGESZ),
	}
	return p
}

func (p *Page) RLock()   { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }
func (p *Page) Lock()    { p.mu.Lock() }
func (p *Page) Unlock()  { p.mu.Unlock() }

// Data returns the page contents. Callers must hold the page lock.
func (p *Page) Data() []byte {
	return p.data
}

func (p *Page) ID() common.PageID {
	return p.id
}

// Reset binds the frame to id as a clean page pinned once.
func (p *Page) Reset(id common.PageID) {
	p.id = id
	p.resident = true
	p.pinCount = 1
	p.dirty = false
}

func (p *Page) Resident() bool {
	return p.resident
}

// Evict unbinds the frame from its page.
func (p *Page) Evict() {
	if p.pinCount > 0 || p.dirty {
		panic("evicting a pinned or dirty page")
	}
	p.resident = false
}

func (p *Page) Zero() {
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *Page) PinCount() uint64 {
	return p.pinCount
}

func (p *Page) Pin() {
	p.pinCount += 1
}

// Unpin drops one pin and returns the remaining count.
func (p *Page) Unpin() uint64 {
	if p.pinCount == 0 {
		panic("unpin of unpinned page")
	}
	p.pinCount -= 1
	return p.pinCount
}

// Held reports whether the frame must stay resident: it is either pinned or
// carries writes not yet on disk.
func (p *Page) Held() bool {
	return p.pinCount > 0 || p.dirty
}

func (p *Page) IsDirty() bool {
	return p.dirty
}

func (p *Page) SetDirty() {
	p.dirty = true
	p.version += 1
}

func (p *Page) Version() uint64 {
	return p.version
}

// ClearDirty marks the page clean if nothing dirtied it after version was
// observed. It reports whether the page is now clean.
func (p *Page) ClearDirty(version uint64) bool {
	if p.version != version {
		return false
	}
	p.dirty = false
	return true
}
