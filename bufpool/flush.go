package bufpool

import (
	"fmt"

	"github.com/mit-pdos/go-ftlfs/common"
	"github.com/mit-pdos/go-ftlfs/util"
)

// dirtyPage is a dirty frame as observed by a write-back.
type dirtyPage struct {
	frame   common.FrameID
	id      common.PageID
	version uint64
}

// collectDirty snapshots the dirty frames.
func (bp *Instance) collectDirty() []dirtyPage {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	var dirty []dirtyPage
	for id, f := range bp.table {
		p := bp.frames[f]
		if p.IsDirty() {
			dirty = append(dirty, dirtyPage{frame: f, id: id, version: p.Version()})
		}
	}
	return dirty
}

// writeBack copies each page under its read lock and writes the copy out
// without holding the pool lock.
//
// A dirty frame cannot be evicted, and only write-back clears dirty, so with
// flushMu held the frames in dirty stay bound to their pages.
func (bp *Instance) writeBack(dirty []dirtyPage) error {
	for _, dp := range dirty {
		p := bp.frames[dp.frame]
		p.RLock()
		data := util.CloneByteSlice(p.Data())
		p.RUnlock()
		err := bp.d.Write(uint64(dp.id), data)
		if err != nil {
			return fmt.Errorf("write back page %d: %w", dp.id, err)
		}
	}
	if len(dirty) > 0 {
		return bp.d.Barrier()
	}
	return nil
}

// markClean clears dirty on pages not written to since they were
// collected, and releases those that are no longer pinned.
func (bp *Instance) markClean(dirty []dirtyPage) uint64 {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	n := uint64(0)
	for _, dp := range dirty {
		p := bp.frames[dp.frame]
		if !p.Resident() || p.ID() != dp.id {
			panic(fmt.Errorf("dirty frame %d lost page %d", dp.frame, dp.id))
		}
		if !p.ClearDirty(dp.version) {
			util.DPrintf(5, "markClean: page %d redirtied\n", dp.id)
			continue
		}
		n += 1
		if p.PinCount() == 0 {
			bp.release(dp.frame)
		}
	}
	return n
}

func (bp *Instance) flush(dirty []dirtyPage) (uint64, error) {
	err := bp.writeBack(dirty)
	if err != nil {
		return 0, err
	}
	return bp.markClean(dirty), nil
}

// Flush writes every dirty page back to the disk and returns how many pages
// it cleaned.
func (bp *Instance) Flush() (uint64, error) {
	bp.flushMu.Lock()
	defer bp.flushMu.Unlock()
	return bp.flush(bp.collectDirty())
}

// FlushPage writes id back if it is resident and dirty.
func (bp *Instance) FlushPage(id common.PageID) error {
	bp.flushMu.Lock()
	defer bp.flushMu.Unlock()
	var dirty []dirtyPage
	for _, dp := range bp.collectDirty() {
		if dp.id == id {
			dirty = append(dirty, dp)
		}
	}
	_, err := bp.flush(dirty)
	return err
}
