// replacer picks which unpinned frame of a buffer pool to reuse.
//
// The LRU keeps its frames on a doubly linked list threaded through two index
// arrays, so pinning a frame removes it in constant time without any
// per-node allocation.
package replacer

import (
	"fmt"

	"github.com/mit-pdos/go-ftlfs/common"
)

type Replacer interface {
	Unpin(f common.FrameID)
	Pin(f common.FrameID)
	Victim() common.FrameID
	Size() uint64
}

const nilFrame = ^common.FrameID(0)

type LRU struct {
	prev []common.FrameID
	next []common.FrameID
	in   []bool
	head common.FrameID // least recently unpinned
	tail common.FrameID
	size uint64
}

var _ Replacer = (*LRU)(nil)

func MkLRU(nframe uint64) *LRU {
	r := &LRU{
		prev: make([]common.FrameID, nframe),
		next: make([]common.FrameID, nframe),
		in:   make([]bool, nframe),
		head: nilFrame,
		tail: nilFrame,
	}
	return r
}

// Unpin makes f evictable, after every frame already present.
func (r *LRU) Unpin(f common.FrameID) {
	if r.in[f] {
		return
	}
	r.in[f] = true
	r.prev[f] = r.tail
	r.next[f] = nilFrame
	if r.tail == nilFrame {
		r.head = f
	} else {
		r.next[r.tail] = f
	}
	r.tail = f
	r.size += 1
}

// Pin removes f from the evictable set. f must be present.
func (r *LRU) Pin(f common.FrameID) {
	if !r.in[f] {
		panic(fmt.Errorf("pin: frame %d not in replacer", f))
	}
	p, n := r.prev[f], r.next[f]
	if p == nilFrame {
		r.head = n
	} else {
		r.next[p] = n
	}
	if n == nilFrame {
		r.tail = p
	} else {
		r.prev[n] = p
	}
	r.in[f] = false
	r.size -= 1
}

// Victim removes and returns the least recently unpinned frame. Callers must
// know the replacer is not empty.
func (r *LRU) Victim() common.FrameID {
	if r.head == nilFrame {
		panic("victim: replacer is empty")
	}
	f := r.head
	r.Pin(f)
	return f
}

func (r *LRU) Contains(f common.FrameID) bool {
	return r.in[f]
}

func (r *LRU) Size() uint64 {
	return r.size
}
