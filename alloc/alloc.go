package alloc

import (
	"fmt"

	"github.com/boljen/go-bitmap"

	"github.com/mit-pdos/go-ftlfs/errno"
)

// Bitmap allocates numbers from a bit map kept in a page buffer. Bit n set
// means number n is in use; bits are numbered from the least significant bit
// of each byte.
//
// A Bitmap does no locking of its own: callers hold the page lock of the
// buffer it wraps.
type Bitmap struct {
	bits bitmap.Bitmap
	max  uint64
}

// MkBitmap wraps data, of which only the first max bits are allocatable.
func MkBitmap(data []byte, max uint64) Bitmap {
	if max > uint64(len(data))*8 {
		panic(fmt.Errorf("bitmap of %d bytes cannot hold %d bits", len(data), max))
	}
	return Bitmap{bits: bitmap.Bitmap(data), max: max}
}

func (b Bitmap) Max() uint64 {
	return b.max
}

// AllocNum claims the lowest free number.
func (b Bitmap) AllocNum() (uint64, error) {
	for n := uint64(0); n < b.max; n++ {
		if !b.bits.Get(int(n)) {
			b.bits.Set(int(n), true)
			return n, nil
		}
	}
	return 0, errno.Newf(errno.ENOSPC, "all %d entries in use", b.max)
}

func (b Bitmap) IsUsed(n uint64) bool {
	if n >= b.max {
		return false
	}
	return b.bits.Get(int(n))
}

func (b Bitmap) MarkUsed(n uint64) {
	if n >= b.max {
		panic(fmt.Errorf("MarkUsed: %d out of range", n))
	}
	b.bits.Set(int(n), true)
}

func (b Bitmap) FreeNum(n uint64) error {
	if n >= b.max {
		return errno.Newf(errno.EINVAL, "%d not in range [0, %d)", n, b.max)
	}
	if !b.bits.Get(int(n)) {
		return errno.Newf(errno.EINVAL, "%d is already free", n)
	}
	b.bits.Set(int(n), false)
	return nil
}

func popCnt(b byte) uint64 {
	n := uint64(0)
	for b != 0 {
		n += uint64(b & 1)
		b = b >> 1
	}
	return n
}

func (b Bitmap) NumFree() uint64 {
	used := uint64(0)
	full := b.max / 8
	for i := uint64(0); i < full; i++ {
		used += popCnt(b.bits[i])
	}
	for n := full * 8; n < b.max; n++ {
		if b.bits.Get(int(n)) {
			used += 1
		}
	}
	return b.max - used
}
