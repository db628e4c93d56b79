package disk

import (
	"fmt"
	"sync"

	gdisk "github.com/tchajed/goose/machine/disk"
)

var _ Disk = (*gooseDisk)(nil)

// gooseDisk adapts a goose machine disk, whose operations cannot fail, to
// Disk.
type gooseDisk struct {
	mu       *sync.Mutex
	d        gdisk.Disk
	numPages uint64
}

// FromGoose wraps d, which must hold numPages pages.
func FromGoose(d gdisk.Disk, numPages uint64) *gooseDisk {
	return &gooseDisk{mu: new(sync.Mutex), d: d, numPages: numPages}
}

// NewMemDisk returns a zeroed in-memory disk of numPages pages.
func NewMemDisk(numPages uint64) *gooseDisk {
	return FromGoose(gdisk.NewMemDisk(numPages), numPages)
}

func (d *gooseDisk) ReadTo(a uint64, buf Block) error {
	checkBlock(buf)
	if a >= d.numPages {
		panic(fmt.Errorf("out-of-bounds read at %v", a))
	}
	d.mu.Lock()
	blk := d.d.Read(a)
	d.mu.Unlock()
	copy(buf, blk)
	return nil
}

func (d *gooseDisk) Read(a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *gooseDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		panic(fmt.Errorf("v is not block-sized (%d bytes)", len(v)))
	}
	if a >= d.numPages {
		panic(fmt.Errorf("out-of-bounds write at %v", a))
	}
	d.mu.Lock()
	d.d.Write(a, v)
	d.mu.Unlock()
	return nil
}

func (d *gooseDisk) Size() (uint64, error) {
	// this never changes so we assume it's safe to run lock-free
	return d.numPages, nil
}

func (d *gooseDisk) Barrier() error {
	d.mu.Lock()
	d.d.Barrier()
	d.mu.Unlock()
	return nil
}

func (d *gooseDisk) Close() error { return nil }
