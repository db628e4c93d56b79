// Package disk is the block device boundary of the filesystem.
//
// Every backend serializes its physical I/O behind one lock and treats an
// out-of-range page or a failed transfer as fatal: those panic rather than
// return, and callers never retry.
package disk

import (
	"github.com/mit-pdos/go-ftlfs/common"
)

// Block is a 4096-byte buffer
type Block = []byte

const BlockSize uint64 = common.PAGESZ

// Disk provides access to a logical page-based device
type Disk interface {
	// Read reads a page by address
	//
	// Expects a < Size().
	Read(a uint64) (Block, error)

	// ReadTo reads the page at a and stores the result in b
	//
	// Expects a < Size().
	ReadTo(a uint64, b Block) error

	// Write updates a page by address
	//
	// Expects a < Size().
	Write(a uint64, v Block) error

	// Size reports how big the disk is, in pages
	Size() (uint64, error)

	// Barrier ensures data is persisted.
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}

// Info is the answer to the device control query made at mount time.
type Info struct {
	Pages     uint64
	SizeBytes uint64
	IOSize    uint64 // native transfer unit in bytes
}

type ioSizer interface {
	IOSize() uint64
}

// Query asks d for its geometry. Disks that do not report a native transfer
// unit are assumed to use the page size.
func Query(d Disk) (Info, error) {
	n, err := d.Size()
	if err != nil {
		return Info{}, err
	}
	unit := BlockSize
	if s, ok := d.(ioSizer); ok && s.IOSize() != 0 {
		unit = s.IOSize()
	}
	return Info{Pages: n, SizeBytes: n * BlockSize, IOSize: unit}, nil
}

func checkBlock(v Block) {
	if uint64(len(v)) != BlockSize {
		panic("buffer is not block-sized")
	}
}
