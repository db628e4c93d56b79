package disk

import (
	"fmt"
	"io"
	"sync"
)

var _ Disk = (*streamDisk)(nil)

// streamDisk lays pages out back to back in a seekable byte stream, such as
// an image held in memory.
type streamDisk struct {
	mu       *sync.Mutex
	s        io.ReadWriteSeeker
	numPages uint64
}

// NewStreamDisk sizes the disk from the length of s, rounded down to whole
// pages.
func NewStreamDisk(s io.ReadWriteSeeker) (*streamDisk, error) {
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	n := uint64(end) / BlockSize
	if n == 0 {
		return nil, fmt.Errorf("stream holds no whole pages (%d bytes)", end)
	}
	return &streamDisk{mu: new(sync.Mutex), s: s, numPages: n}, nil
}

func (d *streamDisk) seek(a uint64) {
	_, err := d.s.Seek(int64(a*BlockSize), io.SeekStart)
	if err != nil {
		panic("seek failed: " + err.Error())
	}
}

func (d *streamDisk) ReadTo(a uint64, buf Block) error {
	checkBlock(buf)
	if a >= d.numPages {
		panic(fmt.Errorf("out-of-bounds read at %v", a))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seek(a)
	if _, err := io.ReadFull(d.s, buf); err != nil {
		panic("read failed: " + err.Error())
	}
	return nil
}

func (d *streamDisk) Read(a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *streamDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		panic(fmt.Errorf("v is not block-sized (%d bytes)", len(v)))
	}
	if a >= d.numPages {
		panic(fmt.Errorf("out-of-bounds write at %v", a))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seek(a)
	n, err := d.s.Write(v)
	if err != nil {
		panic("write failed: " + err.Error())
	}
	if uint64(n) != BlockSize {
		panic(fmt.Errorf("short write at %v: %d bytes", a, n))
	}
	return nil
}

func (d *streamDisk) Size() (uint64, error) {
	return d.numPages, nil
}

func (d *streamDisk) Barrier() error { return nil }

func (d *streamDisk) Close() error {
	if c, ok := d.s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
