package disk

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-ftlfs/util"
)

var _ Disk = (*fileDisk)(nil)

type fileDisk struct {
	mu       *sync.Mutex
	fd       int
	numPages uint64
	ioSize   uint64
}

// NewFileDisk opens the image or raw device at path.
//
// A regular file shorter than numPages pages is extended. If numPages is 0
// the size is taken from the file itself.
func NewFileDisk(path string, numPages uint64) (*fileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, err
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if stat.Mode&unix.S_IFMT == unix.S_IFREG {
		cur := uint64(stat.Size) / BlockSize
		if numPages == 0 {
			numPages = cur
		}
		if cur < numPages {
			err = unix.Ftruncate(fd, int64(numPages*BlockSize))
			if err != nil {
				unix.Close(fd)
				return nil, err
			}
		}
	}
	if numPages == 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("disk %s: unknown size", path)
	}
	util.DPrintf(1, "NewFileDisk: %s %d pages blksize %d\n", path, numPages, stat.Blksize)
	return &fileDisk{
		mu:       new(sync.Mutex),
		fd:       fd,
		numPages: numPages,
		ioSize:   uint64(stat.Blksize),
	}, nil
}

func (d *fileDisk) ReadTo(a uint64, buf Block) error {
	checkBlock(buf)
	if a >= d.numPages {
		panic(fmt.Errorf("out-of-bounds read at %v", a))
	}
	d.mu.Lock()
	_, err := unix.Pread(d.fd, buf, int64(a*BlockSize))
	d.mu.Unlock()
	if err != nil {
		panic("read failed: " + err.Error())
	}
	util.DPrintf(20, "read: %v\n", a)
	return nil
}

func (d *fileDisk) Read(a uint64) (Block, error) {
	buf := make([]byte, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *fileDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		panic(fmt.Errorf("v is not block sized (%d bytes)", len(v)))
	}
	if a >= d.numPages {
		panic(fmt.Errorf("out-of-bounds write at %v", a))
	}
	d.mu.Lock()
	_, err := unix.Pwrite(d.fd, v, int64(a*BlockSize))
	d.mu.Unlock()
	if err != nil {
		panic("write failed: " + err.Error())
	}
	util.DPrintf(20, "write: %v\n", a)
	return nil
}

func (d *fileDisk) Size() (uint64, error) {
	return d.numPages, nil
}

func (d *fileDisk) IOSize() uint64 {
	return d.ioSize
}

func (d *fileDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; see https://golang.org/src/internal/poll/fd_fsync_darwin.go
	// for more details. The correct replacement is to issue a fcntl syscall with
	// cmd F_FULLFSYNC.
	d.mu.Lock()
	err := unix.Fsync(d.fd)
	d.mu.Unlock()
	if err != nil {
		panic("file sync failed: " + err.Error())
	}
	return nil
}

func (d *fileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return unix.Close(d.fd)
}
