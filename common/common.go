package common

import (
	"github.com/tchajed/goose/machine/disk"
)

const (
	PAGESZ   uint64 = disk.BlockSize
	NBITPAGE uint64 = PAGESZ * 8

	INODESZ   uint64 = 128 // on-disk size
	INODEPAGE uint64 = PAGESZ / INODESZ
	DENTRYSZ  uint64 = 256
	DENTPAGE  uint64 = PAGESZ / DENTRYSZ

	NDIRECT     uint64 = 12
	MAXNAMELEN  uint64 = 128
	MAGIC       uint32 = 0x52415455
	NULLBLOCK   int32  = -1
	DIRMAXENTRY        = NDIRECT * DENTPAGE
)

// Fixed page addresses of the on-disk layout.
const (
	SUPERPAGE     PageID = 0
	INODEMAPPAGE  PageID = 1
	DATAMAPPAGE   PageID = 2
	INODESTART    PageID = 3
	DATASTART     PageID = 256
	NINODEPAGE           = uint64(DATASTART - INODESTART)
	MAXINODE             = NINODEPAGE * INODEPAGE
)

type PageID uint64
type FrameID uint64
type Inum uint32
type Bnum uint32

const ROOTINUM Inum = 0

// FileType is the on-disk type tag stored in inodes and directory entries.
type FileType uint32

const (
	TypeReg     FileType = 0
	TypeDir     FileType = 1
	TypeSymlink FileType = 2
)

func (t FileType) String() string {
	switch t {
	case TypeReg:
		return "reg"
	case TypeDir:
		return "dir"
	case TypeSymlink:
		return "symlink"
	}
	return "unknown"
}
