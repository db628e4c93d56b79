package addr

import (
	"fmt"

	"github.com/mit-pdos/go-ftlfs/common"
)

// Addr identifies a fixed-size record on disk.
//
// Page is the page containing the record, and Slot is the index of the record
// within the page. The record size is determined by the context in which Addr
// is used.
type Addr struct {
	Page common.PageID
	Slot uint64
}

func (a Addr) String() string {
	return fmt.Sprintf("%d.%d", a.Page, a.Slot)
}

func MkAddr(page common.PageID, slot uint64) Addr {
	return Addr{Page: page, Slot: slot}
}

// InodeAddr locates inode inum in the inode table.
func InodeAddr(inum common.Inum) Addr {
	n := uint64(inum)
	if n >= common.MAXINODE {
		panic(fmt.Errorf("inode %d beyond the inode table", inum))
	}
	return MkAddr(common.INODESTART+common.PageID(n/common.INODEPAGE), n%common.INODEPAGE)
}

// DataPage is the page holding data block bn.
func DataPage(bn common.Bnum) common.PageID {
	return common.DATASTART + common.PageID(bn)
}

// DEntryAddr locates entry i of a directory whose direct blocks are given.
// It reports false if the slot's block is not allocated.
func DEntryAddr(direct []int32, i uint64) (Addr, bool) {
	blk := i / common.DENTPAGE
	if blk >= uint64(len(direct)) || direct[blk] == common.NULLBLOCK {
		return Addr{}, false
	}
	return MkAddr(DataPage(common.Bnum(direct[blk])), i%common.DENTPAGE), true
}
