package layout

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-ftlfs/common"
)

// Inode is the 128-byte on-disk inode:
//
//	inum u32 | type u32 | direct [12]i32 | indirect i32 | double indirect i32 | 64 bytes zero
//
// A block pointer of -1 is unused. Only direct pointers are ever allocated.
type Inode struct {
	Inum           common.Inum
	Type           common.FileType
	Direct         [common.NDIRECT]int32
	Indirect       int32
	DoubleIndirect int32
}

func MkInode(inum common.Inum, t common.FileType) Inode {
	ino := Inode{
		Inum:           inum,
		Type:           t,
		Indirect:       common.NULLBLOCK,
		DoubleIndirect: common.NULLBLOCK,
	}
	for i := range ino.Direct {
		ino.Direct[i] = common.NULLBLOCK
	}
	return ino
}

func (ino Inode) IsDir() bool {
	return ino.Type == common.TypeDir
}

func inodeBytes(page []byte, slot uint64) []byte {
	if slot >= common.INODEPAGE {
		panic(fmt.Errorf("inode slot %d out of range", slot))
	}
	off := slot * common.INODESZ
	return page[off : off+common.INODESZ]
}

func DecodeInode(page []byte, slot uint64) Inode {
	dec := marshal.NewDec(inodeBytes(page, slot))
	var ino Inode
	inum, t := unpack(dec.GetInt())
	ino.Inum = common.Inum(inum)
	ino.Type = common.FileType(t)
	for i, x := range dec.GetInts(common.NDIRECT / 2) {
		lo, hi := unpack(x)
		ino.Direct[2*i] = int32(lo)
		ino.Direct[2*i+1] = int32(hi)
	}
	ind, dind := unpack(dec.GetInt())
	ino.Indirect = int32(ind)
	ino.DoubleIndirect = int32(dind)
	return ino
}

func (ino Inode) Encode(page []byte, slot uint64) {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt(pack(uint32(ino.Inum), uint32(ino.Type)))
	direct := make([]uint64, common.NDIRECT/2)
	for i := range direct {
		direct[i] = pack(uint32(ino.Direct[2*i]), uint32(ino.Direct[2*i+1]))
	}
	enc.PutInts(direct)
	enc.PutInt(pack(uint32(ino.Indirect), uint32(ino.DoubleIndirect)))
	copy(inodeBytes(page, slot), enc.Finish())
}
