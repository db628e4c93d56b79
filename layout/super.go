// layout encodes and decodes the fixed on-disk records: the superblock,
// inodes and directory entries. All multi-byte fields are little endian.
package layout

import (
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-ftlfs/common"
)

// Superblock is the first 8 bytes of page 0.
type Superblock struct {
	Magic uint32
	Usage uint32 // inodes in use
}

const superSz uint64 = 8

func pack(lo uint32, hi uint32) uint64 {
	return uint64(lo) | uint64(hi)<<32
}

func unpack(x uint64) (uint32, uint32) {
	return uint32(x), uint32(x >> 32)
}

func DecodeSuperblock(page []byte) Superblock {
	dec := marshal.NewDec(page[:superSz])
	magic, usage := unpack(dec.GetInt())
	return Superblock{Magic: magic, Usage: usage}
}

func (sb Superblock) Encode(page []byte) {
	enc := marshal.NewEnc(superSz)
	enc.PutInt(pack(sb.Magic, sb.Usage))
	copy(page[:superSz], enc.Finish())
}

func (sb Superblock) Initialized() bool {
	return sb.Magic == common.MAGIC
}
