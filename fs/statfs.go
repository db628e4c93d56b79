package fs

import (
	"context"

	"github.com/mit-pdos/go-ftlfs/alloc"
	"github.com/mit-pdos/go-ftlfs/common"
	"github.com/mit-pdos/go-ftlfs/layout"
	"github.com/mit-pdos/go-ftlfs/util"
)

// Statfs summarizes space usage as recorded on disk.
type Statfs struct {
	Usage       uint32 // superblock usage counter
	Inodes      uint64
	FreeInodes  uint64
	Blocks      uint64
	FreeBlocks  uint64
	BlockSize   uint64
	DevicePages uint64
}

func (fs *FileSystem) Statfs(ctx context.Context) (Statfs, error) {
	leave, err := fs.enter()
	if err != nil {
		return Statfs{}, err
	}
	defer leave()
	ctx, cancel := fs.opContext(ctx)
	defer cancel()
	st := Statfs{
		Inodes:      common.MAXINODE,
		Blocks:      util.Min(fs.info.Pages-uint64(common.DATASTART), common.NBITPAGE),
		BlockSize:   common.PAGESZ,
		DevicePages: fs.info.Pages,
	}
	err = fs.withPage(ctx, common.SUPERPAGE, false, false, func(data []byte) {
		st.Usage = layout.DecodeSuperblock(data).Usage
	})
	if err != nil {
		return Statfs{}, fs.result("statfs", err)
	}
	err = fs.withPage(ctx, common.INODEMAPPAGE, false, false, func(data []byte) {
		st.FreeInodes = alloc.MkBitmap(data, st.Inodes).NumFree()
	})
	if err != nil {
		return Statfs{}, fs.result("statfs", err)
	}
	err = fs.withPage(ctx, common.DATAMAPPAGE, false, false, func(data []byte) {
		st.FreeBlocks = alloc.MkBitmap(data, st.Blocks).NumFree()
	})
	if err != nil {
		return Statfs{}, fs.result("statfs", err)
	}
	return st, nil
}
