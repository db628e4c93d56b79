package dcache

import (
	"context"
	"fmt"

	"github.com/mit-pdos/go-ftlfs/addr"
	"github.com/mit-pdos/go-ftlfs/alloc"
	"github.com/mit-pdos/go-ftlfs/common"
	"github.com/mit-pdos/go-ftlfs/layout"
)

// withPage pins page id, runs f on its contents under the page lock (the
// write lock if write is set) and unpins it, dirty if write is set.
func (c *Cache) withPage(ctx context.Context, id common.PageID, isNew bool, write bool, f func(data []byte)) error {
	p, err := c.pool.FetchPage(ctx, id, isNew)
	if err != nil {
		return err
	}
	if write {
		p.Lock()
		f(p.Data())
		p.Unlock()
	} else {
		p.RLock()
		f(p.Data())
		p.RUnlock()
	}
	return c.pool.UnpinPage(id, write)
}

func (c *Cache) readInode(ctx context.Context, inum common.Inum) (layout.Inode, error) {
	a := addr.InodeAddr(inum)
	var ino layout.Inode
	err := c.withPage(ctx, a.Page, false, false, func(data []byte) {
		ino = layout.DecodeInode(data, a.Slot)
	})
	if err != nil {
		return layout.Inode{}, err
	}
	if ino.Inum != inum {
		panic(fmt.Errorf("inode %d at %v claims to be %d", inum, a, ino.Inum))
	}
	return ino, nil
}

func (c *Cache) writeInode(ctx context.Context, ino layout.Inode) error {
	a := addr.InodeAddr(ino.Inum)
	return c.withPage(ctx, a.Page, false, true, func(data []byte) {
		ino.Encode(data, a.Slot)
	})
}

// scanDir calls f on every entry slot of dir's allocated direct blocks, in
// order, until f returns true.
func (c *Cache) scanDir(ctx context.Context, dir layout.Inode, f func(a addr.Addr, de layout.DEntry) bool) error {
	if !dir.IsDir() {
		panic(fmt.Errorf("scanDir: inode %d is not a directory", dir.Inum))
	}
	for i := uint64(0); i < common.DIRMAXENTRY; i += common.DENTPAGE {
		a, ok := addr.DEntryAddr(dir.Direct[:], i)
		if !ok {
			continue
		}
		done := false
		err := c.withPage(ctx, a.Page, false, false, func(data []byte) {
			for s := uint64(0); s < common.DENTPAGE && !done; s++ {
				done = f(addr.MkAddr(a.Page, s), layout.DecodeDEntry(data, s))
			}
		})
		if err != nil || done {
			return err
		}
	}
	return nil
}

// allocNum claims the lowest free number of the bitmap on page id.
func (c *Cache) allocNum(ctx context.Context, id common.PageID, max uint64) (uint64, error) {
	p, err := c.pool.FetchPage(ctx, id, false)
	if err != nil {
		return 0, err
	}
	p.Lock()
	n, err := alloc.MkBitmap(p.Data(), max).AllocNum()
	p.Unlock()
	uerr := c.pool.UnpinPage(id, err == nil)
	if err != nil {
		return 0, err
	}
	return n, uerr
}

func (c *Cache) freeNum(ctx context.Context, id common.PageID, max uint64, n uint64) error {
	var ferr error
	err := c.withPage(ctx, id, false, true, func(data []byte) {
		ferr = alloc.MkBitmap(data, max).FreeNum(n)
	})
	if err != nil {
		return err
	}
	return ferr
}

// addUsage moves the superblock's usage counter one up, or one down.
func (c *Cache) addUsage(ctx context.Context, up bool) error {
	return c.withPage(ctx, common.SUPERPAGE, false, true, func(data []byte) {
		sb := layout.DecodeSuperblock(data)
		if up {
			sb.Usage += 1
		} else {
			sb.Usage -= 1
		}
		sb.Encode(data)
	})
}
