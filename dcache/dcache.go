// dcache mirrors the on-disk directory tree in memory.
//
// Nodes live in an arena and refer to each other by NodeID, so a child's
// parent is an index rather than a pointer. A directory's children are read
// from its data pages the first time they are looked up; cached nodes are
// never evicted. One mutex serializes every operation, and an operation pins
// at most one page at a time.
package dcache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/mit-pdos/go-ftlfs/addr"
	"github.com/mit-pdos/go-ftlfs/bufpool"
	"github.com/mit-pdos/go-ftlfs/common"
	"github.com/mit-pdos/go-ftlfs/errno"
	"github.com/mit-pdos/go-ftlfs/layout"
	"github.com/mit-pdos/go-ftlfs/util"
)

// ErrDirectoryFull is returned by Insert when every slot of all of the
// parent's direct blocks is in use. Nothing is written in that case.
var ErrDirectoryFull = errno.Newf(errno.ENOSPC, "directory full")

type NodeID uint32

const (
	Root   NodeID = 0
	NoNode NodeID = ^NodeID(0)
)

type node struct {
	name     string
	typ      common.FileType
	inum     common.Inum
	parent   NodeID
	children map[string]NodeID
}

// Entry is a snapshot of a cached node.
type Entry struct {
	ID   NodeID
	Name string
	Type common.FileType
	Inum common.Inum
}

func (e Entry) IsDir() bool {
	return e.Type == common.TypeDir
}

type Cache struct {
	mu    *sync.Mutex
	pool  bufpool.PageFetcher
	ndata uint64 // allocatable data blocks
	nodes []node
}

// MkCache returns a cache holding only the root directory. ndata is the
// number of data blocks the device can hold.
func MkCache(pool bufpool.PageFetcher, ndata uint64) *Cache {
	root := node{
		name:     "/",
		typ:      common.TypeDir,
		inum:     common.ROOTINUM,
		parent:   NoNode,
		children: make(map[string]NodeID),
	}
	c := &Cache{
		mu:    new(sync.Mutex),
		pool:  pool,
		ndata: util.Min(ndata, common.NBITPAGE),
		nodes: []node{root},
	}
	return c
}

func (c *Cache) entry(id NodeID) Entry {
	n := &c.nodes[id]
	return Entry{ID: id, Name: n.name, Type: n.typ, Inum: n.inum}
}

func (c *Cache) checkNode(id NodeID) {
	if uint64(id) >= uint64(len(c.nodes)) {
		panic(fmt.Errorf("dcache: bad node %d", id))
	}
}

// Parent returns the parent of id, or NoNode for the root.
func (c *Cache) Parent(id NodeID) NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkNode(id)
	return c.nodes[id].parent
}

// Path rebuilds the absolute path of id by walking parent links.
func (c *Cache) Path(id NodeID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkNode(id)
	var parts []string
	for n := id; n != Root; n = c.nodes[n].parent {
		parts = append(parts, c.nodes[n].name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// Len is the number of cached nodes, the root included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

func (c *Cache) addChild(parent NodeID, de layout.DEntry) NodeID {
	id := NodeID(len(c.nodes))
	n := node{
		name:   de.Name,
		typ:    de.Type,
		inum:   de.Inum,
		parent: parent,
	}
	if de.Type == common.TypeDir {
		n.children = make(map[string]NodeID)
	}
	c.nodes = append(c.nodes, n)
	c.nodes[parent].children[de.Name] = id
	util.DPrintf(5, "dcache: cache %q inum %d as node %d\n", de.Name, de.Inum, id)
	return id
}

// SplitPath splits "/a/b/c" into its parent "/a/b/" and last component "c".
func SplitPath(path string) (string, string) {
	i := strings.LastIndexByte(path, '/')
	return path[:i+1], path[i+1:]
}

func components(path string) []string {
	var comps []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			comps = append(comps, s)
		}
	}
	return comps
}

// Search resolves an absolute path, loading uncached components from disk.
func (c *Cache) Search(ctx context.Context, path string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := Root
	for _, name := range components(path) {
		if c.nodes[cur].typ != common.TypeDir {
			return Entry{}, errno.Newf(errno.ENOTDIR, "%s", path)
		}
		child, ok := c.nodes[cur].children[name]
		if !ok {
			var err error
			child, ok, err = c.load(ctx, cur, name)
			if err != nil {
				return Entry{}, err
			}
			if !ok {
				return Entry{}, errno.Newf(errno.ENOENT, "%s", path)
			}
		}
		cur = child
	}
	return c.entry(cur), nil
}

// load looks name up in dir's data pages and caches it if found.
func (c *Cache) load(ctx context.Context, dir NodeID, name string) (NodeID, bool, error) {
	ino, err := c.readInode(ctx, c.nodes[dir].inum)
	if err != nil {
		return NoNode, false, err
	}
	var found layout.DEntry
	ok := false
	err = c.scanDir(ctx, ino, func(a addr.Addr, de layout.DEntry) bool {
		if de.Valid && de.Name == name {
			found = de
			ok = true
		}
		return ok
	})
	if err != nil || !ok {
		return NoNode, false, err
	}
	return c.addChild(dir, found), true, nil
}

// Names lists the valid entries of directory dir in on-disk order.
func (c *Cache) Names(ctx context.Context, dir NodeID) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkNode(dir)
	if c.nodes[dir].typ != common.TypeDir {
		return nil, errno.Newf(errno.ENOTDIR, "%s", c.nodes[dir].name)
	}
	ino, err := c.readInode(ctx, c.nodes[dir].inum)
	if err != nil {
		return nil, err
	}
	var names []string
	err = c.scanDir(ctx, ino, func(a addr.Addr, de layout.DEntry) bool {
		if de.Valid {
			names = append(names, de.Name)
		}
		return false
	})
	return names, err
}

// freeSlot is where Insert will put the new entry.
type freeSlot struct {
	a        addr.Addr
	newBlock int // direct index needing a fresh block, or -1
}

// Insert creates name under directory parent with a fresh inode of type t.
func (c *Cache) Insert(ctx context.Context, parent NodeID, name string, t common.FileType) (Entry, error) {
	err := layout.CheckName(name)
	if err != nil {
		return Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkNode(parent)
	if c.nodes[parent].typ != common.TypeDir {
		return Entry{}, errno.Newf(errno.ENOTDIR, "%s", c.nodes[parent].name)
	}
	if _, ok := c.nodes[parent].children[name]; ok {
		return Entry{}, errno.Newf(errno.EEXIST, "%s", name)
	}

	pino, err := c.readInode(ctx, c.nodes[parent].inum)
	if err != nil {
		return Entry{}, err
	}
	slot, exists, err := c.findSlot(ctx, pino, name)
	if err != nil {
		return Entry{}, err
	}
	if exists != nil {
		c.addChild(parent, *exists)
		return Entry{}, errno.Newf(errno.EEXIST, "%s", name)
	}
	if slot == nil {
		return Entry{}, fmt.Errorf("insert %q: %w", name, ErrDirectoryFull)
	}

	n, err := c.allocNum(ctx, common.INODEMAPPAGE, common.MAXINODE)
	if err != nil {
		return Entry{}, err
	}
	inum := common.Inum(n)
	claimed := claim{inum: n}
	if slot.newBlock >= 0 {
		bn, err := c.allocNum(ctx, common.DATAMAPPAGE, c.ndata)
		if err != nil {
			return Entry{}, c.rollback(ctx, claimed, err)
		}
		claimed.block, claimed.hasBlock = bn, true
		pino.Direct[slot.newBlock] = int32(bn)
		slot.a = addr.MkAddr(addr.DataPage(common.Bnum(bn)), 0)
	}

	err = c.writeInode(ctx, layout.MkInode(inum, t))
	if err != nil {
		return Entry{}, c.rollback(ctx, claimed, err)
	}
	de := layout.DEntry{Name: name, Type: t, Inum: inum, Valid: true}
	writeEntry := func() error {
		return c.withPage(ctx, slot.a.Page, slot.newBlock >= 0, true, func(data []byte) {
			if slot.newBlock >= 0 {
				for i := range data {
					data[i] = 0
				}
			}
			de.Encode(data, slot.a.Slot)
		})
	}
	// A fresh block is invisible until the parent points at it, so its entry
	// can go first.
	if slot.newBlock >= 0 {
		err = writeEntry()
		if err != nil {
			return Entry{}, c.rollback(ctx, claimed, err)
		}
	}
	err = c.addUsage(ctx, true)
	if err != nil {
		return Entry{}, c.rollback(ctx, claimed, err)
	}
	claimed.usage = true

	// Commit: the entry becomes reachable with this write.
	if slot.newBlock >= 0 {
		err = c.writeInode(ctx, pino)
	} else {
		err = writeEntry()
	}
	if err != nil {
		return Entry{}, c.rollback(ctx, claimed, err)
	}
	id := c.addChild(parent, de)
	util.DPrintf(1, "dcache: insert %q type %v inum %d at %v\n", name, t, inum, slot.a)
	return c.entry(id), nil
}

// claim records what an in-progress Insert has taken.
type claim struct {
	inum     uint64
	block    uint64
	hasBlock bool
	usage    bool
}

const rollbackTimeout = time.Second

// rollback releases what a failed Insert claimed and returns cause. It runs
// under its own deadline so an insert that timed out can still clean up.
func (c *Cache) rollback(ctx context.Context, cl claim, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	var result *multierror.Error
	if cl.usage {
		if err := c.addUsage(ctx, false); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if cl.hasBlock {
		if err := c.freeNum(ctx, common.DATAMAPPAGE, c.ndata, cl.block); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := c.freeNum(ctx, common.INODEMAPPAGE, common.MAXINODE, cl.inum); err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		slog.Error("dcache: insert rollback incomplete", "inum", cl.inum, "err", result)
		return multierror.Append(result, cause)
	}
	util.DPrintf(1, "dcache: rolled back inum %d: %v\n", cl.inum, cause)
	return cause
}

// findSlot scans dir for name and for the first free entry slot. If name is
// already on disk its entry is returned. A nil slot means the directory is
// full.
func (c *Cache) findSlot(ctx context.Context, dir layout.Inode, name string) (*freeSlot, *layout.DEntry, error) {
	var slot *freeSlot
	var exists *layout.DEntry
	err := c.scanDir(ctx, dir, func(a addr.Addr, de layout.DEntry) bool {
		if !de.Valid {
			if slot == nil {
				slot = &freeSlot{a: a, newBlock: -1}
			}
			return false
		}
		if de.Name == name {
			d := de
			exists = &d
			return true
		}
		return false
	})
	if err != nil || exists != nil || slot != nil {
		return slot, exists, err
	}
	for i, b := range dir.Direct {
		if b == common.NULLBLOCK {
			return &freeSlot{newBlock: i}, nil, nil
		}
	}
	return nil, nil, nil
}
