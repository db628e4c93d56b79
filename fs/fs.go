// Package fs is the filesystem-protocol boundary: path-based calls in, errno
// codes out. A FileSystem owns its device, buffer pool, flusher and
// directory cache.
package fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-ftlfs/addr"
	"github.com/mit-pdos/go-ftlfs/alloc"
	"github.com/mit-pdos/go-ftlfs/bufpool"
	"github.com/mit-pdos/go-ftlfs/common"
	"github.com/mit-pdos/go-ftlfs/config"
	"github.com/mit-pdos/go-ftlfs/dcache"
	"github.com/mit-pdos/go-ftlfs/disk"
	"github.com/mit-pdos/go-ftlfs/errno"
	"github.com/mit-pdos/go-ftlfs/layout"
	"github.com/mit-pdos/go-ftlfs/util"
)

type FileSystem struct {
	cfg     config.Config
	d       disk.Disk
	info    disk.Info
	pool    *bufpool.Pool
	flusher *bufpool.Flusher
	dc      *dcache.Cache

	// state is held shared for the whole of every operation and exclusively
	// by Init and Close.
	state     *sync.RWMutex
	mounted   bool
	formatted bool
	closed    bool
}

// New wraps d without touching it. Call Init before anything else.
func New(d disk.Disk, cfg config.Config) (*FileSystem, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	info, err := disk.Query(d)
	if err != nil {
		return nil, fmt.Errorf("query device: %w", err)
	}
	if info.Pages <= uint64(common.DATASTART) {
		return nil, fmt.Errorf("device has %d pages, need more than %d", info.Pages, common.DATASTART)
	}
	pool := bufpool.MkPool(d, cfg.Shards, cfg.FramesPerShard)
	fs := &FileSystem{
		cfg:     cfg,
		d:       d,
		info:    info,
		pool:    pool,
		flusher: bufpool.MkFlusher(pool, cfg.FlushInterval),
		dc:      dcache.MkCache(pool, info.Pages-uint64(common.DATASTART)),
		state:   new(sync.RWMutex),
	}
	return fs, nil
}

// Open opens the image file named by cfg and mounts it.
func Open(ctx context.Context, cfg config.Config) (*FileSystem, error) {
	if cfg.DevicePath == "" {
		return nil, fmt.Errorf("no device given")
	}
	d, err := disk.NewFileDisk(cfg.DevicePath, cfg.DevicePages)
	if err != nil {
		return nil, err
	}
	fs, err := New(d, cfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	err = fs.Init(ctx)
	if err != nil {
		fs.Close()
		return nil, err
	}
	return fs, nil
}

func (fs *FileSystem) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if fs.cfg.FetchTimeout > 0 {
		return context.WithTimeout(ctx, fs.cfg.FetchTimeout)
	}
	return context.WithCancel(ctx)
}

// Init mounts the filesystem, formatting the device first if page 0 does not
// carry the magic number, and starts the background flusher.
func (fs *FileSystem) Init(ctx context.Context) error {
	fs.state.Lock()
	defer fs.state.Unlock()
	if fs.closed {
		return errno.Newf(errno.EIO, "filesystem closed")
	}
	if fs.mounted {
		return nil
	}
	slog.Info("mount: device",
		"pages", fs.info.Pages,
		"size", humanize.IBytes(fs.info.SizeBytes),
		"io_size", fs.info.IOSize)

	// Formatting dirties more pages than a small pool has frames.
	fs.flusher.Start(context.Background())
	err := fs.mount(ctx)
	if err != nil {
		if serr := fs.flusher.Shutdown(); serr != nil {
			err = multierror.Append(err, serr)
		}
		return fs.result("init", err)
	}
	fs.mounted = true
	return nil
}

func (fs *FileSystem) mount(ctx context.Context) error {
	ctx, cancel := fs.opContext(ctx)
	defer cancel()
	var sb layout.Superblock
	err := fs.withPage(ctx, common.SUPERPAGE, false, false, func(data []byte) {
		sb = layout.DecodeSuperblock(data)
	})
	if err != nil {
		return err
	}
	if sb.Initialized() {
		slog.Info("mount: found existing filesystem", "usage", sb.Usage)
		return nil
	}
	err = fs.format(ctx)
	if err != nil {
		return err
	}
	fs.formatted = true
	slog.Info("mount: formatted new filesystem")
	return nil
}

// format lays down empty bitmaps and the root directory. The superblock is
// written last.
func (fs *FileSystem) format(ctx context.Context) error {
	err := fs.withPage(ctx, common.INODEMAPPAGE, true, true, func(data []byte) {
		alloc.MkBitmap(data, common.MAXINODE).MarkUsed(uint64(common.ROOTINUM))
	})
	if err != nil {
		return err
	}
	a := addr.InodeAddr(common.ROOTINUM)
	err = fs.withPage(ctx, a.Page, true, true, func(data []byte) {
		layout.MkInode(common.ROOTINUM, common.TypeDir).Encode(data, a.Slot)
	})
	if err != nil {
		return err
	}
	err = fs.withPage(ctx, common.DATAMAPPAGE, true, true, func(data []byte) {})
	if err != nil {
		return err
	}
	return fs.withPage(ctx, common.SUPERPAGE, true, true, func(data []byte) {
		layout.Superblock{Magic: common.MAGIC, Usage: 1}.Encode(data)
	})
}

// withPage runs f on page id under its lock. Pages fetched as new are
// zeroed before f sees them, resident or not.
func (fs *FileSystem) withPage(ctx context.Context, id common.PageID, isNew bool, write bool, f func(data []byte)) error {
	p, err := fs.pool.FetchPage(ctx, id, isNew)
	if err != nil {
		return err
	}
	if write {
		p.Lock()
		if isNew {
			p.Zero()
		}
		f(p.Data())
		p.Unlock()
	} else {
		p.RLock()
		f(p.Data())
		p.RUnlock()
	}
	return fs.pool.UnpinPage(id, write)
}

// enter admits an operation. On success the caller must call the returned
// function when it is done with the filesystem.
func (fs *FileSystem) enter() (func(), error) {
	fs.state.RLock()
	if fs.closed {
		fs.state.RUnlock()
		return nil, errno.Newf(errno.EIO, "filesystem closed")
	}
	if !fs.mounted {
		fs.state.RUnlock()
		return nil, errno.Newf(errno.EIO, "filesystem not mounted")
	}
	return fs.state.RUnlock, nil
}

// result hands err back as an errno-carrying error. Failures that carry no
// code of their own, such as buffer pool timeouts, become EIO.
func (fs *FileSystem) result(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *errno.Error
	if errors.As(err, &e) {
		return err
	}
	util.DPrintf(1, "%s: %v\n", op, err)
	return errno.Wrap(errno.EIO, err)
}

// Formatted reports whether Init had to create a fresh filesystem.
func (fs *FileSystem) Formatted() bool {
	fs.state.RLock()
	defer fs.state.RUnlock()
	return fs.formatted
}

// Close stops the flusher, writes back every dirty page and closes the
// device.
func (fs *FileSystem) Close() error {
	fs.state.Lock()
	defer fs.state.Unlock()
	if fs.closed {
		return nil
	}
	fs.closed = true
	var result *multierror.Error
	if err := fs.flusher.Shutdown(); err != nil {
		result = multierror.Append(result, fmt.Errorf("final flush: %w", err))
	}
	if err := fs.d.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close device: %w", err))
	}
	slog.Info("unmount", "pool", fs.pool.Stats())
	return result.ErrorOrNil()
}

func (fs *FileSystem) Pool() *bufpool.Pool {
	return fs.pool
}

func (fs *FileSystem) DeviceInfo() disk.Info {
	return fs.info
}

// Attr is the subset of stat(2) this filesystem fills in.
type Attr struct {
	Mode uint32
	Inum common.Inum
	Type common.FileType
}

func modeOf(t common.FileType) uint32 {
	switch t {
	case common.TypeDir:
		return unix.S_IFDIR
	case common.TypeSymlink:
		return unix.S_IFLNK
	default:
		return unix.S_IFREG
	}
}

func (fs *FileSystem) Getattr(ctx context.Context, path string) (Attr, error) {
	leave, err := fs.enter()
	if err != nil {
		return Attr{}, err
	}
	defer leave()
	ctx, cancel := fs.opContext(ctx)
	defer cancel()
	e, err := fs.dc.Search(ctx, path)
	if err != nil {
		return Attr{}, fs.result("getattr", err)
	}
	util.DPrintf(3, "getattr %s: inum %d %v\n", path, e.Inum, e.Type)
	return Attr{Mode: modeOf(e.Type), Inum: e.Inum, Type: e.Type}, nil
}

// Readdir returns one entry of directory path per call. offset is the
// position to read; next is the cursor for the following call. ok is false
// once the directory is exhausted.
func (fs *FileSystem) Readdir(ctx context.Context, path string, offset uint64) (string, uint64, bool, error) {
	leave, err := fs.enter()
	if err != nil {
		return "", offset, false, err
	}
	defer leave()
	ctx, cancel := fs.opContext(ctx)
	defer cancel()
	e, err := fs.dc.Search(ctx, path)
	if err != nil {
		return "", offset, false, fs.result("readdir", err)
	}
	names, err := fs.dc.Names(ctx, e.ID)
	if err != nil {
		return "", offset, false, fs.result("readdir", err)
	}
	if offset >= uint64(len(names)) {
		return "", offset, false, nil
	}
	return names[offset], offset + 1, true, nil
}

// ReadDirAll drains Readdir from offset 0.
func (fs *FileSystem) ReadDirAll(ctx context.Context, path string) ([]string, error) {
	var names []string
	off := uint64(0)
	for {
		name, next, ok, err := fs.Readdir(ctx, path, off)
		if err != nil {
			return nil, err
		}
		if !ok {
			return names, nil
		}
		names = append(names, name)
		off = next
	}
}

func (fs *FileSystem) create(ctx context.Context, path string, t common.FileType) error {
	leave, err := fs.enter()
	if err != nil {
		return err
	}
	defer leave()
	ctx, cancel := fs.opContext(ctx)
	defer cancel()
	dir, name := dcache.SplitPath(path)
	if name == "" {
		return errno.Newf(errno.EEXIST, "%s", path)
	}
	parent, err := fs.dc.Search(ctx, dir)
	if err != nil {
		return fs.result("create", err)
	}
	e, err := fs.dc.Insert(ctx, parent.ID, name, t)
	if err != nil {
		return fs.result("create", err)
	}
	util.DPrintf(1, "create %s: inum %d %v\n", path, e.Inum, t)
	return nil
}

func (fs *FileSystem) Mkdir(ctx context.Context, path string) error {
	return fs.create(ctx, path, common.TypeDir)
}

func (fs *FileSystem) Mknod(ctx context.Context, path string) error {
	return fs.create(ctx, path, common.TypeReg)
}

// Access succeeds iff path exists; permission bits are not modeled.
func (fs *FileSystem) Access(ctx context.Context, path string) error {
	leave, err := fs.enter()
	if err != nil {
		return err
	}
	defer leave()
	ctx, cancel := fs.opContext(ctx)
	defer cancel()
	_, err = fs.dc.Search(ctx, path)
	return fs.result("access", err)
}

// Utimens accepts and ignores timestamp updates; inodes carry no times.
func (fs *FileSystem) Utimens(ctx context.Context, path string) error {
	leave, err := fs.enter()
	if err != nil {
		return err
	}
	leave()
	return nil
}

func notImplemented(op string, path string) error {
	return errno.Newf(errno.ENOSYS, "%s %s", op, path)
}

func (fs *FileSystem) Read(ctx context.Context, path string, dst []byte, off int64) (int, error) {
	return 0, notImplemented("read", path)
}

func (fs *FileSystem) Write(ctx context.Context, path string, src []byte, off int64) (int, error) {
	return 0, notImplemented("write", path)
}

func (fs *FileSystem) Unlink(ctx context.Context, path string) error {
	return notImplemented("unlink", path)
}

func (fs *FileSystem) Rmdir(ctx context.Context, path string) error {
	return notImplemented("rmdir", path)
}

func (fs *FileSystem) Rename(ctx context.Context, from string, to string) error {
	return notImplemented("rename", from)
}

func (fs *FileSystem) Truncate(ctx context.Context, path string, size int64) error {
	return notImplemented("truncate", path)
}
