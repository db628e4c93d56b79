package bufpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/mit-pdos/go-ftlfs/buf"
	"github.com/mit-pdos/go-ftlfs/common"
	"github.com/mit-pdos/go-ftlfs/disk"
)

// countingDisk counts device reads.
type countingDisk struct {
	disk.Disk
	reads *int64
}

func (d countingDisk) ReadTo(a uint64, b disk.Block) error {
	atomic.AddInt64(d.reads, 1)
	return d.Disk.ReadTo(a, b)
}

type PoolSuite struct {
	suite.Suite
	d     disk.Disk
	reads *int64
	bp    *Instance
}

func (suite *PoolSuite) SetupTest() {
	suite.reads = new(int64)
	suite.d = countingDisk{Disk: disk.NewMemDisk(64), reads: suite.reads}
	suite.bp = MkInstance(suite.d, 4)
}

func TestPool(t *testing.T) {
	suite.Run(t, new(PoolSuite))
}

func (suite *PoolSuite) fetch(id common.PageID, isNew bool) *buf.Page {
	p, err := suite.bp.FetchPage(context.Background(), id, isNew)
	suite.Require().NoError(err)
	suite.Equal(id, p.ID())
	return p
}

func (suite *PoolSuite) unpin(id common.PageID, dirty bool) {
	suite.Require().NoError(suite.bp.UnpinPage(id, dirty))
}

func (suite *PoolSuite) write(id common.PageID, b byte) {
	p := suite.fetch(id, false)
	p.Lock()
	p.Data()[0] = b
	p.Data()[common.PAGESZ-1] = b
	p.Unlock()
	suite.unpin(id, true)
}

func (suite *PoolSuite) diskByte(id common.PageID) byte {
	blk, err := suite.d.Read(uint64(id))
	suite.Require().NoError(err)
	return blk[0]
}

func (suite *PoolSuite) TestRoundTripBeforeFlush() {
	p := suite.fetch(5, true)
	p.Lock()
	copy(p.Data(), []byte("hello"))
	p.Unlock()
	suite.unpin(5, true)

	p = suite.fetch(5, false)
	p.RLock()
	suite.Equal([]byte("hello"), p.Data()[:5])
	p.RUnlock()
	suite.unpin(5, false)

	suite.Equal(byte(0), suite.diskByte(5), "nothing written before a flush")
	st, ok := suite.bp.Lookup(5)
	suite.True(ok)
	suite.True(st.Dirty)
	suite.Equal(uint64(0), st.PinCount)
}

func (suite *PoolSuite) TestNewPageIsZeroed() {
	p := suite.fetch(1, false)
	p.Lock()
	p.Data()[0] = 7
	p.Unlock()
	suite.unpin(1, false) // clean, so evictable

	for id := common.PageID(2); id < 6; id++ {
		suite.fetch(id, false)
		suite.unpin(id, false)
	}
	_, ok := suite.bp.Lookup(1)
	suite.False(ok, "page 1 should have been evicted")

	// page 10 takes over a recycled frame
	p = suite.fetch(10, true)
	p.RLock()
	suite.Equal(make([]byte, common.PAGESZ), p.Data())
	p.RUnlock()
	suite.unpin(10, false)
}

func (suite *PoolSuite) TestPinBound() {
	for id := common.PageID(0); id < 4; id++ {
		suite.fetch(id, false)
	}
	// a page that is already pinned never needs a new frame
	suite.fetch(2, false)
	suite.unpin(2, false)

	_, err := suite.bp.TryFetchPage(4, false)
	suite.ErrorIs(err, ErrWouldBlock)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = suite.bp.FetchPage(ctx, 4, false)
	suite.ErrorIs(err, ErrTimeout)
	suite.ErrorIs(err, context.DeadlineExceeded)

	done := make(chan *buf.Page)
	go func() {
		p, err := suite.bp.FetchPage(context.Background(), 4, false)
		if err != nil {
			p = nil
		}
		done <- p
	}()
	select {
	case <-done:
		suite.Fail("fetch should block while every frame is pinned")
	case <-time.After(20 * time.Millisecond):
	}

	suite.unpin(0, false)
	select {
	case p := <-done:
		suite.Require().NotNil(p)
		suite.Equal(common.PageID(4), p.ID())
	case <-time.After(5 * time.Second):
		suite.Fail("fetch did not proceed after unpin")
	}
	_, ok := suite.bp.Lookup(0)
	suite.False(ok, "page 0 should be the victim")
}

func (suite *PoolSuite) TestEvictionOrder() {
	for id := common.PageID(0); id < 4; id++ {
		suite.fetch(id, false)
	}
	for _, id := range []common.PageID{2, 0, 3, 1} {
		suite.unpin(id, false)
	}
	suite.fetch(2, false) // pinned again, no longer a candidate
	suite.fetch(10, false)
	suite.fetch(11, false)
	_, ok := suite.bp.Lookup(0)
	suite.False(ok)
	_, ok = suite.bp.Lookup(3)
	suite.False(ok)
	_, ok = suite.bp.Lookup(1)
	suite.True(ok)
	_, ok = suite.bp.Lookup(2)
	suite.True(ok)
}

func (suite *PoolSuite) TestDirtyNotEvicted() {
	suite.write(0, 1)
	for id := common.PageID(1); id < 8; id++ {
		suite.fetch(id, false)
		suite.unpin(id, false)
	}
	st, ok := suite.bp.Lookup(0)
	suite.True(ok, "dirty page must stay resident")
	suite.True(st.Dirty)
	suite.Equal(uint64(1), suite.bp.Stats().Dirty)
}

func (suite *PoolSuite) TestDirtyHoldsFrame() {
	for id := common.PageID(0); id < 4; id++ {
		suite.write(id, byte(id+1))
	}
	_, err := suite.bp.TryFetchPage(9, false)
	suite.ErrorIs(err, ErrWouldBlock, "dirty pages keep their frames")

	n, err := suite.bp.Flush()
	suite.NoError(err)
	suite.Equal(uint64(4), n)
	_, err = suite.bp.TryFetchPage(9, false)
	suite.NoError(err)
	suite.Equal(byte(1), suite.diskByte(0))
}

func (suite *PoolSuite) TestFlushDurability() {
	suite.write(7, 0x42)
	n, err := suite.bp.Flush()
	suite.Require().NoError(err)
	suite.Equal(uint64(1), n)

	st, ok := suite.bp.Lookup(7)
	suite.True(ok)
	suite.False(st.Dirty)
	suite.Equal(uint64(1), suite.bp.Stats().Evictable)

	fresh := MkInstance(suite.d, 2)
	p, err := fresh.FetchPage(context.Background(), 7, false)
	suite.Require().NoError(err)
	p.RLock()
	suite.Equal(byte(0x42), p.Data()[0])
	suite.Equal(byte(0x42), p.Data()[common.PAGESZ-1])
	p.RUnlock()
	suite.NoError(fresh.UnpinPage(7, false))
}

func (suite *PoolSuite) TestRedirtySurvivesClear() {
	suite.write(3, 1)
	snap := suite.bp.collectDirty()
	suite.Require().Len(snap, 1)

	// a writer gets in between the snapshot and the write-back
	suite.write(3, 2)

	suite.Require().NoError(suite.bp.writeBack(snap))
	suite.Equal(uint64(0), suite.bp.markClean(snap))

	st, _ := suite.bp.Lookup(3)
	suite.True(st.Dirty, "second write must not be lost")
	suite.Equal(byte(2), suite.diskByte(3), "write-back copies the current bytes")

	n, err := suite.bp.Flush()
	suite.NoError(err)
	suite.Equal(uint64(1), n)
	st, _ = suite.bp.Lookup(3)
	suite.False(st.Dirty)
}

func (suite *PoolSuite) TestRedirtyAfterCopy() {
	suite.write(3, 1)
	snap := suite.bp.collectDirty()
	suite.Require().NoError(suite.bp.writeBack(snap))
	suite.write(3, 2)
	suite.bp.markClean(snap)

	st, _ := suite.bp.Lookup(3)
	suite.True(st.Dirty)
	suite.Equal(byte(1), suite.diskByte(3))
	suite.bp.Flush()
	suite.Equal(byte(2), suite.diskByte(3))
}

func (suite *PoolSuite) TestFlushWhilePinned() {
	p := suite.fetch(6, false)
	p.Lock()
	p.Data()[0] = 9
	p.Unlock()
	suite.unpin(6, true)
	suite.fetch(6, false)

	suite.bp.Flush()
	st, _ := suite.bp.Lookup(6)
	suite.False(st.Dirty)
	suite.Equal(uint64(1), st.PinCount)
	suite.Equal(uint64(0), suite.bp.Stats().Evictable, "pinned page stays out of the replacer")
	suite.unpin(6, false)
	suite.Equal(uint64(1), suite.bp.Stats().Evictable)
}

func (suite *PoolSuite) TestConcurrentFetchLoadsOnce() {
	const n = 16
	pages := make([]*buf.Page, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			p, err := suite.bp.FetchPage(context.Background(), 12, false)
			pages[i] = p
			return err
		})
	}
	suite.Require().NoError(g.Wait())
	for _, p := range pages {
		suite.Same(pages[0], p)
	}
	suite.Equal(int64(1), atomic.LoadInt64(suite.reads), "page should be read once")
	st, _ := suite.bp.Lookup(12)
	suite.Equal(uint64(n), st.PinCount)
	suite.Equal(uint64(1), suite.bp.Stats().Resident)
}

func (suite *PoolSuite) TestConcurrentDistinctFetches() {
	// dirty pages hold their frames, so keep flushing while the writers run
	stop := make(chan struct{})
	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
				suite.bp.Flush()
			}
		}
	}()

	var g errgroup.Group
	for i := 0; i < 64; i++ {
		id := common.PageID(i % 16)
		g.Go(func() error {
			p, err := suite.bp.FetchPage(context.Background(), id, false)
			if err != nil {
				return err
			}
			p.Lock()
			p.Data()[1] = byte(id)
			p.Unlock()
			return suite.bp.UnpinPage(id, true)
		})
	}
	err := g.Wait()
	close(stop)
	<-flushed
	suite.Require().NoError(err)
	_, err = suite.bp.Flush()
	suite.Require().NoError(err)
	for id := common.PageID(0); id < 16; id++ {
		blk, _ := suite.d.Read(uint64(id))
		suite.Equal(byte(id), blk[1])
	}
	s := suite.bp.Stats()
	suite.Equal(uint64(0), s.Pinned)
	suite.Equal(uint64(0), s.Dirty)
}

func (suite *PoolSuite) TestUnpinErrors() {
	suite.ErrorIs(suite.bp.UnpinPage(1, false), ErrNotPinned)
	suite.fetch(1, false)
	suite.unpin(1, false)
	suite.ErrorIs(suite.bp.UnpinPage(1, false), ErrNotPinned)
}

func (suite *PoolSuite) TestOutOfRange() {
	suite.Panics(func() { suite.bp.FetchPage(context.Background(), 64, false) })
}

func TestShardRouting(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(64)
	pool := MkPool(d, 4, 2)
	assert.Equal(uint64(4), pool.NumShards())
	assert.Equal(uint64(3), pool.GetShardNo(7))

	p, err := pool.FetchPage(context.Background(), 7, true)
	require.NoError(t, err)
	p.Lock()
	p.Data()[0] = 1
	p.Unlock()
	require.NoError(t, pool.UnpinPage(7, true))

	_, ok := pool.shards[3].Lookup(7)
	assert.True(ok)
	for _, i := range []int{0, 1, 2} {
		assert.Equal(uint64(0), pool.shards[i].Stats().Resident)
	}

	// each shard has its own frames
	for _, id := range []common.PageID{0, 4, 1, 5} {
		_, err := pool.TryFetchPage(id, false)
		assert.NoError(err)
	}
	_, err = pool.TryFetchPage(8, false)
	assert.ErrorIs(err, ErrWouldBlock)

	n, err := pool.FlushAll()
	assert.NoError(err)
	assert.Equal(uint64(1), n)
	blk, _ := d.Read(7)
	assert.Equal(byte(1), blk[0])
	assert.NoError(pool.FlushPage(7))
	assert.Equal(uint64(8), pool.Stats().Frames)
}

func TestFlusherBackground(t *testing.T) {
	d := disk.NewMemDisk(16)
	pool := MkPool(d, 2, 4)
	f := MkFlusher(pool, time.Millisecond)
	f.Start(context.Background())

	p, err := pool.FetchPage(context.Background(), 5, false)
	require.NoError(t, err)
	p.Lock()
	p.Data()[0] = 0xee
	p.Unlock()
	require.NoError(t, pool.UnpinPage(5, true))

	require.Eventually(t, func() bool {
		st, _ := pool.Lookup(5)
		return !st.Dirty
	}, 5*time.Second, time.Millisecond)
	blk, _ := d.Read(5)
	assert.Equal(t, byte(0xee), blk[0])
	assert.NoError(t, f.Shutdown())
	assert.NoError(t, f.Shutdown(), "second shutdown is harmless")
}

func TestFlusherShutdownFlushes(t *testing.T) {
	d := disk.NewMemDisk(16)
	pool := MkPool(d, 1, 4)
	f := MkFlusher(pool, time.Hour)
	f.Start(context.Background())

	p, err := pool.FetchPage(context.Background(), 2, true)
	require.NoError(t, err)
	p.Lock()
	p.Data()[0] = 3
	p.Unlock()
	require.NoError(t, pool.UnpinPage(2, true))

	require.NoError(t, f.Shutdown())
	blk, _ := d.Read(2)
	assert.Equal(t, byte(3), blk[0])
}

func TestFlusherStopsWithContext(t *testing.T) {
	pool := MkPool(disk.NewMemDisk(8), 1, 1)
	f := MkFlusher(pool, 0)
	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)
	done := f.done
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("flusher did not stop")
	}
	assert.NoError(t, f.Shutdown())
}
