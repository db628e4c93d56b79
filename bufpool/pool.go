package bufpool

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mit-pdos/go-ftlfs/buf"
	"github.com/mit-pdos/go-ftlfs/common"
	"github.com/mit-pdos/go-ftlfs/disk"
)

// Pool spreads the page-id space over independent instances, page id mod the
// shard count, so that requests for different shards do not contend on one
// lock.
type Pool struct {
	shards []*Instance
}

var _ PageFetcher = (*Pool)(nil)

// MkPool builds nshard instances of nframe frames each over d.
func MkPool(d disk.Disk, nshard uint64, nframe uint64) *Pool {
	if nshard == 0 {
		panic("MkPool: no shards")
	}
	var shards []*Instance
	for i := uint64(0); i < nshard; i++ {
		shards = append(shards, MkInstance(d, nframe))
	}
	a := &Pool{
		shards: shards,
	}
	return a
}

func (pool *Pool) GetShardNo(id common.PageID) uint64 {
	return uint64(id) % uint64(len(pool.shards))
}

func (pool *Pool) GetShard(id common.PageID) *Instance {
	shard := pool.shards[pool.GetShardNo(id)]
	return shard
}

func (pool *Pool) NumShards() uint64 {
	return uint64(len(pool.shards))
}

func (pool *Pool) FetchPage(ctx context.Context, id common.PageID, isNew bool) (*buf.Page, error) {
	return pool.GetShard(id).FetchPage(ctx, id, isNew)
}

func (pool *Pool) TryFetchPage(id common.PageID, isNew bool) (*buf.Page, error) {
	return pool.GetShard(id).TryFetchPage(id, isNew)
}

func (pool *Pool) UnpinPage(id common.PageID, isDirty bool) error {
	return pool.GetShard(id).UnpinPage(id, isDirty)
}

func (pool *Pool) FlushPage(id common.PageID) error {
	return pool.GetShard(id).FlushPage(id)
}

func (pool *Pool) Lookup(id common.PageID) (PageState, bool) {
	return pool.GetShard(id).Lookup(id)
}

// FlushAll writes back every shard concurrently and returns the number of
// pages cleaned.
func (pool *Pool) FlushAll() (uint64, error) {
	var g errgroup.Group
	cleaned := make([]uint64, len(pool.shards))
	for i, shard := range pool.shards {
		i, shard := i, shard
		g.Go(func() error {
			n, err := shard.Flush()
			cleaned[i] = n
			return err
		})
	}
	err := g.Wait()
	total := uint64(0)
	for _, n := range cleaned {
		total += n
	}
	return total, err
}

func (pool *Pool) Stats() Stats {
	var s Stats
	for _, shard := range pool.shards {
		s = s.add(shard.Stats())
	}
	return s
}
