package bufpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mit-pdos/go-ftlfs/util"
)

const DefaultFlushInterval = 10 * time.Millisecond

// Flusher writes dirty pages of a Pool back to disk on a fixed interval,
// independent of request traffic.
type Flusher struct {
	pool     *Pool
	interval time.Duration
	mu       *sync.Mutex // protects stop
	stop     chan struct{}
	done     chan struct{}
}

func MkFlusher(pool *Pool, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	f := &Flusher{
		pool:     pool,
		interval: interval,
		mu:       new(sync.Mutex),
	}
	return f
}

// Start launches the background goroutine. It stops on Shutdown or when ctx
// is done.
func (f *Flusher) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		return
	}
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	slog.Debug("flusher: start", "interval", f.interval, "shards", f.pool.NumShards())
	go f.run(ctx, f.stop, f.done)
}

func (f *Flusher) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := f.Cycle()
			if err != nil {
				slog.Error("flusher: write-back failed", "err", err)
			}
		}
	}
}

// Cycle runs one write-back pass over every shard.
func (f *Flusher) Cycle() error {
	n, err := f.pool.FlushAll()
	if n > 0 {
		util.DPrintf(5, "flusher: cleaned %d pages\n", n)
	}
	return err
}

// Shutdown stops the background goroutine, waits for it to exit and runs a
// final cycle so that nothing dirty is left behind.
func (f *Flusher) Shutdown() error {
	f.mu.Lock()
	stop, done := f.stop, f.done
	f.stop, f.done = nil, nil
	f.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	slog.Debug("flusher: shutdown")
	return f.Cycle()
}
