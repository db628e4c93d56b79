package bufpool

import "errors"

// ErrTimeout is returned when the wait for a free frame ends because the
// caller's context expired or was cancelled.
var ErrTimeout = errors.New("timed out waiting for a free frame")

// ErrWouldBlock is returned by TryFetchPage when every frame is held.
var ErrWouldBlock = errors.New("no free frame")

// ErrNotPinned is returned when unpinning a page that is not resident or has
// no pins left.
var ErrNotPinned = errors.New("page is not pinned")
