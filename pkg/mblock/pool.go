/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package mblock hands out equal-size blocks from a preallocated arena.
// It is the fixed-block allocator of the stack: pkg/pktbuf chains blocks
// from a Pool instead of calling into the Go heap per header push, which
// both bounds memory (PKTBUF_BLK_CNT) and matches the behavior the rest
// of the corpus was ported from.
package mblock

import (
	"errors"
	"sync"

	"github.com/go-tcpstack/microtcp/pkg/nlist"
)

// ErrExhausted is returned by Alloc in non-blocking pools when no free
// block remains.
var ErrExhausted = errors.New("mblock: pool exhausted")

// Block is a fixed-size slice view into the pool's arena. Its length is
// always the pool's block size; callers reslice within that bound.
type Block []byte

// Pool preallocates Count blocks of Size bytes from one backing arena and
// serves them from an intrusive free list. A Pool created with Blocking
// true additionally gates Alloc on a counting semaphore so callers can
// wait for a block to free up instead of failing immediately.
type Pool struct {
	blockSize int
	mu        sync.Mutex
	free      *nlist.List[Block]
	sem       chan struct{} // nil unless blocking
}

// New creates a pool of cnt blocks, each blkSize bytes. If blocking is
// true, Alloc blocks (until its done channel is closed) until a block is
// available instead of returning ErrExhausted.
func New(blkSize, cnt int, blocking bool) *Pool {
	if blkSize <= 0 || cnt <= 0 {
		panic("mblock: blkSize and cnt must be positive")
	}

	arena := make([]byte, blkSize*cnt)
	p := &Pool{
		blockSize: blkSize,
		free:      nlist.New[Block](),
	}
	for i := 0; i < cnt; i++ {
		p.free.PushBack(arena[i*blkSize : (i+1)*blkSize : (i+1)*blkSize])
	}
	if blocking {
		p.sem = make(chan struct{}, cnt)
		for i := 0; i < cnt; i++ {
			p.sem <- struct{}{}
		}
	}
	return p
}

// BlockSize returns the fixed size of every block served by this pool.
func (p *Pool) BlockSize() int { return p.blockSize }

// Available returns the number of free blocks remaining.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Len()
}

// Alloc returns one free block. In a non-blocking pool it fails fast with
// ErrExhausted; in a blocking pool it waits for a block to be freed,
// canceling via done (pass nil to wait forever).
func (p *Pool) Alloc(done <-chan struct{}) (Block, error) {
	if p.sem != nil {
		select {
		case <-p.sem:
		case <-done:
			return nil, ErrExhausted
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.free.Front()
	if n == nil {
		// Only reachable for non-blocking pools, or a semaphore/free-list
		// desync, which would itself be a programming error.
		if p.sem != nil {
			p.sem <- struct{}{}
		}
		return nil, ErrExhausted
	}
	p.free.Remove(n)
	return n.Value, nil
}

// Free returns blk to the pool. It does not check where blk came from: a
// block not obtained from this pool is added to the free list like any
// other.
func (p *Pool) Free(blk Block) {
	p.mu.Lock()
	p.free.PushBack(blk)
	p.mu.Unlock()

	if p.sem != nil {
		p.sem <- struct{}{}
	}
}
