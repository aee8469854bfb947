/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package pktbuf implements the chained, scatter-gather packet buffer used
// throughout the stack: a sequence of fixed-size blocks on loan from a
// pkg/mblock.Pool, with header prepending, resizing, joining and a
// cursor-based read/write/copy/fill API. Every layer of the stack (TCP
// input, TCP output, the netif drivers) passes ownership of a *Buf around
// rather than copying payload bytes; the last holder frees it back to its
// pool.
package pktbuf

import (
	"errors"

	"github.com/go-tcpstack/microtcp/pkg/mblock"
)

// ErrSize is returned when an operation's size argument cannot be
// satisfied (insufficient room, request past the end of the buffer,
// header wider than one block, etc).
var ErrSize = errors.New("pktbuf: invalid size")

// ErrExhausted is returned when the backing pool has no free blocks.
var ErrExhausted = mblock.ErrExhausted

// Buf is a chain of fixed-size blocks plus the bookkeeping the rest of the
// stack needs: total logical size, a head offset (the unused prefix of
// the first block, reserved for future header pushes), and a read/write
// cursor. Only the first block may have a nonzero head offset; every
// block other than the last is always fully used end-to-end. A Buf must
// be obtained from Alloc and given back with Free exactly once.
type Buf struct {
	pool      *mblock.Pool
	blocks    []mblock.Block
	head      int
	totalSize int
	cursor    int
	freed     bool
}

// Alloc returns a new buffer of exactly n bytes, chained from
// ceil(n/BlockSize) blocks of pool. It fails with ErrExhausted if the pool
// cannot supply enough blocks; any blocks already taken are returned
// before the error is reported.
func Alloc(pool *mblock.Pool, n int) (*Buf, error) {
	if n < 0 {
		return nil, ErrSize
	}
	b := &Buf{pool: pool}
	if err := b.setBlockCount(requiredBlocks(pool.BlockSize(), 0, n)); err != nil {
		for _, blk := range b.blocks {
			pool.Free(blk)
		}
		return nil, err
	}
	b.totalSize = n
	return b, nil
}

// Free returns every block to the pool. Freeing an already-freed buffer
// panics: spec invariant 6 requires each block be returned exactly once,
// and a double free is a programming error, not a runtime condition to
// paper over.
func (b *Buf) Free() {
	if b.freed {
		panic("pktbuf: double free")
	}
	for _, blk := range b.blocks {
		b.pool.Free(blk)
	}
	b.blocks = nil
	b.freed = true
}

// Len returns the buffer's total logical size in bytes.
func (b *Buf) Len() int { return b.totalSize }

// requiredBlocks returns how many blocks are needed to hold n logical
// bytes when the first block already wastes `head` bytes of headroom.
func requiredBlocks(blkSize, head, n int) int {
	if n == 0 && head == 0 {
		return 0
	}
	return (n + head + blkSize - 1) / blkSize
}

// setBlockCount grows or shrinks b.blocks (from the tail) to exactly
// `want` blocks, allocating or freeing as needed. It does not touch
// b.head or b.totalSize.
func (b *Buf) setBlockCount(want int) error {
	for len(b.blocks) < want {
		blk, err := b.pool.Alloc(nil)
		if err != nil {
			return ErrExhausted
		}
		b.blocks = append(b.blocks, blk)
	}
	for len(b.blocks) > want {
		last := b.blocks[len(b.blocks)-1]
		b.blocks = b.blocks[:len(b.blocks)-1]
		b.pool.Free(last)
	}
	return nil
}

// usedInLast returns how many bytes of the last block are occupied by
// logical data, derived from head/totalSize/block count rather than
// tracked as separate mutable state (every block but the last is always
// fully used, so the total determines the remainder).
func (b *Buf) usedInLast() int {
	blkSize := b.pool.BlockSize()
	switch len(b.blocks) {
	case 0:
		return 0
	case 1:
		return b.head + b.totalSize
	default:
		return b.totalSize - (blkSize - b.head) - (len(b.blocks)-2)*blkSize
	}
}

// usedInFirst returns how many bytes of data the first block holds.
func (b *Buf) usedInFirst() int {
	if len(b.blocks) <= 1 {
		return b.usedInLast()
	}
	return b.pool.BlockSize() - b.head
}

// Resize grows or shrinks the buffer to exactly n total bytes, allocating
// or releasing trailing blocks as needed and adjusting the last block's
// used length. Existing leading bytes are preserved; newly grown bytes
// are uninitialized.
func (b *Buf) Resize(n int) error {
	if n < 0 {
		return ErrSize
	}
	blkSize := b.pool.BlockSize()
	want := requiredBlocks(blkSize, b.head, n)
	if err := b.setBlockCount(want); err != nil {
		return err
	}
	b.totalSize = n
	if b.cursor > n {
		b.cursor = n
	}
	return nil
}

// AddHeader prepends h bytes to the front of the buffer.
//
// If cont is true, the prepended region must end up in a single block:
// the existing head gap is used if it is large enough, otherwise a fresh
// block is linked in front and the whole header lands in it. This
// guarantees bytes [0, h) are addressable as one contiguous slice
// afterward (see ContiguousPrefix).
//
// If cont is false, the head gap is filled first and then as many whole
// or partial blocks as needed are linked in front; the header may end up
// spanning more than one block.
func (b *Buf) AddHeader(h int, cont bool) error {
	if h < 0 {
		return ErrSize
	}
	if h == 0 {
		return nil
	}
	blkSize := b.pool.BlockSize()

	if cont {
		if h > blkSize {
			return ErrSize
		}
		if b.head >= h {
			b.head -= h
		} else {
			if b.head > 0 {
				// Re-lay the bytes from offset 0 so the old first block's gap
				// does not end up mid-chain. This only shrinks the chain and
				// moves exactly totalSize bytes, so none of these calls fail.
				saved, savedCursor := make([]byte, b.totalSize), b.cursor
				b.cursor = 0
				_ = b.Read(saved)
				b.head = 0
				_ = b.setBlockCount(requiredBlocks(blkSize, 0, b.totalSize))
				b.cursor = 0
				_ = b.Write(saved)
				b.cursor = savedCursor
			}
			blk, err := b.pool.Alloc(nil)
			if err != nil {
				return ErrExhausted
			}
			b.blocks = append([]mblock.Block{blk}, b.blocks...)
			b.head = blkSize - h
		}
	} else {
		remaining := h
		if b.head > 0 {
			use := min(b.head, remaining)
			b.head -= use
			remaining -= use
		}
		if remaining > 0 {
			full := remaining / blkSize
			rem := remaining % blkSize
			var front []mblock.Block
			newBlocks := full
			if rem > 0 {
				newBlocks++
			}
			for i := 0; i < newBlocks; i++ {
				blk, err := b.pool.Alloc(nil)
				if err != nil {
					for _, taken := range front {
						b.pool.Free(taken)
					}
					return ErrExhausted
				}
				front = append(front, blk)
			}
			b.blocks = append(front, b.blocks...)
			if rem > 0 {
				b.head = blkSize - rem
			} else {
				b.head = 0
			}
		}
	}

	b.totalSize += h
	b.cursor += h
	return nil
}

// RemoveHeader releases h bytes from the front of the buffer, returning
// any whole blocks consumed to the pool.
func (b *Buf) RemoveHeader(h int) error {
	if h < 0 || h > b.totalSize {
		return ErrSize
	}
	blkSize := b.pool.BlockSize()
	remaining := h
	for remaining > 0 {
		avail := b.usedInFirst()
		if remaining >= avail {
			b.pool.Free(b.blocks[0])
			b.blocks = b.blocks[1:]
			remaining -= avail
			b.head = 0
		} else {
			b.head += remaining
			remaining = 0
		}
	}
	_ = blkSize
	b.totalSize -= h
	b.cursor -= h
	if b.cursor < 0 {
		b.cursor = 0
	}
	return nil
}

// Join appends all of src's bytes after b's, and frees src. src must not
// be used afterward.
//
// The original C stack relinks src's blocks onto a's chain directly; here
// the merge goes through a byte copy instead (see DESIGN.md) so the
// invariant that only the final block of a chain may be partially used
// holds even when a's last block had spare room.
func (b *Buf) Join(src *Buf) error {
	defer src.Free()

	if src.totalSize == 0 {
		return nil
	}
	oldLen := b.totalSize
	if err := b.Resize(oldLen + src.totalSize); err != nil {
		return err
	}
	if err := b.Seek(oldLen); err != nil {
		return err
	}
	if err := src.Seek(0); err != nil {
		return err
	}
	if err := Copy(b, src, src.totalSize); err != nil {
		return err
	}
	return nil
}

// SetCont guarantees the first k logical bytes occupy one contiguous
// region (all within the first block), without altering logical byte
// content. It fails if the first block cannot hold k bytes (k larger
// than one block, or larger than the buffer itself).
func (b *Buf) SetCont(k int) error {
	blkSize := b.pool.BlockSize()
	if k < 0 || k > blkSize || k > b.totalSize {
		return ErrSize
	}
	if b.usedInFirst() >= k {
		return nil
	}

	// General path: the requested prefix spans more than one block.
	// Extract the whole buffer linearly and rebuild the chain from
	// scratch (a fresh Alloc always starts with head==0, which trivially
	// satisfies the contiguity guarantee for any k <= BlockSize).
	saved := make([]byte, b.totalSize)
	savedCursor := b.cursor
	if err := b.Seek(0); err != nil {
		return err
	}
	if err := b.Read(saved); err != nil {
		return err
	}

	for _, blk := range b.blocks {
		b.pool.Free(blk)
	}
	b.blocks = nil
	b.head = 0
	if err := b.setBlockCount(requiredBlocks(blkSize, 0, b.totalSize)); err != nil {
		return err
	}

	if err := b.Seek(0); err != nil {
		return err
	}
	if err := b.Write(saved); err != nil {
		return err
	}
	b.cursor = savedCursor
	return nil
}

// ContiguousPrefix guarantees the first n bytes are contiguous (via
// SetCont) and returns them as a slice aliasing the buffer's first block,
// so in-place mutation (e.g. network/host byte-order conversion of a
// header) is visible through the buffer. The slice is invalidated by any
// subsequent AddHeader/RemoveHeader/Resize/SetCont/Join call.
func (b *Buf) ContiguousPrefix(n int) ([]byte, error) {
	if err := b.SetCont(n); err != nil {
		return nil, err
	}
	return b.blocks[0][b.head : b.head+n], nil
}

// Seek places the cursor at logical position pos.
func (b *Buf) Seek(pos int) error {
	if pos < 0 || pos > b.totalSize {
		return ErrSize
	}
	b.cursor = pos
	return nil
}

// Tell returns the cursor's current logical position.
func (b *Buf) Tell() int { return b.cursor }

// Remaining returns the number of bytes between the cursor and the end
// of the buffer.
func (b *Buf) Remaining() int { return b.totalSize - b.cursor }

// locate maps a logical position to the block index and in-block offset
// that hold the byte at that position.
func (b *Buf) locate(pos int) (blockIdx, offset int) {
	blkSize := b.pool.BlockSize()
	firstCap := blkSize - b.head
	if pos < firstCap {
		return 0, b.head + pos
	}
	rest := pos - firstCap
	return 1 + rest/blkSize, rest % blkSize
}

// Read copies len(dst) bytes starting at the cursor into dst and advances
// the cursor by that many bytes. It fails if dst is longer than the
// bytes remaining in the buffer.
func (b *Buf) Read(dst []byte) error {
	if len(dst) > b.Remaining() {
		return ErrSize
	}
	pos := b.cursor
	n := len(dst)
	for n > 0 {
		blkIdx, off := b.locate(pos)
		chunk := min(n, b.pool.BlockSize()-off)
		copy(dst[len(dst)-n:], b.blocks[blkIdx][off:off+chunk])
		pos += chunk
		n -= chunk
	}
	b.cursor += len(dst)
	return nil
}

// Write copies len(src) bytes from src into the buffer starting at the
// cursor and advances the cursor by that many bytes. It fails if src is
// longer than the bytes remaining in the buffer (Write overwrites
// existing capacity; call Resize first to grow it).
func (b *Buf) Write(src []byte) error {
	if len(src) > b.Remaining() {
		return ErrSize
	}
	pos := b.cursor
	n := len(src)
	for n > 0 {
		blkIdx, off := b.locate(pos)
		chunk := min(n, b.pool.BlockSize()-off)
		copy(b.blocks[blkIdx][off:off+chunk], src[len(src)-n:len(src)-n+chunk])
		pos += chunk
		n -= chunk
	}
	b.cursor += len(src)
	return nil
}

// Fill writes byte v, length times, starting at the cursor.
func (b *Buf) Fill(v byte, length int) error {
	if length > b.Remaining() {
		return ErrSize
	}
	pos := b.cursor
	n := length
	for n > 0 {
		blkIdx, off := b.locate(pos)
		chunk := min(n, b.pool.BlockSize()-off)
		blk := b.blocks[blkIdx]
		for i := 0; i < chunk; i++ {
			blk[off+i] = v
		}
		pos += chunk
		n -= chunk
	}
	b.cursor += length
	return nil
}

// Copy transfers length bytes from src's cursor to dst's cursor,
// advancing both.
func Copy(dst, src *Buf, length int) error {
	if length > src.Remaining() || length > dst.Remaining() {
		return ErrSize
	}
	const chunkSize = 256
	tmp := make([]byte, min(chunkSize, length))
	remaining := length
	for remaining > 0 {
		n := min(len(tmp), remaining)
		if err := src.Read(tmp[:n]); err != nil {
			return err
		}
		if err := dst.Write(tmp[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
