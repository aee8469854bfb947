/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package mblock

import (
	"testing"
	"time"
)

func TestPoolAllocFree(t *testing.T) {
	p := New(128, 4, false)

	if got := p.Available(); got != 4 {
		t.Fatalf("Available() = %d, want 4", got)
	}

	b1, err := p.Alloc(nil)
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if len(b1) != 128 {
		t.Fatalf("len(block) = %d, want 128", len(b1))
	}
	if p.Available() != 3 {
		t.Fatalf("Available() after one alloc = %d, want 3", p.Available())
	}

	p.Free(b1)
	if p.Available() != 4 {
		t.Fatalf("Available() after free = %d, want 4", p.Available())
	}
}

func TestPoolExhaustedNonBlocking(t *testing.T) {
	p := New(64, 2, false)

	if _, err := p.Alloc(nil); err != nil {
		t.Fatalf("Alloc() 1 error = %v", err)
	}
	if _, err := p.Alloc(nil); err != nil {
		t.Fatalf("Alloc() 2 error = %v", err)
	}
	if _, err := p.Alloc(nil); err != ErrExhausted {
		t.Fatalf("Alloc() 3 error = %v, want ErrExhausted", err)
	}
}

func TestPoolBlockingWaitsForFree(t *testing.T) {
	p := New(64, 1, true)

	b, err := p.Alloc(nil)
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}

	done := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		_, err := p.Alloc(done)
		result <- err
	}()

	select {
	case <-result:
		t.Fatalf("Alloc() returned before a block was freed")
	case <-time.After(20 * time.Millisecond):
	}

	p.Free(b)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Alloc() after free error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Alloc() never unblocked after Free")
	}
}

func TestPoolBlockingCancel(t *testing.T) {
	p := New(64, 1, true)
	if _, err := p.Alloc(nil); err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}

	done := make(chan struct{})
	close(done)

	if _, err := p.Alloc(done); err != ErrExhausted {
		t.Fatalf("Alloc() with closed done = %v, want ErrExhausted", err)
	}
}

func TestNewPanicsOnInvalidArgs(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New() with blkSize=0 did not panic")
		}
	}()
	New(0, 4, false)
}
