/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package nlist

import "testing"

func TestListPushBackOrder(t *testing.T) {
	l := New[int]()
	l.PushBack(1)
	l.PushBack(2)
	l.PushBack(3)

	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}

	var got []int
	l.Each(func(v int) { got = append(got, v) })

	want := []int{1, 2, 3}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], v)
		}
	}
}

func TestListPushFront(t *testing.T) {
	l := New[string]()
	l.PushBack("b")
	l.PushFront("a")
	l.PushBack("c")

	var got []string
	l.Each(func(v string) { got = append(got, v) })

	want := []string{"a", "b", "c"}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("got[%d] = %q, want %q", i, got[i], v)
		}
	}
}

func TestListRemove(t *testing.T) {
	l := New[int]()
	n1 := l.PushBack(1)
	n2 := l.PushBack(2)
	l.PushBack(3)

	l.Remove(n2)
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}

	var got []int
	l.Each(func(v int) { got = append(got, v) })
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("got = %v, want [1 3]", got)
	}

	// removing an already-removed node is a no-op
	l.Remove(n2)
	if l.Len() != 2 {
		t.Fatalf("Len() after double remove = %d, want 2", l.Len())
	}

	l.Remove(n1)
	if front := l.Front(); front == nil || front.Value != 3 {
		t.Fatalf("Front() after remove = %v, want 3", front)
	}
}

func TestListPopFrontEmpty(t *testing.T) {
	l := New[int]()
	if _, ok := l.PopFront(); ok {
		t.Fatalf("PopFront() on empty list returned ok=true")
	}
}

func TestListPopFrontFIFO(t *testing.T) {
	l := New[int]()
	l.PushBack(10)
	l.PushBack(20)

	v, ok := l.PopFront()
	if !ok || v != 10 {
		t.Fatalf("PopFront() = (%d, %v), want (10, true)", v, ok)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}
