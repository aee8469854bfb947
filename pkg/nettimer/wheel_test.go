/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package nettimer

import (
	"context"
	"testing"
	"time"

	"github.com/go-tcpstack/microtcp/pkg/exmsg"
)

func TestWheelExpiredOrdersByDeadline(t *testing.T) {
	bus := exmsg.New(4)
	w := New(time.Second, bus)

	later := w.Add(50 * time.Millisecond)
	sooner := w.Add(10 * time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	got := w.Expired(time.Now())
	if len(got) != 1 || got[0] != sooner {
		t.Fatalf("Expired() = %v, want [%v]", got, sooner)
	}

	time.Sleep(40 * time.Millisecond)
	got = w.Expired(time.Now())
	if len(got) != 1 || got[0] != later {
		t.Fatalf("Expired() = %v, want [%v]", got, later)
	}
}

func TestWheelCancelPreventsExpiry(t *testing.T) {
	bus := exmsg.New(4)
	w := New(time.Second, bus)

	id := w.Add(5 * time.Millisecond)
	w.Cancel(id)

	time.Sleep(10 * time.Millisecond)
	if got := w.Expired(time.Now()); len(got) != 0 {
		t.Fatalf("Expired() after Cancel = %v, want empty", got)
	}
}

func TestWheelRunPostsTick(t *testing.T) {
	bus := exmsg.New(4)
	w := New(5*time.Millisecond, bus)
	w.Add(1 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	result := make(chan exmsg.Msg, 1)
	go func() {
		msg, err := bus.Recv(context.Background())
		if err == nil {
			result <- msg
		}
	}()

	select {
	case msg := <-result:
		if msg.Tag != exmsg.TimerTick {
			t.Fatalf("Tag = %v, want TimerTick", msg.Tag)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() never posted a tick")
	}
}
