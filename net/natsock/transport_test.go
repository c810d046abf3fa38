// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package natsock

import (
	"testing"
	"time"

	"github.com/nat-probe/natchk/net/natendpoint"
)

func mustLocalhost(t *testing.T) natendpoint.Endpoint {
	t.Helper()
	ep, err := natendpoint.Parse("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ep
}

type recordingSub struct {
	got chan []byte
}

func newRecordingSub() *recordingSub {
	return &recordingSub{got: make(chan []byte, 8)}
}

func (s *recordingSub) HandleMessage(peer natendpoint.Endpoint, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.got <- cp
}

func startTransport(t *testing.T) *Transport {
	t.Helper()
	tr := New(nil)
	if err := tr.Start(mustLocalhost(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(tr.Shutdown)
	return tr
}

func TestSendReceive(t *testing.T) {
	a := startTransport(t)
	b := startTransport(t)

	sub := newRecordingSub()
	b.Subscribe(sub)

	a.Send(b.LocalAddr(), []byte("hello"))

	select {
	case got := <-sub.got:
		if string(got) != "hello" {
			t.Errorf("got %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	a := startTransport(t)
	b := startTransport(t)

	sub := newRecordingSub()
	b.Subscribe(sub)
	a.Send(b.LocalAddr(), []byte("first"))
	<-sub.got

	b.Unsubscribe(sub)

	// Post a no-op through b's event loop and wait for it, as a barrier
	// guaranteeing the Unsubscribe job has been processed before we send
	// the next datagram.
	barrier := make(chan struct{})
	b.Post(func() { close(barrier) })
	<-barrier

	a.Send(b.LocalAddr(), []byte("second"))

	select {
	case got := <-sub.got:
		t.Fatalf("unsubscribed subscriber still received %q", got)
	case <-time.After(300 * time.Millisecond):
		// expected: no delivery
	}
}

func TestMultipleSubscribersRegistrationOrder(t *testing.T) {
	a := startTransport(t)
	b := startTransport(t)

	var order []int
	done := make(chan struct{})
	mk := func(i int) *orderSub {
		return &orderSub{i: i, order: &order, done: done}
	}
	s1, s2 := mk(1), mk(2)
	b.Subscribe(s1)
	b.Subscribe(s2)

	a.Send(b.LocalAddr(), []byte("x"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for both subscribers")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("dispatch order = %v, want [1 2]", order)
	}
}

type orderSub struct {
	i     int
	order *[]int
	done  chan struct{}
	fired bool
}

func (s *orderSub) HandleMessage(peer natendpoint.Endpoint, data []byte) {
	*s.order = append(*s.order, s.i)
	if len(*s.order) == 2 {
		close(s.done)
	}
}

func TestShutdownReturns(t *testing.T) {
	tr := New(nil)
	if err := tr.Start(mustLocalhost(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan struct{})
	go func() {
		tr.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}
