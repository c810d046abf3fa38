// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package natsock is the datagram transport external collaborator
// described in SPEC_FULL.md §2.1: a single bound UDP endpoint, a
// subscription surface for inbound datagrams, and an orderly shutdown.
//
// Everything mutable — the subscriber list, pending sends, shutdown state —
// is owned by one event goroutine. Other goroutines never touch it
// directly; they post closures onto the event goroutine's job queue, the
// Go reframing of original_source/async.h's AsyncHandler and
// original_source/udpsvc.cpp's posted-closure style (spec.md §9,
// "cross-thread posting").
package natsock

import (
	"fmt"
	"net"

	"inet.af/netaddr"

	"github.com/nat-probe/natchk/internal/logx"
	"github.com/nat-probe/natchk/net/natendpoint"
)

// Subscriber receives every inbound datagram on the transport's socket,
// in registration order, until it unsubscribes. It must filter by
// whatever (message id, peer) rule applies to it — the transport itself
// does no filtering (spec.md §4.1: "the task must filter... Non-matching
// datagrams are ignored silently").
type Subscriber interface {
	HandleMessage(peer natendpoint.Endpoint, data []byte)
}

const jobQueueDepth = 256

// Transport is a single bound UDP socket run by one event goroutine.
type Transport struct {
	log *logx.Logger // nil is a valid no-op logger

	jobs chan func()
	done chan struct{} // closed when the event loop goroutine exits

	conn        *net.UDPConn
	subscribers []Subscriber
}

// New returns a Transport that has not yet bound a socket. Call Start to
// bind and begin running the event loop. log may be nil.
func New(log *logx.Logger) *Transport {
	return &Transport{
		log:  log,
		jobs: make(chan func(), jobQueueDepth),
		done: make(chan struct{}),
	}
}

// Start binds listenAddr and begins the event loop and the read pump. It
// must be called exactly once, before any other method.
func (t *Transport) Start(listenAddr natendpoint.Endpoint) error {
	udpAddr := &net.UDPAddr{IP: listenAddr.IP().IPAddr().IP, Port: int(listenAddr.Port())}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("natsock: listen %v: %w", listenAddr, err)
	}
	t.conn = conn
	t.log.Infof("natsock: listening on %v", listenAddr)

	go t.runLoop()
	go t.runReadPump()
	return nil
}

// runLoop is the single event goroutine: it drains jobs in FIFO order.
// Every subscriber-list mutation, every send, and every inbound-datagram
// dispatch happens here and only here.
func (t *Transport) runLoop() {
	for job := range t.jobs {
		job()
	}
	close(t.done)
}

// runReadPump does nothing but the blocking socket read; it hands each
// datagram to the event loop as a posted job so dispatch itself is
// serialized with everything else (spec.md §5: "all socket reads...
// execute on this thread").
func (t *Transport) runReadPump() {
	buf := make([]byte, 64<<10)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			// Socket closed by Shutdown; stop pumping.
			return
		}
		if n == len(buf) {
			// A read that exactly fills the buffer may have been
			// truncated; drop it rather than risk misparsing a
			// partial message (spec.md §7 "partial datagram").
			t.log.Warnf("natsock: possible truncated datagram from %v, dropping", addr)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		ipp, ok := netaddr.FromStdAddr(addr.IP, addr.Port, addr.Zone)
		if !ok {
			t.log.Warnf("natsock: unparseable peer address %v", addr)
			continue
		}
		t.postRecv(natendpoint.FromIPPort(ipp), data)
	}
}

func (t *Transport) postRecv(peer natendpoint.Endpoint, data []byte) {
	t.Post(func() {
		for _, sub := range t.subscribers {
			sub.HandleMessage(peer, data)
		}
	})
}

// Post enqueues job to run on the event goroutine. Safe to call from any
// goroutine; jobs run in the order they were posted.
func (t *Transport) Post(job func()) {
	t.jobs <- job
}

// LocalAddr returns the address the transport's socket is bound to. Safe to
// call from any goroutine once Start has returned; the bound address never
// changes over the transport's lifetime.
func (t *Transport) LocalAddr() natendpoint.Endpoint {
	ipp, _ := netaddr.FromStdAddr(t.conn.LocalAddr().(*net.UDPAddr).IP, t.conn.LocalAddr().(*net.UDPAddr).Port, "")
	return natendpoint.FromIPPort(ipp)
}

// Send transmits data to peer. It returns synchronously once the send is
// enqueued; the transmission itself, and any error, happens later on the
// event loop and is only logged (spec.md §5: "the send path returns
// synchronously after enqueueing").
func (t *Transport) Send(peer natendpoint.Endpoint, data []byte) {
	t.Post(func() {
		addr := &net.UDPAddr{IP: peer.IP().IPAddr().IP, Port: int(peer.Port())}
		if _, err := t.conn.WriteToUDP(data, addr); err != nil {
			t.log.Errorf("natsock: send to %v: %v", peer, err)
		}
	})
}

// Subscribe registers sub to receive future inbound datagrams. A
// subscriber already registered is not added twice.
func (t *Transport) Subscribe(sub Subscriber) {
	t.Post(func() {
		for _, s := range t.subscribers {
			if s == sub {
				return
			}
		}
		t.subscribers = append(t.subscribers, sub)
	})
}

// Unsubscribe deregisters sub. If a dispatch for an already-in-flight
// datagram is executing when this job runs, that dispatch has already
// finished — Unsubscribe's closure cannot run until the job ahead of it
// (the dispatch) has returned, since both travel the same FIFO queue.
func (t *Transport) Unsubscribe(sub Subscriber) {
	t.Post(func() {
		for i, s := range t.subscribers {
			if s == sub {
				t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
				return
			}
		}
	})
}

// ShutdownAsync posts an orderly shutdown (stop the read pump by closing
// the socket, then drain and stop the event loop) and invokes cb once the
// socket is closed. cb runs on the event goroutine, before any jobs still
// queued behind the shutdown are drained and the loop exits.
func (t *Transport) ShutdownAsync(cb func()) {
	t.Post(func() {
		if t.conn != nil {
			if err := t.conn.Close(); err != nil {
				t.log.Warnf("natsock: close: %v", err)
			}
		}
		if cb != nil {
			cb()
		}
		close(t.jobs)
	})
}

// Shutdown synchronously tears the transport down: it posts the async
// shutdown and blocks until the event loop has drained and exited.
//
// Shutdown must not be called from the event goroutine itself (e.g. from
// inside a Subscriber.HandleMessage or a job passed to Post) — doing so
// deadlocks, since the event loop would be waiting on itself. That
// restriction is the caller's responsibility, matching
// original_source/udpsvc.cpp's synchronous shutdown(), which barrier-waits
// from a thread other than the uv loop thread.
func (t *Transport) Shutdown() {
	barrier := make(chan struct{})
	t.ShutdownAsync(func() { close(barrier) })
	<-barrier
	<-t.done
}
