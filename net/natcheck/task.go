// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package natcheck

import (
	"time"

	"github.com/nat-probe/natchk/internal/logx"
	"github.com/nat-probe/natchk/net/natendpoint"
	"github.com/nat-probe/natchk/net/natsock"
	"github.com/nat-probe/natchk/net/natwire"
)

// task is the shared machinery behind GetAddr, CheckFullCone, and
// CheckRestrictedCone (spec.md §4.1): a periodic resend, a bounded retry
// counter, and a one-shot completion. It implements natsock.Subscriber
// so it can filter inbound datagrams itself — the transport does no
// filtering on its behalf.
//
// Apart from start, which only posts work and touches no task state,
// every method here runs on the natsock.Transport's single event
// goroutine: onTick is only ever invoked via transport.Post, and
// HandleMessage is only ever invoked by the transport's own dispatch job.
// That serialization is what lets tries/torn be read and written without
// a lock (spec.md §5: "no locks are required under this discipline").
type task struct {
	transport *natsock.Transport
	logf      logx.Logf
	name      string
	target    natendpoint.Endpoint // where the probe's datagram is sent
	interval  time.Duration
	maxTries  int
	tries     int
	timer     *time.Timer
	torn      bool

	send   func() []byte
	accept func(peer natendpoint.Endpoint, msg natwire.Message) bool
	onDone func(accepted bool, msg natwire.Message)
}

func (t *task) start() {
	t.transport.Subscribe(t)
	t.transport.Post(t.onTick)
}

func (t *task) onTick() {
	if t.torn {
		return
	}
	if t.tries >= t.maxTries {
		t.logf("natcheck: %s to %v exhausted after %d tries", t.name, t.target, t.tries)
		t.finish(false, natwire.Message{})
		return
	}
	t.tries++
	t.transport.Send(t.target, t.send())
	t.timer = time.AfterFunc(t.interval, func() { t.transport.Post(t.onTick) })
}

// HandleMessage implements natsock.Subscriber. It is invoked for every
// inbound datagram on the shared socket; non-matching datagrams are
// ignored without touching task state (spec.md §4.1 "Receive step").
func (t *task) HandleMessage(peer natendpoint.Endpoint, data []byte) {
	if t.torn {
		return
	}
	msg, err := natwire.Decode(data)
	if err != nil {
		return
	}
	if !t.accept(peer, msg) {
		return
	}
	t.finish(true, msg)
}

// finish tears the task down idempotently and invokes the completion
// exactly once, on success or exhaustion.
func (t *task) finish(accepted bool, msg natwire.Message) {
	if t.torn {
		return
	}
	t.torn = true
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.onDone != nil {
		t.onDone(accepted, msg)
	}
	t.transport.Unsubscribe(t)
}
