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

// Per-kind parameters from spec.md §4.1's table.
const (
	getAddrInterval = 2000 * time.Millisecond
	getAddrMaxTries = 5

	checkFullConeInterval = 2000 * time.Millisecond
	checkFullConeMaxTries = 10

	checkRestrictedConeInterval = 2000 * time.Millisecond
	checkRestrictedConeMaxTries = 5
)

// StartGetAddr asks target to reflect our observed source address.
// onDone is called exactly once: with the decoded endpoint and ok=true on
// success, or a zero endpoint and ok=false if all retries were exhausted
// or the accepted ADDR reply carried a malformed endpoint payload.
//
// The task owns itself: the caller gets no handle, only the eventual
// callback (spec.md "Ownership": "the classifier retains no handle to
// it"). log may be nil.
func StartGetAddr(transport *natsock.Transport, log *logx.Logger, target natendpoint.Endpoint, onDone func(observed natendpoint.Endpoint, ok bool)) {
	t := &task{
		transport: transport,
		logf:      log.At(logx.Info),
		name:      "GetAddr",
		target:    target,
		interval:  getAddrInterval,
		maxTries:  getAddrMaxTries,
	}
	t.send = func() []byte {
		return natwire.EncodeMessage(natwire.GetAddr, nil)
	}
	t.accept = func(peer natendpoint.Endpoint, msg natwire.Message) bool {
		return msg.ID == natwire.Addr && peer.Equal(target)
	}
	t.onDone = func(accepted bool, msg natwire.Message) {
		if !accepted {
			onDone(natendpoint.Endpoint{}, false)
			return
		}
		observed, err := natwire.DecodeEndpoint(msg.Payload)
		if err != nil {
			// Protocol mismatch: a malformed ADDR payload (spec.md §7).
			log.Warnf("natcheck: GetAddr from %v: %v", target, err)
			onDone(natendpoint.Endpoint{}, false)
			return
		}
		onDone(observed, true)
	}
	t.start()
}

// StartCheckFullCone asks primary to have alternate contact us directly
// (spec.md §4.3's CHKFULLCONE/SENDFULLCONE/FULLCONE relay). onDone is
// called with true if alternate's FULLCONE datagram arrived, false on
// exhaustion.
//
// The acceptance condition is deliberately asymmetric: the request goes
// to primary, but only a reply from alternate counts — that asymmetry is
// the entire point of the full-cone test (spec.md §4.1). log may be nil.
func StartCheckFullCone(transport *natsock.Transport, log *logx.Logger, primary, alternate natendpoint.Endpoint, onDone func(ok bool)) {
	t := &task{
		transport: transport,
		logf:      log.At(logx.Info),
		name:      "CheckFullCone",
		target:    primary,
		interval:  checkFullConeInterval,
		maxTries:  checkFullConeMaxTries,
	}
	t.send = func() []byte {
		return natwire.EncodeMessage(natwire.ChkFullCone, &alternate)
	}
	t.accept = func(peer natendpoint.Endpoint, msg natwire.Message) bool {
		return msg.ID == natwire.FullCone && peer.Equal(alternate)
	}
	t.onDone = func(accepted bool, _ natwire.Message) {
		onDone(accepted)
	}
	t.start()
}

// StartCheckRestrictedCone asks target to have a sibling reflect a
// RESTRICTEDCONE datagram to us (spec.md §4.3). onDone is called with
// true if the sibling's reply arrived (RESTRICTED_CONE), false on
// exhaustion (PORT_RESTRICTED_CONE, the safe default). log may be nil.
func StartCheckRestrictedCone(transport *natsock.Transport, log *logx.Logger, target natendpoint.Endpoint, onDone func(restricted bool)) {
	t := &task{
		transport: transport,
		logf:      log.At(logx.Info),
		name:      "CheckRestrictedCone",
		target:    target,
		interval:  checkRestrictedConeInterval,
		maxTries:  checkRestrictedConeMaxTries,
	}
	t.send = func() []byte {
		return natwire.EncodeMessage(natwire.ChkRestrictedCone, nil)
	}
	t.accept = func(peer natendpoint.Endpoint, msg natwire.Message) bool {
		return msg.ID == natwire.RestrictedCone && peer.Equal(target)
	}
	t.onDone = func(accepted bool, _ natwire.Message) {
		onDone(accepted)
	}
	t.start()
}
