// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package natreflect

import (
	"github.com/nat-probe/natchk/internal/logx"
	"github.com/nat-probe/natchk/net/natendpoint"
	"github.com/nat-probe/natchk/net/natsock"
	"github.com/nat-probe/natchk/net/natwire"
)

// Reflector is one stateless per-datagram handler bound to its own
// natsock.Transport (spec.md §4.3: "one stateless handler per server").
// It is "lossless-best-effort": every incoming datagram is processed to
// completion synchronously on the transport's event goroutine; there is
// no queue and no backpressure.
type Reflector struct {
	transport *natsock.Transport
	registry  *Registry
	log       *logx.Logger // nil is a valid no-op logger
}

// NewReflector creates a Reflector bound to transport and registers it
// with registry so CHKRESTRICTEDCONE can find a sibling to relay through.
// transport must already be started. log may be nil.
func NewReflector(transport *natsock.Transport, registry *Registry, log *logx.Logger) *Reflector {
	r := &Reflector{transport: transport, registry: registry, log: log}
	registry.add(r)
	transport.Subscribe(r)
	return r
}

// HandleMessage implements natsock.Subscriber, dispatching on the leading
// message byte per spec.md §4.3's table.
func (r *Reflector) HandleMessage(peer natendpoint.Endpoint, data []byte) {
	msg, err := natwire.Decode(data)
	if err != nil {
		r.log.Warnf("natreflect: %v from %v", err, peer)
		return
	}

	switch msg.ID {
	case natwire.GetAddr:
		r.reflectAddr(peer)

	case natwire.ChkFullCone:
		r.relayFullConeRequest(peer, msg.Payload)

	case natwire.SendFullCone:
		r.deliverFullCone(msg.Payload)

	case natwire.ChkRestrictedCone:
		r.relayRestrictedCone(peer)

	default:
		r.log.Warnf("natreflect: unexpected message %v from %v", msg.ID, peer)
	}
}

// reflectAddr answers GETADDR with ADDR carrying the sender's own
// observed endpoint (spec.md §4.3, testable property 5).
func (r *Reflector) reflectAddr(peer natendpoint.Endpoint) {
	r.transport.Send(peer, natwire.EncodeMessage(natwire.Addr, &peer))
}

// relayFullConeRequest handles CHKFULLCONE: the payload carries the
// alternate server's endpoint the client wants contacted from. We (the
// primary) forward a SENDFULLCONE naming the client to that alternate, so
// it knows whom to pelt with FULLCONE (spec.md §4.3's "Important protocol
// invariant").
func (r *Reflector) relayFullConeRequest(client natendpoint.Endpoint, payload []byte) {
	alternate, err := natwire.DecodeEndpoint(payload)
	if err != nil {
		r.log.Warnf("natreflect: CHKFULLCONE from %v: %v", client, err)
		return
	}
	r.transport.Send(alternate, natwire.EncodeMessage(natwire.SendFullCone, &client))
}

// deliverFullCone handles SENDFULLCONE: this is the alternate server,
// told by the primary which client to contact. It sends FULLCONE
// directly to that client, previously-unseen source and all — a
// full-cone NAT is exactly the one that lets that through.
func (r *Reflector) deliverFullCone(payload []byte) {
	client, err := natwire.DecodeEndpoint(payload)
	if err != nil {
		r.log.Warnf("natreflect: SENDFULLCONE: %v", err)
		return
	}
	r.transport.Send(client, natwire.EncodeMessage(natwire.FullCone, nil))
}

// relayRestrictedCone handles CHKRESTRICTEDCONE: find any sibling
// reflector in this process and have it send RESTRICTEDCONE back to the
// original sender. If there is no sibling, the request is dropped — the
// client will time out to PORT_RESTRICTED_CONE, a safe default (spec.md
// §4.3, testable property 6).
func (r *Reflector) relayRestrictedCone(peer natendpoint.Endpoint) {
	sibling, ok := r.registry.anySibling(r)
	if !ok {
		r.log.Debugf("natreflect: no sibling to relay CHKRESTRICTEDCONE from %v, dropping", peer)
		return
	}
	sibling.transport.Send(peer, natwire.EncodeMessage(natwire.RestrictedCone, nil))
}
