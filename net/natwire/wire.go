// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package natwire implements the private, fixed-width framing used between
// the natchk client and server: a one-byte message id followed by an
// optional payload. This format is private to natchk; it is not STUN and
// makes no attempt at RFC compliance.
package natwire

import (
	"fmt"

	"inet.af/netaddr"

	"github.com/nat-probe/natchk/net/natendpoint"
)

// ID identifies a message kind. See the wire protocol table in SPEC_FULL.md
// §6: client and server must agree on these values, but their numbering is
// otherwise arbitrary.
type ID byte

const (
	GetAddr           ID = 1 // client -> server, no payload
	Addr              ID = 2 // server -> client, payload: sender-as-seen endpoint
	ChkFullCone       ID = 3 // client -> primary, payload: alternate-server endpoint
	SendFullCone      ID = 4 // primary -> alternate, payload: client endpoint
	FullCone          ID = 5 // alternate -> client, no payload
	ChkRestrictedCone ID = 6 // client -> primary, no payload
	RestrictedCone    ID = 7 // sibling -> client, no payload
)

func (id ID) String() string {
	switch id {
	case GetAddr:
		return "GETADDR"
	case Addr:
		return "ADDR"
	case ChkFullCone:
		return "CHKFULLCONE"
	case SendFullCone:
		return "SENDFULLCONE"
	case FullCone:
		return "FULLCONE"
	case ChkRestrictedCone:
		return "CHKRESTRICTEDCONE"
	case RestrictedCone:
		return "RESTRICTEDCONE"
	default:
		return fmt.Sprintf("ID(%d)", byte(id))
	}
}

// family tags for the endpoint payload. These are natchk's own private
// encoding, not the kernel's AF_INET/AF_INET6 values, even though they
// play the same family-prefix role that original_source/endpoint.cpp's
// sockaddr_in/sockaddr_in6 union does.
const (
	family4 = 1
	family6 = 2

	v4Len = 1 + 4 + 2  // family + address + port
	v6Len = 1 + 16 + 2 // family + address + port
)

// EncodeEndpoint appends the wire encoding of ep to buf and returns the
// result, in the same family-prefixed raw-address shape as
// original_source/endpoint.cpp's serializeToArray.
func EncodeEndpoint(buf []byte, ep natendpoint.Endpoint) []byte {
	ip := ep.IP()
	port := ep.Port()
	if ip.Is4() {
		a := ip.As4()
		buf = append(buf, family4)
		buf = append(buf, a[:]...)
		return appendPort(buf, port)
	}
	a := ip.As16()
	buf = append(buf, family6)
	buf = append(buf, a[:]...)
	return appendPort(buf, port)
}

func appendPort(buf []byte, port uint16) []byte {
	return append(buf, byte(port>>8), byte(port))
}

// DecodeEndpoint parses the family-prefixed payload written by
// EncodeEndpoint. It rejects any family byte other than family4/family6
// and any payload shorter than the family's fixed size (spec.md §4.4:
// "rejects anything else").
func DecodeEndpoint(buf []byte) (natendpoint.Endpoint, error) {
	if len(buf) < 1 {
		return natendpoint.Endpoint{}, fmt.Errorf("natwire: empty endpoint payload")
	}
	switch buf[0] {
	case family4:
		if len(buf) < v4Len {
			return natendpoint.Endpoint{}, fmt.Errorf("natwire: short ipv4 endpoint payload (%d bytes)", len(buf))
		}
		ip := netaddr.IPv4(buf[1], buf[2], buf[3], buf[4])
		port := uint16(buf[5])<<8 | uint16(buf[6])
		return natendpoint.New(ip, port), nil
	case family6:
		if len(buf) < v6Len {
			return natendpoint.Endpoint{}, fmt.Errorf("natwire: short ipv6 endpoint payload (%d bytes)", len(buf))
		}
		var raw [16]byte
		copy(raw[:], buf[1:17])
		ip := netaddr.IPv6Raw(raw)
		port := uint16(buf[17])<<8 | uint16(buf[18])
		return natendpoint.New(ip, port), nil
	default:
		return natendpoint.Endpoint{}, fmt.Errorf("natwire: unknown address family tag %d", buf[0])
	}
}

// EncodeMessage builds a complete wire message: the id byte followed by an
// optional endpoint payload.
func EncodeMessage(id ID, payload *natendpoint.Endpoint) []byte {
	buf := make([]byte, 0, 1+v6Len)
	buf = append(buf, byte(id))
	if payload != nil {
		buf = EncodeEndpoint(buf, *payload)
	}
	return buf
}

// Message is a decoded incoming datagram.
type Message struct {
	ID      ID
	Payload []byte // raw bytes after the id byte, possibly empty
}

// Decode splits a raw datagram into its message id and payload. It does not
// interpret the payload; callers that expect an endpoint call
// DecodeEndpoint on Payload themselves, since only some message kinds carry
// one.
func Decode(raw []byte) (Message, error) {
	if len(raw) < 1 {
		return Message{}, fmt.Errorf("natwire: empty datagram")
	}
	return Message{ID: ID(raw[0]), Payload: raw[1:]}, nil
}
