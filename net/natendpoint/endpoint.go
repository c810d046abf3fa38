// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package natendpoint defines the address type shared by the natchk
// client and server: an IPv4 or IPv6 socket address used both as an
// in-memory value and, via net/natwire, an on-wire payload.
package natendpoint

import (
	"fmt"

	"inet.af/netaddr"
)

// Endpoint is a family-qualified socket address: an IP plus a port.
//
// Equality compares family, address bytes, and port (see Endpoint.Equal).
// The zero Endpoint is invalid; use New or Parse to construct one.
type Endpoint struct {
	ipp netaddr.IPPort
}

// New returns the Endpoint for ip:port.
func New(ip netaddr.IP, port uint16) Endpoint {
	return Endpoint{ipp: netaddr.IPPortFrom(ip, port)}
}

// Parse parses "host:port" into an Endpoint. host must be a literal IPv4 or
// IPv6 address, not a DNS name.
func Parse(hostport string) (Endpoint, error) {
	ipp, err := netaddr.ParseIPPort(hostport)
	if err != nil {
		return Endpoint{}, fmt.Errorf("natendpoint: %w", err)
	}
	return Endpoint{ipp: ipp}, nil
}

// FromIPPort wraps an already-parsed netaddr.IPPort, e.g. one produced by
// netaddr.FromStdAddr from a *net.UDPAddr handed to us by ReadFromUDP.
func FromIPPort(ipp netaddr.IPPort) Endpoint {
	return Endpoint{ipp: ipp}
}

// IP returns the endpoint's address.
func (e Endpoint) IP() netaddr.IP { return e.ipp.IP() }

// Port returns the endpoint's port.
func (e Endpoint) Port() uint16 { return e.ipp.Port() }

// IPPort returns the netaddr.IPPort backing this Endpoint.
func (e Endpoint) IPPort() netaddr.IPPort { return e.ipp }

// IsValid reports whether e holds a real address.
func (e Endpoint) IsValid() bool { return e.ipp.IP().IsValid() }

// Equal reports whether e and o denote the same family, address, and port.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.ipp == o.ipp
}

// Less orders endpoints lexicographically by textual address, then
// numerically by port. It exists so Endpoint can be used as a sorted map
// key in tests; it has no protocol meaning.
func (e Endpoint) Less(o Endpoint) bool {
	ea, oa := e.ipp.IP().String(), o.ipp.IP().String()
	if ea != oa {
		return ea < oa
	}
	return e.ipp.Port() < o.ipp.Port()
}

func (e Endpoint) String() string {
	return e.ipp.String()
}
