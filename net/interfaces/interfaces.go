// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package interfaces enumerates local network interface addresses. The
// natchk classifier uses it for exactly one thing: deciding whether an
// observed address matches an address already configured on this host
// (spec.md §4.2 step 2, the PUBLIC verdict).
package interfaces

import (
	"net"

	"inet.af/netaddr"
)

// Addr is a named local interface and its IPv4/IPv6 addresses, mirroring
// spec.md §3's InterfaceAddress: "name plus optional IPv4 and IPv6
// endpoints". Either IP may be invalid (IsValid() == false) if the
// interface has no usable address of that family.
type Addr struct {
	Name string
	V4   netaddr.IP
	V6   netaddr.IP
}

// HasIP reports whether ip matches this interface's IPv4 or IPv6 address.
func (a Addr) HasIP(ip netaddr.IP) bool {
	return (a.V4.IsValid() && a.V4 == ip) || (a.V6.IsValid() && a.V6 == ip)
}

// LocalAddrs enumerates the host's network interfaces once, returning one
// Addr per interface that has at least one usable address. Loopback and
// link-local addresses are excluded: they can never be what a public NAT
// probe observes, and including them would never help the PUBLIC check.
func LocalAddrs() ([]Addr, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []Addr
	for _, ifc := range ifs {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		var a Addr
		a.Name = ifc.Name
		for _, na := range addrs {
			ipNet, ok := na.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netaddr.FromStdIP(ipNet.IP)
			if !ok || !usable(ip) {
				continue
			}
			switch {
			case ip.Is4() && !a.V4.IsValid():
				a.V4 = ip
			case ip.Is6() && !a.V6.IsValid():
				a.V6 = ip
			}
		}
		if a.V4.IsValid() || a.V6.IsValid() {
			out = append(out, a)
		}
	}
	return out, nil
}

// usable reports whether ip is a plausible globally- or privately-routed
// unicast address — never loopback, and never link-local unless the
// platform hook in isIP4LinkLocalUsable says otherwise.
func usable(ip netaddr.IP) bool {
	if ip.IsLoopback() || !ip.IsValid() {
		return false
	}
	if ip.Is4() && ip.IsLinkLocalUnicast() {
		return isIP4LinkLocalUsable(ip)
	}
	if ip.Is6() && ip.IsLinkLocalUnicast() {
		return false
	}
	return true
}

// AnyHasIP reports whether any of addrs has ip as a local address — the
// implementation of spec.md §4.2 step 2.
func AnyHasIP(addrs []Addr, ip netaddr.IP) bool {
	for _, a := range addrs {
		if a.HasIP(ip) {
			return true
		}
	}
	return false
}
