// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package interfaces

import "inet.af/netaddr"

// On Linux, IPv4 link-local addresses are never the address a NAT probe
// observes us from, so there's nothing to special-case: they're excluded
// the same way as on every other platform.
func isIP4LinkLocalUsable(ip netaddr.IP) bool {
	return false
}
