// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package natcheck implements the client side of natchk: the probe task
// family and the classifier decision tree described in spec.md §4.1-§4.2.
package natcheck

import "github.com/nat-probe/natchk/net/natendpoint"

// Verdict is the classifier's terminal output (spec.md §3, §8 invariant 4).
type Verdict int

const (
	Unknown Verdict = iota
	Public
	FullCone
	RestrictedCone
	PortRestrictedCone
	Symmetric
)

func (v Verdict) String() string {
	switch v {
	case Public:
		return "PUBLIC"
	case FullCone:
		return "FULL_CONE"
	case RestrictedCone:
		return "RESTRICTED_CONE"
	case PortRestrictedCone:
		return "PORT_RESTRICTED_CONE"
	case Symmetric:
		return "SYMMETRIC"
	default:
		return "UNKNOWN"
	}
}

// ServerList is an ordered list of cooperating reflector servers
// (spec.md §3). Order matters: Primary is used for address discovery and
// the port-restricted-cone probe; Alternate is used for the full-cone
// test; the symmetric test visits every server.
type ServerList []natendpoint.Endpoint

// Primary is ServerList[0], used for GetAddr and CheckRestrictedCone.
func (s ServerList) Primary() natendpoint.Endpoint { return s[0] }

// Alternate is ServerList[1], used as the full-cone test's third party.
// Callers must check HasAlternate first.
func (s ServerList) Alternate() natendpoint.Endpoint { return s[1] }

// HasAlternate reports whether there are at least two servers, the
// precondition for the full-cone and symmetric steps (spec.md §4.2 step
// 3).
func (s ServerList) HasAlternate() bool { return len(s) >= 2 }
