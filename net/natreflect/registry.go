// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package natreflect implements the server side of natchk: the
// five-message reflection protocol of spec.md §4.3, plus the sibling
// registry that lets co-hosted reflectors cooperate on the restricted-cone
// test. The full-cone relay sends to the endpoint named in the request and
// does not consult the registry.
package natreflect

import "sync"

// Registry is an explicitly constructed collaborator shared by every
// Reflector hosted in one process. spec.md §9 calls out the source's
// "process-wide sibling registry" (a static vector of server pointers) as
// a pattern needing re-architecture; here it's just a regular object
// passed to each Reflector's constructor, not process-wide state.
type Registry struct {
	mu      sync.Mutex
	members []*Reflector
}

// NewRegistry returns an empty registry. Reflectors register themselves
// with it via NewReflector.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) add(refl *Reflector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = append(r.members, refl)
}

// anySibling returns some registered Reflector other than self, if one
// exists. Used for the CHKRESTRICTEDCONE relay (spec.md §4.3): "find any
// sibling server that is not self."
func (r *Registry) anySibling(self *Reflector) (*Reflector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m != self {
			return m, true
		}
	}
	return nil, false
}
