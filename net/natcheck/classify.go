// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package natcheck

import (
	"golang.org/x/sync/errgroup"

	"github.com/nat-probe/natchk/internal/logx"
	"github.com/nat-probe/natchk/net/interfaces"
	"github.com/nat-probe/natchk/net/natendpoint"
	"github.com/nat-probe/natchk/net/natsock"
)

// Result is the outcome of a classification run: a verdict plus, for
// UNKNOWN, a short human-readable reason.
type Result struct {
	Verdict Verdict
	Reason  string
}

// Classify runs the decision tree of spec.md §4.2 against transport and
// returns exactly one verdict. transport must already be started; Classify
// does not shut it down — the caller does that once Classify returns,
// matching "The classifier lives for the duration of one classification
// run, then initiates transport shutdown" (spec.md §3 Lifecycles).
//
// By the time Classify returns, every probe task it launched has reached
// its own completion (success or exhaustion) and deregistered — nothing
// is still posting to transport. That is what makes it safe for the
// caller to shut transport down immediately afterward (spec.md §5: a
// shutdown while probes are live is not contemplated). log may be nil.
func Classify(transport *natsock.Transport, log *logx.Logger, servers ServerList) Result {
	if len(servers) == 0 {
		return Result{Verdict: Unknown, Reason: "no servers configured"}
	}

	observed, ok := getAddrBlocking(transport, log, servers.Primary())
	if !ok {
		return Result{Verdict: Unknown, Reason: "GetAddr to primary server exhausted"}
	}
	log.Infof("natcheck: observed address %v via %v", observed, servers.Primary())

	localAddrs, err := interfaces.LocalAddrs()
	if err != nil {
		log.Warnf("natcheck: enumerating local interfaces: %v", err)
	}
	if interfaces.AnyHasIP(localAddrs, observed.IP()) {
		return Result{Verdict: Public}
	}

	if !servers.HasAlternate() {
		return Result{Verdict: Unknown, Reason: "fewer than 2 servers configured; cannot run full-cone or symmetric tests"}
	}

	if checkFullConeBlocking(transport, log, servers.Primary(), servers.Alternate()) {
		return Result{Verdict: FullCone}
	}

	if symmetricFromServers(transport, log, servers) {
		return Result{Verdict: Symmetric}
	}

	if checkRestrictedConeBlocking(transport, log, servers.Primary()) {
		return Result{Verdict: RestrictedCone}
	}
	return Result{Verdict: PortRestrictedCone}
}

// getAddrBlocking runs one GetAddr task to completion and returns its
// outcome, bridging the task's callback back to this (non-event)
// goroutine with a one-shot channel.
func getAddrBlocking(transport *natsock.Transport, log *logx.Logger, target natendpoint.Endpoint) (natendpoint.Endpoint, bool) {
	done := make(chan struct {
		ep natendpoint.Endpoint
		ok bool
	}, 1)
	StartGetAddr(transport, log, target, func(ep natendpoint.Endpoint, ok bool) {
		done <- struct {
			ep natendpoint.Endpoint
			ok bool
		}{ep, ok}
	})
	r := <-done
	return r.ep, r.ok
}

func checkFullConeBlocking(transport *natsock.Transport, log *logx.Logger, primary, alternate natendpoint.Endpoint) bool {
	done := make(chan bool, 1)
	StartCheckFullCone(transport, log, primary, alternate, func(ok bool) { done <- ok })
	return <-done
}

func checkRestrictedConeBlocking(transport *natsock.Transport, log *logx.Logger, target natendpoint.Endpoint) bool {
	done := make(chan bool, 1)
	StartCheckRestrictedCone(transport, log, target, func(ok bool) { done <- ok })
	return <-done
}

// observation is one server's GetAddr outcome during the symmetric fan-out.
type observation struct {
	ep natendpoint.Endpoint
	ok bool
}

// symmetricFromServers launches GetAddr against every configured server
// concurrently (spec.md §4.2 step 5: "parallel fan-out, not sequential"),
// waits for all of them to reach their own natural completion — there is
// no cancellation (spec.md §5) — and applies the symmetric rules to
// whichever observations came back.
//
// spec.md notes the first rule is checked "incrementally as each
// observation arrives" while the second is evaluated only once every
// probe has finished. Because no in-flight probe can be cancelled early
// even once the first rule already proves SYMMETRIC, this classifier must
// wait for every launched GetAddr to finish regardless (see DESIGN.md,
// open question 1) — so evaluating both rules together, once, over the
// final observation set yields the identical verdict as checking the
// first one early would have.
func symmetricFromServers(transport *natsock.Transport, log *logx.Logger, servers ServerList) bool {
	obs := make([]observation, len(servers))

	var eg errgroup.Group
	for i, s := range servers {
		i, s := i, s
		eg.Go(func() error {
			ep, ok := getAddrBlocking(transport, log, s)
			obs[i] = observation{ep: ep, ok: ok}
			return nil
		})
	}
	eg.Wait() // errgroup.Group.Go's func never returns an error here; nothing to check.

	return symmetricFrom(obs)
}

func symmetricFrom(obs []observation) bool {
	var seen []natendpoint.Endpoint
	for _, o := range obs {
		if !o.ok {
			// An exhausted GetAddr contributes nothing; it never forces a
			// verdict either way (spec.md §4.2 step 5, open question 1).
			continue
		}
		for _, prior := range seen {
			if prior.IP() == o.ep.IP() && prior.Port() != o.ep.Port() {
				return true
			}
		}
		seen = append(seen, o.ep)
	}
	if len(seen) < 2 {
		return false
	}
	firstIP := seen[0].IP()
	for _, ep := range seen[1:] {
		if ep.IP() != firstIP {
			return true
		}
	}
	return false
}
