// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package natreflect

import (
	"testing"
	"time"

	"github.com/nat-probe/natchk/net/natendpoint"
	"github.com/nat-probe/natchk/net/natsock"
	"github.com/nat-probe/natchk/net/natwire"
)

func mustLoopback(t *testing.T) natendpoint.Endpoint {
	t.Helper()
	ep, err := natendpoint.Parse("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ep
}

func startTransport(t *testing.T) *natsock.Transport {
	t.Helper()
	tr := natsock.New(nil)
	if err := tr.Start(mustLoopback(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(tr.Shutdown)
	return tr
}

type capturingSub struct {
	got chan natwire.Message
}

func newCapturingSub() *capturingSub {
	return &capturingSub{got: make(chan natwire.Message, 4)}
}

func (s *capturingSub) HandleMessage(peer natendpoint.Endpoint, data []byte) {
	msg, err := natwire.Decode(data)
	if err != nil {
		return
	}
	s.got <- msg
}

func recv(t *testing.T, ch chan natwire.Message) natwire.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return natwire.Message{}
	}
}

func TestReflectorAnswersGetAddrWithSenderEndpoint(t *testing.T) {
	serverTransport := startTransport(t)
	NewReflector(serverTransport, NewRegistry(), nil)

	clientTransport := startTransport(t)
	client := newCapturingSub()
	clientTransport.Subscribe(client)

	clientTransport.Send(serverTransport.LocalAddr(), natwire.EncodeMessage(natwire.GetAddr, nil))

	msg := recv(t, client.got)
	if msg.ID != natwire.Addr {
		t.Fatalf("got message id %v, want ADDR", msg.ID)
	}
	got, err := natwire.DecodeEndpoint(msg.Payload)
	if err != nil {
		t.Fatalf("DecodeEndpoint: %v", err)
	}
	if got.IP() != clientTransport.LocalAddr().IP() {
		t.Errorf("reflected IP = %v, want %v", got.IP(), clientTransport.LocalAddr().IP())
	}
}

// Full-cone relay: client -> primary (CHKFULLCONE naming alternate) ->
// alternate (SENDFULLCONE naming client) -> client (FULLCONE), spec.md
// §4.3's "Important protocol invariant".
func TestReflectorFullConeRelay(t *testing.T) {
	registry := NewRegistry()
	primaryTransport := startTransport(t)
	NewReflector(primaryTransport, registry, nil)
	alternateTransport := startTransport(t)
	NewReflector(alternateTransport, registry, nil)

	clientTransport := startTransport(t)
	client := newCapturingSub()
	clientTransport.Subscribe(client)

	alternate := alternateTransport.LocalAddr()
	clientTransport.Send(primaryTransport.LocalAddr(), natwire.EncodeMessage(natwire.ChkFullCone, &alternate))

	msg := recv(t, client.got)
	if msg.ID != natwire.FullCone {
		t.Fatalf("got message id %v, want FULLCONE", msg.ID)
	}
}

// Restricted-cone relay needs a sibling in the registry; with only one
// reflector registered, the request is dropped silently.
func TestReflectorRestrictedConeDropsWithoutSibling(t *testing.T) {
	serverTransport := startTransport(t)
	NewReflector(serverTransport, NewRegistry(), nil)

	clientTransport := startTransport(t)
	client := newCapturingSub()
	clientTransport.Subscribe(client)

	clientTransport.Send(serverTransport.LocalAddr(), natwire.EncodeMessage(natwire.ChkRestrictedCone, nil))

	select {
	case msg := <-client.got:
		t.Fatalf("expected no reply, got %v", msg.ID)
	case <-time.After(300 * time.Millisecond):
		// expected: dropped
	}
}

// With a sibling present, CHKRESTRICTEDCONE is relayed: the sibling sends
// RESTRICTEDCONE back to the original client, not the reflector the
// request was addressed to.
func TestReflectorRestrictedConeRelaysViaSibling(t *testing.T) {
	registry := NewRegistry()
	primaryTransport := startTransport(t)
	NewReflector(primaryTransport, registry, nil)
	siblingTransport := startTransport(t)
	NewReflector(siblingTransport, registry, nil)

	clientTransport := startTransport(t)
	client := newCapturingSub()
	clientTransport.Subscribe(client)

	clientTransport.Send(primaryTransport.LocalAddr(), natwire.EncodeMessage(natwire.ChkRestrictedCone, nil))

	msg := recv(t, client.got)
	if msg.ID != natwire.RestrictedCone {
		t.Fatalf("got message id %v, want RESTRICTEDCONE", msg.ID)
	}
}

func TestRegistryAnySiblingExcludesSelf(t *testing.T) {
	registry := NewRegistry()
	a := &Reflector{}
	registry.add(a)

	if _, ok := registry.anySibling(a); ok {
		t.Error("anySibling found a sibling with only self registered")
	}

	b := &Reflector{}
	registry.add(b)
	got, ok := registry.anySibling(a)
	if !ok || got != b {
		t.Errorf("anySibling(a) = %v, %v; want %v, true", got, ok, b)
	}
}
