// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package natcheck

import "testing"

func TestSymmetricFromSamePortEverywhere(t *testing.T) {
	obs := []observation{
		{ep: ep(t, "198.51.100.1:4000"), ok: true},
		{ep: ep(t, "198.51.100.1:4000"), ok: true},
		{ep: ep(t, "198.51.100.1:4000"), ok: true},
	}
	if symmetricFrom(obs) {
		t.Error("symmetricFrom = true, want false (same IP and port from every server)")
	}
}

func TestSymmetricFromDifferentPortSameIP(t *testing.T) {
	obs := []observation{
		{ep: ep(t, "198.51.100.1:4000"), ok: true},
		{ep: ep(t, "198.51.100.1:4001"), ok: true},
	}
	if !symmetricFrom(obs) {
		t.Error("symmetricFrom = false, want true (same IP, different ports)")
	}
}

func TestSymmetricFromDifferentIP(t *testing.T) {
	obs := []observation{
		{ep: ep(t, "198.51.100.1:4000"), ok: true},
		{ep: ep(t, "198.51.100.2:4000"), ok: true},
	}
	if !symmetricFrom(obs) {
		t.Error("symmetricFrom = false, want true (observations span multiple IPs)")
	}
}

func TestSymmetricFromIgnoresFailedObservations(t *testing.T) {
	obs := []observation{
		{ep: ep(t, "198.51.100.1:4000"), ok: true},
		{ok: false},
		{ok: false},
	}
	if symmetricFrom(obs) {
		t.Error("symmetricFrom = true, want false (only one successful observation)")
	}
}

func TestSymmetricFromAllFailed(t *testing.T) {
	obs := []observation{{ok: false}, {ok: false}}
	if symmetricFrom(obs) {
		t.Error("symmetricFrom = true, want false (no successful observations)")
	}
}

func TestSymmetricFromSingleObservation(t *testing.T) {
	obs := []observation{{ep: ep(t, "198.51.100.1:4000"), ok: true}}
	if symmetricFrom(obs) {
		t.Error("symmetricFrom = true, want false (only one server responded)")
	}
}
