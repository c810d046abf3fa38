// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command natchk-server hosts one or more natchk reflectors in a single
// process, sharing a sibling registry so they can cooperate on the
// restricted-cone test (spec.md §4.3, §6). The full-cone relay addresses
// the alternate server directly and does not use the registry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v2/ffcli"

	"github.com/nat-probe/natchk/internal/logx"
	"github.com/nat-probe/natchk/net/natendpoint"
	"github.com/nat-probe/natchk/net/natreflect"
	"github.com/nat-probe/natchk/net/natsock"
)

var args struct {
	listenUDP string
}

func main() {
	fs := flag.NewFlagSet("natchk-server", flag.ContinueOnError)
	fs.StringVar(&args.listenUDP, "l", "", "UDP binds to host, <ip>:<port>,<ip>:<port>,...")
	fs.StringVar(&args.listenUDP, "listen-udp", "", "UDP binds to host, <ip>:<port>,<ip>:<port>,...")

	cmd := &ffcli.Command{
		Name:       "natchk-server",
		ShortUsage: "natchk-server -l <ip>:<port>[,<ip>:<port>...]",
		ShortHelp:  "Host one or more natchk reflectors",
		FlagSet:    fs,
		Exec:       run,
	}

	if err := cmd.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "natchk-server:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, _ []string) error {
	if args.listenUDP == "" {
		return errors.New("-l/--listen-udp is required")
	}

	listenAddrs, err := parseListenList(args.listenUDP)
	if err != nil {
		return fmt.Errorf("invalid -l/--listen-udp %q: %w", args.listenUDP, err)
	}

	logger := logx.New()
	registry := natreflect.NewRegistry()

	var transports []*natsock.Transport
	for _, addr := range listenAddrs {
		t := natsock.New(logger)
		if err := t.Start(addr); err != nil {
			return fmt.Errorf("starting transport on %v: %w", addr, err)
		}
		natreflect.NewReflector(t, registry, logger)
		transports = append(transports, t)
		logger.Infof("natchk-server: reflector listening on %v", addr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Infof("natchk-server: shutting down")
	for _, t := range transports {
		t.Shutdown()
	}
	return nil
}

func parseListenList(s string) ([]natendpoint.Endpoint, error) {
	parts := strings.Split(s, ",")
	var out []natendpoint.Endpoint
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ep, err := natendpoint.Parse(p)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	if len(out) == 0 {
		return nil, errors.New("empty listen list")
	}
	return out, nil
}
