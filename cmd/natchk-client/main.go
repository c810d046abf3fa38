// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command natchk-client classifies the NAT environment of the host it
// runs on by probing a cooperating pool of natchk-server reflectors
// (spec.md §1, §6).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v2/ffcli"

	"github.com/nat-probe/natchk/internal/logx"
	"github.com/nat-probe/natchk/net/natcheck"
	"github.com/nat-probe/natchk/net/natendpoint"
	"github.com/nat-probe/natchk/net/natsock"
)

var args struct {
	listenUDP string
	servers   string
}

func main() {
	fs := flag.NewFlagSet("natchk-client", flag.ContinueOnError)
	fs.StringVar(&args.listenUDP, "l", "", "local UDP bind, <ip>:<port>")
	fs.StringVar(&args.listenUDP, "listen-udp", "", "local UDP bind, <ip>:<port>")
	fs.StringVar(&args.servers, "s", "", "ordered reflector list, <ip>:<port>,<ip>:<port>,...")
	fs.StringVar(&args.servers, "servers", "", "ordered reflector list, <ip>:<port>,<ip>:<port>,...")

	cmd := &ffcli.Command{
		Name:       "natchk-client",
		ShortUsage: "natchk-client -l <ip>:<port> -s <ip>:<port>[,<ip>:<port>...]",
		ShortHelp:  "Classify this host's NAT environment",
		FlagSet:    fs,
		Exec:       run,
	}

	if err := cmd.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "natchk-client:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, _ []string) error {
	if args.listenUDP == "" || args.servers == "" {
		return errors.New("both -l/--listen-udp and -s/--servers are required")
	}

	listenAddr, err := natendpoint.Parse(args.listenUDP)
	if err != nil {
		return fmt.Errorf("invalid -l/--listen-udp %q: %w", args.listenUDP, err)
	}

	servers, err := parseServerList(args.servers)
	if err != nil {
		return fmt.Errorf("invalid -s/--servers %q: %w", args.servers, err)
	}

	logger := logx.New()

	transport := natsock.New(logger)
	if err := transport.Start(listenAddr); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}

	result := natcheck.Classify(transport, logger, servers)
	transport.Shutdown()

	if result.Reason != "" {
		logger.Warnf("natchk-client: %s", result.Reason)
	}
	logger.Infof("natchk-client: verdict %s", result.Verdict)
	fmt.Println(result.Verdict)
	return nil
}

func parseServerList(s string) (natcheck.ServerList, error) {
	parts := strings.Split(s, ",")
	var out natcheck.ServerList
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
		return nil, errors.New("empty server list")
	}
	return out, nil
}
