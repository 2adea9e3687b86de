// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tcpdemo wires a client and a listener through an in-process
// loopback Router and drives a connect, a one-way data transfer from
// client to server, and close cycle, to exercise the core end to end without a real
// network device underneath it.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lucidnet/tcpstack/config"
	"github.com/lucidnet/tcpstack/metrics"
	"github.com/lucidnet/tcpstack/stack"
	"github.com/lucidnet/tcpstack/tcp"
	"github.com/lucidnet/tcpstack/tcpip"
)

var (
	clientAddr string
	serverAddr string
	serverPort uint16
	payload    string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "tcpdemo",
		Short: "Drive a loopback TCP handshake, transfer, and close through the core.",
		RunE:  runDemo,
	}

	flags := root.Flags()
	flags.StringVar(&clientAddr, "client-addr", "10.0.0.1", "loopback address to bind the client endpoint to")
	flags.StringVar(&serverAddr, "server-addr", "10.0.0.2", "loopback address to bind the listening endpoint to")
	flags.Uint16Var(&serverPort, "server-port", 9000, "port the listener binds")
	flags.StringVar(&payload, "payload", "hello from tcpdemo", "data the client sends once connected")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log every segment at debug level")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	tuning := config.Default()
	manager := stack.NewEndpointManager(tuning, entry)

	serverRouter := newLoopbackRouter(manager, tcpip.Address(serverAddr), entry.WithField("side", "server"))
	clientRouter := newLoopbackRouter(manager, tcpip.Address(clientAddr), entry.WithField("side", "client"))

	listener := tcp.NewEndpoint(manager, serverRouter, tuning, entry.WithField("role", "listener"), metrics.NewEndpoint())
	if _, err := listener.Bind(tcpip.FullAddress{Addr: tcpip.Address(serverAddr), Port: serverPort}, false); err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}
	if err := listener.Listen(8); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	accepted := make(chan *tcp.Endpoint, 1)
	acceptErr := make(chan error, 1)
	go func() {
		ep, err := listener.Accept(false)
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- ep
	}()

	client := tcp.NewEndpoint(manager, clientRouter, tuning, entry.WithField("role", "client"), metrics.NewEndpoint())
	if err := client.Connect(tcpip.FullAddress{Addr: tcpip.Address(serverAddr), Port: serverPort}); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	entry.Info("client connected")

	var server *tcp.Endpoint
	select {
	case server = <-accepted:
		entry.Info("server accepted connection")
	case err := <-acceptErr:
		return fmt.Errorf("accept: %w", err)
	case <-time.After(5 * time.Second):
		return fmt.Errorf("accept: timed out")
	}

	if _, err := client.SendData([]byte(payload), false); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	data, err := readAll(server, len(payload))
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	entry.WithField("data", string(data)).Info("server received payload")

	if err := client.Close(true); err != nil {
		return fmt.Errorf("client close: %w", err)
	}
	if err := server.Close(true); err != nil {
		return fmt.Errorf("server close: %w", err)
	}
	if err := listener.Close(false); err != nil {
		return fmt.Errorf("listener close: %w", err)
	}

	entry.Info("demo complete")
	return nil
}

// readAll blocks until n bytes have accumulated from ep's read side or
// the peer half-closes, whichever happens first.
func readAll(ep *tcp.Endpoint, n int) ([]byte, error) {
	var out []byte
	for len(out) < n {
		chunk, err := ep.ReadData(n-len(out), false)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		out = append(out, chunk...)
	}
	return out, nil
}
