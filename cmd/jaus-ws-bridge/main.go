// Command jaus-ws-bridge is the process entry point of spec.md §6: it
// binds a WebSocket listener and a UDP socket one port above it, loads the
// message schema directory, and wires bridge.Bridge between them.
//
// Grounded on the teacher's main.go bootstrap idiom (flag.Parse +
// flagx.ArgsFromEnv + rtx.Must + prometheusx.MustStartPrometheus) and
// fkie_iop_json_connector/server.py's Server: the UDP socket binds to
// wsPort+1 on the IOP URI's host, with that same host:port as its default
// destination (Server.start's `default_dst=(iopHost, iopPort),
// interface=iopHost`).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/fkie/jaus-ws-bridge/address"
	"github.com/fkie/jaus-ws-bridge/addrevents"
	"github.com/fkie/jaus-ws-bridge/bridge"
	"github.com/fkie/jaus-ws-bridge/jausuri"
	"github.com/fkie/jaus-ws-bridge/message"
	"github.com/fkie/jaus-ws-bridge/schema"
	"github.com/fkie/jaus-ws-bridge/transport"
	"github.com/fkie/jaus-ws-bridge/wsserver"
	"github.com/fkie/jaus-ws-bridge/xlog"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	wsPort          = flag.Int("port", 9090, "WebSocket listen port. The UDP socket binds to port+1 on the IOP URI's host.")
	iopURI          = flag.String("iopUri", "", "IOP peer URI (scheme://host:port) the UDP socket binds against and targets by default.")
	schemesPath     = flag.String("schemesPath", "./schemes", "Directory to scan for message schema *.json files.")
	logLevel        = flag.String("logLevel", "info", "Log level: debug, info, warning, error, critical.")
	logMessagesFlag = flag.String("logMessages", "", "Comma-separated list of message ids to always log in full, regardless of -logLevel.")
	promAddr        = flag.String("prom", ":9990", "Prometheus metrics export address and port.")
	addreventsSock  = flag.String("addrevents.socket", "", "Optional Unix domain socket path to publish JAUS address connect/disconnect events on.")
)

// addressBookFunc adapts a plain func to transport.AddressBook.
type addressBookFunc func(address.Address)

func (f addressBookFunc) Remove(a address.Address) { f(a) }

func parseLogMessages(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	if *iopURI == "" {
		log.Fatal("-iopUri is required")
	}
	uri := jausuri.Split(*iopURI)
	if uri.Host == "" {
		log.Fatal("-iopUri must name a host")
	}

	promSrv := prometheusx.MustStartPrometheus(*promAddr)
	defer promSrv.Shutdown(context.Background())

	reg, err := schema.Load(*schemesPath)
	rtx.Must(err, "Could not load schema directory %q", *schemesPath)

	var events *addrevents.Server
	if *addreventsSock != "" {
		events = addrevents.New(*addreventsSock)
		rtx.Must(events.Listen(), "Could not listen on addrevents socket %q", *addreventsSock)
		go func() {
			if err := events.Serve(); err != nil {
				log.Printf("addrevents: serve exited: %v", err)
			}
		}()
		defer events.Close()
	}

	// br reaches the transport callbacks below through brRef, which is filled
	// in once the bridge has been built from the transport socket. The
	// receive loop starts inside transport.New, so a datagram that arrives
	// before then is dropped rather than handed to a nil bridge.
	var br *bridge.Bridge
	var brRef atomic.Value

	sock, err := transport.New(transport.Options{
		Host:       uri.Host,
		Port:       *wsPort + 1,
		DefaultDst: &message.Endpoint{Kind: message.UDP, Host: uri.Host, Port: uri.Port},
		Router: func(m *message.Message) {
			if b, ok := brRef.Load().(*bridge.Bridge); ok {
				b.HandleUDP(m)
			}
		},
		AddressBook: addressBookFunc(func(a address.Address) {
			if b, ok := brRef.Load().(*bridge.Bridge); ok {
				b.Remove(a)
			}
		}),
	})
	rtx.Must(err, "Could not bind UDP socket on %s:%d", uri.Host, *wsPort+1)
	defer sock.Close()

	var ev bridge.AddressEvents
	if events != nil {
		ev = events
	}
	br = bridge.New(reg, sock, ev)
	br.SetLogger(xlog.New(xlog.ParseLevel(*logLevel), parseLogMessages(*logMessagesFlag)))
	brRef.Store(br)

	wss := wsserver.New(fmt.Sprintf(":%d", *wsPort), br)
	go func() {
		rtx.Must(wss.ListenAndServe(), "WS server exited")
	}()
	log.Printf("jaus-ws-bridge: serving ws://0.0.0.0:%d, udp %s:%d <-> %s:%d", *wsPort, uri.Host, *wsPort+1, uri.Host, uri.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("jaus-ws-bridge: caught signal, shutting down")
	os.Exit(0)
}
