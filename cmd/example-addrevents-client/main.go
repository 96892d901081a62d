// example-addrevents-client is a minimal reference implementation of a
// bridge addrevents client: it connects to the Unix domain socket served by
// package addrevents and logs each JAUS address connect/disconnect event
// as it arrives.
//
// Adapted from the teacher's example-eventsocket-client, which does the
// same thing for TCP flow open/close events (eventsocket.MustRun's
// scan-a-JSONL-socket-until-closed loop).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"strings"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/fkie/jaus-ws-bridge/addrevents"
)

var socketPath = flag.String("addrevents.socket", "", "Path to the addrevents Unix domain socket to follow.")

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")
	if *socketPath == "" {
		log.Fatal("-addrevents.socket is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := net.Dial("unix", *socketPath)
	rtx.Must(err, "Could not connect to %q", *socketPath)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var evt addrevents.Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			log.Println("could not unmarshal event:", err)
			continue
		}
		log.Printf("%s %s at %s", evt.Address, evt.Event, evt.Timestamp)
	}

	if err := scanner.Err(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
		log.Fatalf("addrevents client scan died: %v", err)
	}
}
