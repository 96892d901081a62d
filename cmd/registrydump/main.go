// Command registrydump loads every message schema registered under a
// directory and writes a CSV summary of what it found: one row per
// (message id, schema) pair, for operational inspection of what a running
// bridge can encode or decode without spinning one up.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"

	"github.com/fkie/jaus-ws-bridge/schema"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var schemaDir = flag.String("schemaDir", "", "directory to scan for message schema *.json files")

// row is one line of the CSV dump.
type row struct {
	MessageID     string `csv:"messageId"`
	MessageName   string `csv:"messageName"`
	PropertyCount int    `csv:"propertyCount"`
}

func toRows(reg *schema.Registry) []row {
	entries := reg.AllEntries()
	rows := make([]row, len(entries))
	for i, e := range entries {
		rows[i] = row{
			MessageID:     e.ID,
			MessageName:   e.Schema.Title,
			PropertyCount: len(e.Schema.Properties),
		}
	}
	return rows
}

func main() {
	flag.Parse()
	if *schemaDir == "" {
		log.Fatal("-schemaDir is required")
	}

	reg, err := schema.Load(*schemaDir)
	rtx.Must(err, "Could not load schema directory %q", *schemaDir)

	rtx.Must(gocsv.Marshal(toRows(reg), os.Stdout), "Could not write CSV")
}
