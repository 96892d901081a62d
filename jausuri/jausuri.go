// Package jausuri splits the IOP endpoint URI accepted by the bridge's CLI
// (spec.md §6: "an IOP URI scheme://host:port") into its scheme, host, and
// port. Grounded on fkie_iop_json_connector/server.py's Server.splitUri,
// which tolerates several legacy shapes beyond a clean scheme://host:port:
// a bare "host:port", and an "SHM:...:port" shared-memory-style address
// some deployments still pass. Reproduced here so operators migrating an
// existing IOP URI keep working (SPEC_FULL §2, supplemented feature).
package jausuri

import (
	"net/url"
	"strconv"
	"strings"
)

// URI is the split form of an IOP endpoint address. Scheme is empty when
// the input carried none.
type URI struct {
	Scheme string
	Host   string
	Port   int
}

// Split parses uri using the same fallback chain as the source: first a
// standard URL parse, then a manual colon-split when that leaves no
// hostname, with a special case for the "SHM:host:port" and
// "SHM:[host]:port"-style addresses. Port is -1 if none could be
// determined, matching the source's default.
func Split(uri string) URI {
	if uri == "" {
		return URI{Port: -1}
	}

	if parsed, err := url.Parse(uri); err == nil && parsed.Hostname() != "" {
		port := -1
		if p := parsed.Port(); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				port = n
			}
		}
		return URI{Scheme: parsed.Scheme, Host: parsed.Hostname(), Port: port}
	}

	parts := strings.Split(uri, ":")
	switch {
	case len(parts) == 2:
		return URI{Host: parts[0], Port: atoiOr(parts[1], -1)}
	case len(parts) == 3 && parts[0] == "SHM":
		return URI{Host: "localhost", Port: atoiOr(parts[2], -1)}
	case len(parts) == 3:
		return URI{Host: strings.Trim(parts[1], "[]"), Port: atoiOr(parts[2], -1)}
	case len(parts) == 4 && parts[1] == "SHM":
		return URI{Host: "localhost", Port: atoiOr(parts[3], -1)}
	default:
		return URI{Host: uri, Port: -1}
	}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
