// Package cache keeps a cache of classified UDP sender endpoints, so the
// transport's receive loop doesn't re-walk the local interface list for
// every datagram from a peer it has already seen.
//
// Adapted from the teacher's cache.Cache (a process-lifetime map of
// inode -> most recent ParsedMessage, swapped each polling cycle): the
// underlying shape — a plain map guarding state that's read far more than
// written — carries over, but there is no generational Update/EndCycle
// here, because an endpoint's classification never goes stale the way a
// polled connection snapshot does.
package cache

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/fkie/jaus-ws-bridge/message"
)

// Cache maps (host, port) to its classified message.Endpoint.
type Cache struct {
	mu      sync.Mutex
	entries map[string]message.Endpoint
	locals  map[string]bool
}

// NewCache builds a Cache seeded with every address bound to a local
// interface, so first-sight classification of a loopback sender doesn't
// need a syscall.
func NewCache() *Cache {
	locals := map[string]bool{"localhost": true, "127.0.0.1": true, "::1": true}
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok {
				locals[ipNet.IP.String()] = true
			}
		}
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		locals[hostname] = true
	}
	return &Cache{entries: make(map[string]message.Endpoint), locals: locals}
}

// Classify returns the cached Endpoint for (host, port), computing and
// caching it on first sight: a host matching a local interface address
// classifies as message.UDPLocal, otherwise message.UDP.
func (c *Cache) Classify(host string, port int) message.Endpoint {
	key := fmt.Sprintf("%s:%d", host, port)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ep, ok := c.entries[key]; ok {
		return ep
	}
	kind := message.UDP
	if c.locals[host] {
		kind = message.UDPLocal
	}
	ep := message.Endpoint{Kind: kind, Host: host, Port: port}
	c.entries[key] = ep
	return ep
}

// Len reports how many distinct (host, port) pairs have been classified.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
