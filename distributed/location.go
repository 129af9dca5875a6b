// Package distributed implements the networked peer of asyncoro's
// cooperative scheduler: UDP broadcast discovery, an authenticated peer
// table, length-prefixed TCP request/reply, and remote coroutine
// invocation across nodes.
package distributed

import "fmt"

// Location identifies a peer node by its reachable host and transport
// port, the same (host, port) key asyncoro.py's peer table uses.
type Location struct {
	Host string
	Port int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// Key returns a value suitable for use as a map key, identical to String
// but named for the call sites that use it that way.
func (l Location) Key() string { return l.String() }
