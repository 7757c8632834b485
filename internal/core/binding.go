// Package core holds the domain types and interfaces shared by every
// adapter: the backend binding and token vocabulary, the protocol and
// session-key types, and the ports the selector, caches, and data
// planes are built against.
package core

// Binding is an immutable record of a backend a client has been
// routed to: a host plus a mapping from configured port-name to the
// backend's port number for that name. Once constructed a Binding is
// never mutated; callers that need a new port-map or host construct a
// new Binding and replace the reference.
type Binding struct {
	Host  string
	Ports map[string]int32
}

// Equal reports whether two bindings have the same host and port-map.
func (b Binding) Equal(other Binding) bool {
	if b.Host != other.Host || len(b.Ports) != len(other.Ports) {
		return false
	}
	for name, port := range b.Ports {
		if other.Ports[name] != port {
			return false
		}
	}
	return true
}
