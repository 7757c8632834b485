package core

import "fmt"

// The error kinds below are the stable, testable taxonomy from the
// control-plane error handling design: each is a distinct type so
// callers can use errors.As to branch on kind, and each carries the
// context needed to log or surface a message to a query client.

// ErrConfigInvalid indicates a startup configuration problem (a
// malformed kind-map entry, an unresolvable GVR, or a cluster below a
// kind's minimum server version). Fatal: the process exits non-zero before serving.
type ErrConfigInvalid struct {
	Reason string
}

func (e *ErrConfigInvalid) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// ErrResourceLookupFailed wraps a transport-layer failure from the
// Resource Adapter's list call.
type ErrResourceLookupFailed struct {
	Cause error
}

func (e *ErrResourceLookupFailed) Error() string {
	return fmt.Sprintf("resource lookup failed: %s", e.Cause)
}

func (e *ErrResourceLookupFailed) Unwrap() error { return e.Cause }

// ErrNoMatch indicates the Selector's filtering pipeline left no
// surviving candidate.
type ErrNoMatch struct{}

func (e *ErrNoMatch) Error() string { return "no candidate matched the request" }

// ErrOvercapacity indicates the label-arithmetic load-balancing policy
// rejected every candidate on headroom.
type ErrOvercapacity struct{}

func (e *ErrOvercapacity) Error() string { return "no candidate has headroom" }

// ErrAddressExtractionFailed indicates the chosen candidate's address
// or port could not be extracted per the configured paths.
type ErrAddressExtractionFailed struct {
	Reason string
}

func (e *ErrAddressExtractionFailed) Error() string {
	return fmt.Sprintf("address extraction failed: %s", e.Reason)
}

// ErrUnknownResourceType indicates the request's resourceType key is
// not present in the configured kind-map.
type ErrUnknownResourceType struct {
	ResourceType string
}

func (e *ErrUnknownResourceType) Error() string {
	return fmt.Sprintf("unknown resource type %q", e.ResourceType)
}

// ErrUnknownToken indicates a UDP control packet carried a token with
// no live Token Cache entry (unknown or expired — the two are
// indistinguishable by design).
type ErrUnknownToken struct{}

func (e *ErrUnknownToken) Error() string { return "unknown or expired token" }

// ErrSessionAbsent indicates a TCP accept could not resolve any
// Session for the connecting endpoint and no default binding is
// configured.
type ErrSessionAbsent struct{}

func (e *ErrSessionAbsent) Error() string { return "no session for endpoint" }

// ErrDialFailed indicates the TCP data plane could not dial the
// bound backend.
type ErrDialFailed struct {
	Binding Binding
	Cause   error
}

func (e *ErrDialFailed) Error() string {
	return fmt.Sprintf("dial backend %s failed: %s", e.Binding.Host, e.Cause)
}

func (e *ErrDialFailed) Unwrap() error { return e.Cause }

// ErrClusterNotFound indicates the requested cluster is not
// registered with the tunnel provider.
type ErrClusterNotFound struct {
	Cluster string
}

func (e *ErrClusterNotFound) Error() string {
	return fmt.Sprintf("cluster %s not registered", e.Cluster)
}

// ErrNotReady indicates a required subsystem has not finished
// initializing yet.
type ErrNotReady struct {
	Subsystem string
}

func (e *ErrNotReady) Error() string {
	return fmt.Sprintf("%s not initialized", e.Subsystem)
}
