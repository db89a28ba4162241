// Package mesh owns the full mesh of point-to-point transports: one
// Transport per remote peer, driven through a small connection state
// machine, with handshakes relayed over the signaling channel.
package mesh

import "github.com/cryptagon/meetmesh/pkg/types"

// Transport wraps a single point-to-point connection to one remote peer.
// Implementations are single-use: once closed they are never reused.
//
// Callback setters must be invoked before Initiate. Callbacks may fire from
// transport-internal goroutines.
type Transport interface {
	// Initiate starts connection setup. The initiator creates the data
	// channel and produces the first offer via OnSignal; the responder
	// waits for the remote offer.
	Initiate(initiator bool) error

	// Signal applies an inbound handshake payload from the remote side.
	Signal(data types.SignalData) error

	// Send writes an application payload to the data channel.
	Send(payload []byte) error

	OnSignal(func(types.SignalData))
	OnData(func([]byte))
	OnConnect(func())
	OnClose(func())
	OnError(func(error))

	// Destroy closes the connection. Safe to call more than once.
	Destroy() error
}

// Factory builds a fresh Transport for a new remote peer.
type Factory func() (Transport, error)
