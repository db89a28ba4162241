package relay

import (
	"context"
	"io"
	"io/ioutil"
	"net"
	"testing"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"
)

// newTestPeerConn wires a peerConn onto a real jsonrpc2 connection over an
// in-memory pipe so error replies have somewhere to go.
func newTestPeerConn(t *testing.T) (*peerConn, func()) {
	t.Helper()

	server, client := net.Pipe()
	go io.Copy(ioutil.Discard, client)

	p := &peerConn{registry: NewRegistry(), id: "p1"}
	conn := jsonrpc2.NewConn(
		context.Background(),
		jsonrpc2.NewBufferedStream(server, jsonrpc2.VSCodeObjectCodec{}),
		p,
	)
	p.bind(context.Background(), conn)

	return p, func() {
		conn.Close()
		client.Close()
	}
}

// A request with no params field leaves req.Params nil; the handler must
// reject it instead of unwinding the connection's read goroutine.
func TestHandleMissingParams(t *testing.T) {
	p, cleanup := newTestPeerConn(t)
	defer cleanup()

	for _, method := range []string{"join", "leave", "signal"} {
		t.Run(method, func(t *testing.T) {
			req := &jsonrpc2.Request{Method: method, ID: jsonrpc2.ID{Num: 1}}
			require.NotPanics(t, func() { p.Handle(p.ctx, p.conn, req) })
		})
	}

	// the connection must still serve well-formed requests afterwards
	req := &jsonrpc2.Request{Method: "ping", ID: jsonrpc2.ID{Num: 2}}
	require.NotPanics(t, func() { p.Handle(p.ctx, p.conn, req) })
}
