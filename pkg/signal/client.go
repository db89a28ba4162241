// Package signal implements the client side of the relay protocol: a
// websocket jsonrpc2 connection carrying room presence and directed
// handshake envelopes.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	websocketjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"

	relay "github.com/cryptagon/meetmesh/pkg"
	"github.com/cryptagon/meetmesh/pkg/logger"
	"github.com/cryptagon/meetmesh/pkg/types"
)

var log = logger.GetLogger().WithName("signal")

var (
	// ErrConnectionInit the relay is unreachable
	ErrConnectionInit = errors.New("signal: could not open connection to relay")
	// ErrNotConnected an operation was attempted before Connect
	ErrNotConnected = errors.New("signal: no connection established")
)

// Client is a websocket jsonrpc2 client for the signaling relay.
//
// Message dispatch holds exactly one handler per message type: the last
// OnMessage registration for a type wins. Upgrade to a handler list if
// multi-subscriber fan-out is ever required.
type Client struct {
	ctx    context.Context
	url    string
	peerID string
	token  string

	mu       sync.Mutex
	jc       *jsonrpc2.Conn
	handlers map[types.MessageType]func(types.Envelope)

	onPeerJoined func(roomID, peerID string)
	onPeerLeft   func(roomID, peerID string)
}

// NewClient constructor. The control channel is identified by peerID.
func NewClient(ctx context.Context, relayURL, peerID string) *Client {
	return &Client{
		ctx:      ctx,
		url:      relayURL,
		peerID:   peerID,
		handlers: make(map[types.MessageType]func(types.Envelope)),
	}
}

// SetToken attaches a relay access token to the next Connect.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Connect dials the relay and returns a channel closed on disconnect.
func (c *Client) Connect() (<-chan struct{}, error) {
	q := url.Values{"peer_id": {c.peerID}}
	if c.token != "" {
		q.Set("access_token", c.token)
	}
	endpoint := fmt.Sprintf("%s/ws?%s", c.url, q.Encode())

	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionInit, err)
	}

	c.mu.Lock()
	c.jc = jsonrpc2.NewConn(c.ctx, websocketjsonrpc2.NewObjectStream(conn), c)
	jc := c.jc
	c.mu.Unlock()

	return jc.DisconnectNotify(), nil
}

// Close disconnects the websocket
func (c *Client) Close() error {
	c.mu.Lock()
	jc := c.jc
	c.jc = nil
	c.mu.Unlock()

	if jc == nil {
		return nil
	}
	return jc.Close()
}

func (c *Client) conn() *jsonrpc2.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jc
}

// JoinRoom registers room presence. Returns the ids of members already in
// the room; they will learn about us through peer-joined notifications.
func (c *Client) JoinRoom(ctx context.Context, roomID string) ([]string, error) {
	jc := c.conn()
	if jc == nil {
		return nil, ErrNotConnected
	}

	log.V(1).Info("joining room", "room_id", roomID)
	var result relay.JoinResult
	if err := jc.Call(ctx, "join", &relay.JoinParams{RoomID: roomID}, &result); err != nil {
		return nil, fmt.Errorf("join room %q: %w", roomID, err)
	}
	return result.Peers, nil
}

// LeaveRoom unregisters room presence.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	jc := c.conn()
	if jc == nil {
		return ErrNotConnected
	}

	log.V(1).Info("leaving room", "room_id", roomID)
	var result struct{}
	if err := jc.Call(ctx, "leave", &relay.LeaveParams{RoomID: roomID}, &result); err != nil {
		return fmt.Errorf("leave room %q: %w", roomID, err)
	}
	return nil
}

// Send forwards a directed handshake envelope through the relay. Delivery
// is best effort with no retry; renegotiation belongs to the mesh layer.
func (c *Client) Send(env types.Envelope) error {
	jc := c.conn()
	if jc == nil {
		return ErrNotConnected
	}
	return jc.Notify(c.ctx, "signal", env)
}

// OnMessage registers the handler for one envelope type. Exactly one
// handler is held per type; the last registration wins.
func (c *Client) OnMessage(t types.MessageType, h func(types.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = h
}

// OnPeerJoined hooks the room peer-joined notification.
func (c *Client) OnPeerJoined(h func(roomID, peerID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPeerJoined = h
}

// OnPeerLeft hooks the room peer-left notification.
func (c *Client) OnPeerLeft(h func(roomID, peerID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPeerLeft = h
}

// Handle handles incoming jsonrpc2 notifications from the relay
func (c *Client) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Params == nil {
		log.V(1).Info("dropping notification without params", "method", req.Method)
		return
	}

	switch req.Method {
	case "signal":
		var env types.Envelope
		if err := json.Unmarshal(*req.Params, &env); err != nil {
			log.Error(err, "error parsing envelope from relay")
			break
		}

		c.mu.Lock()
		h := c.handlers[env.Type]
		c.mu.Unlock()

		if h != nil {
			h(env)
		} else {
			log.V(1).Info("no handler for envelope", "type", env.Type)
		}

	case "peer-joined":
		var event relay.PeerEvent
		if err := json.Unmarshal(*req.Params, &event); err != nil {
			log.Error(err, "error parsing peer-joined from relay")
			break
		}

		c.mu.Lock()
		h := c.onPeerJoined
		c.mu.Unlock()

		if h != nil {
			h(event.RoomID, event.PeerID)
		}

	case "peer-left":
		var event relay.PeerEvent
		if err := json.Unmarshal(*req.Params, &event); err != nil {
			log.Error(err, "error parsing peer-left from relay")
			break
		}

		c.mu.Lock()
		h := c.onPeerLeft
		c.mu.Unlock()

		if h != nil {
			h(event.RoomID, event.PeerID)
		}
	}
}
