package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/cryptagon/meetmesh/pkg/types"
)

// JoinParams is sent by a client registering presence in a room.
type JoinParams struct {
	RoomID string `json:"roomId"`
}

// JoinResult lists the members already present when a client joins.
type JoinResult struct {
	Peers []string `json:"peers"`
}

// LeaveParams is sent by a client unregistering from a room.
type LeaveParams struct {
	RoomID string `json:"roomId"`
}

type peerConn struct {
	mu       sync.Mutex
	registry *Registry
	id       string
	token    *accessToken

	ctx  context.Context
	conn *jsonrpc2.Conn
}

func (p *peerConn) bind(ctx context.Context, conn *jsonrpc2.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = ctx
	p.conn = conn
}

func (p *peerConn) notify(method string, params interface{}) {
	p.mu.Lock()
	ctx, conn := p.ctx, p.conn
	p.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Notify(ctx, method, params); err != nil {
		log.Error(err, "error notifying peer", "peer_id", p.id, "method", method)
	}
}

// Handle incoming RPC calls: join, leave, signal and ping
func (p *peerConn) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	replyError := func(err error) {
		_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
			Code:    500,
			Message: fmt.Sprintf("%s", err),
		})
	}

	switch req.Method {
	case "join":
		if req.Params == nil {
			replyError(fmt.Errorf("join: missing params"))
			break
		}
		var join JoinParams
		if err := json.Unmarshal(*req.Params, &join); err != nil {
			log.Error(err, "join: error parsing params", "peer_id", p.id)
			replyError(err)
			break
		}

		if p.token != nil && p.token.RID != join.RoomID {
			replyError(fmt.Errorf("token not valid for room %q", join.RoomID))
			break
		}

		peers := p.registry.Join(join.RoomID, p.id, p.notify)
		_ = conn.Reply(ctx, req.ID, &JoinResult{Peers: peers})

	case "leave":
		if req.Params == nil {
			replyError(fmt.Errorf("leave: missing params"))
			break
		}
		var leave LeaveParams
		if err := json.Unmarshal(*req.Params, &leave); err != nil {
			log.Error(err, "leave: error parsing params", "peer_id", p.id)
			replyError(err)
			break
		}

		p.registry.Leave(leave.RoomID, p.id)
		_ = conn.Reply(ctx, req.ID, &struct{}{})

	case "signal":
		if req.Params == nil {
			log.Info("signal: missing params", "peer_id", p.id)
			break
		}
		var env types.Envelope
		if err := json.Unmarshal(*req.Params, &env); err != nil {
			log.Error(err, "signal: error parsing envelope", "peer_id", p.id)
			break
		}

		// the relay re-asserts the sender so peers cannot spoof each other
		env.PeerID = p.id
		if err := p.registry.Forward(env); err != nil {
			log.Error(err, "signal: error forwarding envelope", "peer_id", p.id)
		}

	case "ping":
		_ = conn.Reply(ctx, req.ID, "pong")
	}
}
