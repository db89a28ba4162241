package signal

import (
	"context"
	"testing"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"

	relay "github.com/cryptagon/meetmesh/pkg"
	"github.com/cryptagon/meetmesh/pkg/types"
)

func notification(t *testing.T, method string, params interface{}) *jsonrpc2.Request {
	req := &jsonrpc2.Request{Method: method, Notif: true}
	require.NoError(t, req.SetParams(params))
	return req
}

func TestOnMessageLastRegistrationWins(t *testing.T) {
	c := NewClient(context.Background(), "ws://relay.invalid", "me")

	var first, second []types.Envelope
	c.OnMessage(types.MessageOffer, func(env types.Envelope) { first = append(first, env) })
	c.OnMessage(types.MessageOffer, func(env types.Envelope) { second = append(second, env) })

	env := types.Envelope{Type: types.MessageOffer, RoomID: "r", PeerID: "p", TargetPeerID: "me"}
	c.Handle(context.Background(), nil, notification(t, "signal", env))

	require.Empty(t, first, "earlier handler must be replaced")
	require.Len(t, second, 1)
	require.Equal(t, "p", second[0].PeerID)
}

func TestEnvelopeDispatchByType(t *testing.T) {
	c := NewClient(context.Background(), "ws://relay.invalid", "me")

	var offers, candidates []types.Envelope
	c.OnMessage(types.MessageOffer, func(env types.Envelope) { offers = append(offers, env) })
	c.OnMessage(types.MessageICECandidate, func(env types.Envelope) { candidates = append(candidates, env) })

	c.Handle(context.Background(), nil, notification(t, "signal", types.Envelope{Type: types.MessageOffer, PeerID: "a"}))
	c.Handle(context.Background(), nil, notification(t, "signal", types.Envelope{Type: types.MessageICECandidate, PeerID: "b"}))
	// no handler for answers: dropped without panic
	c.Handle(context.Background(), nil, notification(t, "signal", types.Envelope{Type: types.MessageAnswer, PeerID: "c"}))

	require.Len(t, offers, 1)
	require.Len(t, candidates, 1)
	require.Equal(t, "a", offers[0].PeerID)
	require.Equal(t, "b", candidates[0].PeerID)
}

func TestPeerEventDispatch(t *testing.T) {
	c := NewClient(context.Background(), "ws://relay.invalid", "me")

	type event struct{ room, peer string }
	var joins, leaves []event
	c.OnPeerJoined(func(roomID, peerID string) { joins = append(joins, event{roomID, peerID}) })
	c.OnPeerLeft(func(roomID, peerID string) { leaves = append(leaves, event{roomID, peerID}) })

	c.Handle(context.Background(), nil, notification(t, "peer-joined", relay.PeerEvent{RoomID: "r1", PeerID: "p1"}))
	c.Handle(context.Background(), nil, notification(t, "peer-left", relay.PeerEvent{RoomID: "r1", PeerID: "p1"}))

	require.Equal(t, []event{{"r1", "p1"}}, joins)
	require.Equal(t, []event{{"r1", "p1"}}, leaves)
}

func TestNotificationWithoutParamsDropped(t *testing.T) {
	c := NewClient(context.Background(), "ws://relay.invalid", "me")

	var seen int
	c.OnMessage(types.MessageOffer, func(types.Envelope) { seen++ })
	c.OnPeerJoined(func(string, string) { seen++ })
	c.OnPeerLeft(func(string, string) { seen++ })

	for _, method := range []string{"signal", "peer-joined", "peer-left"} {
		req := &jsonrpc2.Request{Method: method, Notif: true}
		require.NotPanics(t, func() { c.Handle(context.Background(), nil, req) })
	}
	require.Zero(t, seen)
}

func TestOperationsBeforeConnect(t *testing.T) {
	c := NewClient(context.Background(), "ws://relay.invalid", "me")

	_, err := c.JoinRoom(context.Background(), "room-1")
	require.ErrorIs(t, err, ErrNotConnected)

	require.ErrorIs(t, c.LeaveRoom(context.Background(), "room-1"), ErrNotConnected)
	require.ErrorIs(t, c.Send(types.Envelope{}), ErrNotConnected)
	require.NoError(t, c.Close())
}
