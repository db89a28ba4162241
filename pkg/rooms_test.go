package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cryptagon/meetmesh/pkg/types"
)

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

type recorded struct {
	method string
	params interface{}
}

func (r *recorder) notify(method string, params interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{method, params})
}

func (r *recorder) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.method == method {
			n++
		}
	}
	return n
}

func TestRegistryJoinReturnsExistingMembers(t *testing.T) {
	reg := NewRegistry()

	first := reg.Join("room-1", "a", (&recorder{}).notify)
	require.Empty(t, first)

	second := reg.Join("room-1", "b", (&recorder{}).notify)
	require.Equal(t, []string{"a"}, second)

	require.ElementsMatch(t, []string{"a", "b"}, reg.Members("room-1"))
}

func TestRegistryNotifiesPeerJoined(t *testing.T) {
	reg := NewRegistry()

	ra := &recorder{}
	reg.Join("room-1", "a", ra.notify)
	reg.Join("room-1", "b", (&recorder{}).notify)

	require.Eventually(t, func() bool {
		return ra.count("peer-joined") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRegistryLeaveNotifiesRemaining(t *testing.T) {
	reg := NewRegistry()

	ra := &recorder{}
	reg.Join("room-1", "a", ra.notify)
	reg.Join("room-1", "b", (&recorder{}).notify)
	reg.Leave("room-1", "b")

	require.Eventually(t, func() bool {
		return ra.count("peer-left") == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"a"}, reg.Members("room-1"))

	// unknown room and unknown peer are no-ops
	reg.Leave("nope", "a")
	reg.Leave("room-1", "ghost")
}

func TestRegistryForwardDirected(t *testing.T) {
	reg := NewRegistry()

	ra, rb := &recorder{}, &recorder{}
	reg.Join("room-1", "a", ra.notify)
	reg.Join("room-1", "b", rb.notify)

	env := types.Envelope{
		Type:         types.MessageOffer,
		Data:         json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		RoomID:       "room-1",
		PeerID:       "a",
		TargetPeerID: "b",
	}
	require.NoError(t, reg.Forward(env))

	require.Eventually(t, func() bool {
		return rb.count("signal") == 1
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, ra.count("signal"))
}

func TestRegistryForwardFailures(t *testing.T) {
	reg := NewRegistry()
	reg.Join("room-1", "a", (&recorder{}).notify)

	t.Run("no target", func(t *testing.T) {
		err := reg.Forward(types.Envelope{Type: types.MessageOffer, RoomID: "room-1", PeerID: "a"})
		require.Error(t, err)
	})

	t.Run("unknown room", func(t *testing.T) {
		err := reg.Forward(types.Envelope{Type: types.MessageOffer, RoomID: "nope", PeerID: "a", TargetPeerID: "b"})
		require.Error(t, err)
	})

	t.Run("unknown peer", func(t *testing.T) {
		err := reg.Forward(types.Envelope{Type: types.MessageOffer, RoomID: "room-1", PeerID: "a", TargetPeerID: "ghost"})
		require.Error(t, err)
	})
}

func TestRegistryLeaveAll(t *testing.T) {
	reg := NewRegistry()

	reg.Join("room-1", "a", (&recorder{}).notify)
	reg.Join("room-2", "a", (&recorder{}).notify)
	reg.Join("room-2", "b", (&recorder{}).notify)

	reg.LeaveAll("a")

	require.Empty(t, reg.Members("room-1"))
	require.Equal(t, []string{"b"}, reg.Members("room-2"))
}
