package relay

import (
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"

	"github.com/cryptagon/meetmesh/pkg/types"
)

// NotifyFunc pushes a server-initiated notification to one connected peer.
type NotifyFunc func(method string, params interface{})

// PeerEvent is the room-scoped peer-joined / peer-left notification payload.
type PeerEvent struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
}

type member struct {
	id     string
	notify NotifyFunc
}

// Registry tracks room membership and fans out peer events. Notifications
// run on a shared worker pool so one slow client never blocks the handler
// that triggered the event.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[string]*member
	pool  *workerpool.WorkerPool
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]*member),
		pool:  workerpool.New(8),
	}
}

// Join registers peerID in roomID and notifies existing members with
// peer-joined. Returns the ids of the members present before the join.
func (r *Registry) Join(roomID, peerID string, notify NotifyFunc) []string {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]*member)
		r.rooms[roomID] = room
		prometheusGaugeRooms.Inc()
	}

	existing := make([]string, 0, len(room))
	others := make([]*member, 0, len(room))
	for id, m := range room {
		if id == peerID {
			continue
		}
		existing = append(existing, id)
		others = append(others, m)
	}
	room[peerID] = &member{id: peerID, notify: notify}
	r.mu.Unlock()

	event := PeerEvent{RoomID: roomID, PeerID: peerID}
	for _, m := range others {
		notify := m.notify
		r.pool.Submit(func() { notify("peer-joined", event) })
	}

	log.Info("peer joined room", "room_id", roomID, "peer_id", peerID, "members", len(existing)+1)
	return existing
}

// Leave removes peerID from roomID and notifies the remaining members with
// peer-left. Unknown rooms and unknown peers are no-ops.
func (r *Registry) Leave(roomID, peerID string) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := room[peerID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(room, peerID)

	remaining := make([]*member, 0, len(room))
	for _, m := range room {
		remaining = append(remaining, m)
	}
	if len(room) == 0 {
		delete(r.rooms, roomID)
		prometheusGaugeRooms.Dec()
	}
	r.mu.Unlock()

	event := PeerEvent{RoomID: roomID, PeerID: peerID}
	for _, m := range remaining {
		notify := m.notify
		r.pool.Submit(func() { notify("peer-left", event) })
	}

	log.Info("peer left room", "room_id", roomID, "peer_id", peerID)
}

// LeaveAll removes peerID from every room it joined. Used on disconnect.
func (r *Registry) LeaveAll(peerID string) {
	r.mu.Lock()
	roomIDs := make([]string, 0, len(r.rooms))
	for id, room := range r.rooms {
		if _, ok := room[peerID]; ok {
			roomIDs = append(roomIDs, id)
		}
	}
	r.mu.Unlock()

	for _, id := range roomIDs {
		r.Leave(id, peerID)
	}
}

// Forward delivers a handshake envelope to its target peer within the room.
// Delivery is best effort; retry and renegotiation belong to the peers.
func (r *Registry) Forward(env types.Envelope) error {
	if env.TargetPeerID == "" {
		return fmt.Errorf("envelope %s from %s has no target peer", env.Type, env.PeerID)
	}

	r.mu.Lock()
	room, ok := r.rooms[env.RoomID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("room %q not found", env.RoomID)
	}
	target, ok := room[env.TargetPeerID]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("peer %q not in room %q", env.TargetPeerID, env.RoomID)
	}

	prometheusCounterForwarded.Inc()
	target.notify("signal", env)
	return nil
}

// Members returns the ids currently joined to roomID.
func (r *Registry) Members(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[roomID]
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	return ids
}
