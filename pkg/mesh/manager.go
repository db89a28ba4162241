package mesh

import (
	"encoding/json"
	"sync"

	"github.com/cryptagon/meetmesh/pkg/logger"
	"github.com/cryptagon/meetmesh/pkg/types"
)

// Signaler is the slice of the signaling client the manager needs: directed
// envelope delivery plus handshake and room-presence notifications.
type Signaler interface {
	Send(env types.Envelope) error
	OnMessage(t types.MessageType, h func(types.Envelope))
	OnPeerJoined(h func(roomID, peerID string))
	OnPeerLeft(h func(roomID, peerID string))
}

type link struct {
	transport Transport
	state     types.PeerState
}

// Manager owns the mesh of transports keyed by peer id and drives each
// through absent -> connecting -> connected -> closed. Closed is terminal;
// a peer reconnecting under the same id gets a fresh transport.
//
// The manager never touches document state and never hands transports to
// consumers; application messages surface through OnMessage.
type Manager struct {
	mu      sync.Mutex
	localID string
	roomID  string
	links   map[string]*link

	sig     Signaler
	factory Factory

	onPeerAdded     func(peerID string)
	onPeerConnected func(peerID string)
	onPeerClosed    func(peerID string)
	onMessage       func(peerID string, msg types.Message)
}

// NewManager wires a manager onto the signaling client. Bind must be called
// with the room id before peers can connect.
func NewManager(localID string, sig Signaler, factory Factory) *Manager {
	m := &Manager{
		localID: localID,
		links:   make(map[string]*link),
		sig:     sig,
		factory: factory,
	}

	sig.OnMessage(types.MessageOffer, m.handleOffer)
	sig.OnMessage(types.MessageAnswer, m.handleSignal)
	sig.OnMessage(types.MessageICECandidate, m.handleSignal)
	sig.OnPeerJoined(m.handlePeerJoined)
	sig.OnPeerLeft(m.handlePeerLeft)

	return m
}

// OnPeerAdded hooks creation of a peer entry (state connecting).
func (m *Manager) OnPeerAdded(h func(peerID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPeerAdded = h
}

// OnPeerConnected hooks a peer reaching connected.
func (m *Manager) OnPeerConnected(h func(peerID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPeerConnected = h
}

// OnPeerClosed hooks a peer closing or failing.
func (m *Manager) OnPeerClosed(h func(peerID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPeerClosed = h
}

// OnMessage hooks inbound application messages.
func (m *Manager) OnMessage(h func(peerID string, msg types.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = h
}

// Bind scopes the manager to a room. Must precede joining the room on the
// signaling channel so handshakes for early peers are not lost.
func (m *Manager) Bind(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomID = roomID
}

// handlePeerJoined makes the local side the initiator for the new peer.
func (m *Manager) handlePeerJoined(roomID, peerID string) {
	m.mu.Lock()
	bound := m.roomID
	m.mu.Unlock()
	if roomID != bound {
		return
	}

	m.ensureLink(peerID, true)
}

func (m *Manager) handlePeerLeft(roomID, peerID string) {
	m.mu.Lock()
	bound := m.roomID
	m.mu.Unlock()
	if roomID != bound {
		return
	}

	m.closeLink(peerID)
}

// handleOffer makes the local side the responder, creating the peer entry
// if this offer is the first contact.
func (m *Manager) handleOffer(env types.Envelope) {
	m.mu.Lock()
	bound := m.roomID
	m.mu.Unlock()
	if env.RoomID != bound {
		return
	}

	if ok := m.ensureLink(env.PeerID, false); !ok {
		return
	}
	m.applySignal(env)
}

func (m *Manager) handleSignal(env types.Envelope) {
	m.mu.Lock()
	bound := m.roomID
	m.mu.Unlock()
	if env.RoomID != bound {
		return
	}
	m.applySignal(env)
}

func (m *Manager) applySignal(env types.Envelope) {
	m.mu.Lock()
	l, ok := m.links[env.PeerID]
	m.mu.Unlock()
	if !ok {
		logger.Debugw("signal for unknown peer dropped", "peer_id", env.PeerID, "type", env.Type)
		return
	}

	data := types.SignalData{Type: env.Type}
	var err error
	switch env.Type {
	case types.MessageOffer, types.MessageAnswer:
		err = json.Unmarshal(env.Data, &data.SDP)
	case types.MessageICECandidate:
		err = json.Unmarshal(env.Data, &data.Candidate)
	}
	if err != nil {
		logger.Errorw("error parsing signal payload", err, "peer_id", env.PeerID, "type", env.Type)
		return
	}

	if err := l.transport.Signal(data); err != nil {
		logger.Errorw("error applying signal", err, "peer_id", env.PeerID, "type", env.Type)
	}
}

// ensureLink creates the transport for peerID if absent. Returns false when
// the transport could not be built.
func (m *Manager) ensureLink(peerID string, initiator bool) bool {
	m.mu.Lock()
	if _, ok := m.links[peerID]; ok {
		m.mu.Unlock()
		return true
	}

	transport, err := m.factory()
	if err != nil {
		m.mu.Unlock()
		logger.Errorw("error creating transport", err, "peer_id", peerID)
		return false
	}

	l := &link{transport: transport, state: types.PeerConnecting}
	m.links[peerID] = l
	added := m.onPeerAdded
	m.mu.Unlock()

	transport.OnSignal(func(data types.SignalData) {
		m.forwardSignal(peerID, data)
	})
	transport.OnData(func(payload []byte) {
		m.handleData(peerID, payload)
	})
	transport.OnConnect(func() {
		m.mu.Lock()
		l.state = types.PeerConnected
		h := m.onPeerConnected
		m.mu.Unlock()

		logger.Infow("peer connected", "peer_id", peerID)
		if h != nil {
			h(peerID)
		}
	})
	transport.OnClose(func() {
		m.closeLink(peerID)
	})
	transport.OnError(func(err error) {
		logger.Errorw("transport error", err, "peer_id", peerID)
		m.closeLink(peerID)
	})

	if added != nil {
		added(peerID)
	}

	if err := transport.Initiate(initiator); err != nil {
		logger.Errorw("error initiating transport", err, "peer_id", peerID)
		m.closeLink(peerID)
		return false
	}
	return true
}

// forwardSignal wraps a local handshake payload into a directed envelope.
func (m *Manager) forwardSignal(peerID string, data types.SignalData) {
	var payload interface{}
	switch data.Type {
	case types.MessageOffer, types.MessageAnswer:
		payload = data.SDP
	case types.MessageICECandidate:
		payload = data.Candidate
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Errorw("error marshaling signal payload", err, "peer_id", peerID, "type", data.Type)
		return
	}

	m.mu.Lock()
	roomID := m.roomID
	m.mu.Unlock()

	env := types.Envelope{
		Type:         data.Type,
		Data:         raw,
		RoomID:       roomID,
		PeerID:       m.localID,
		TargetPeerID: peerID,
	}
	if err := m.sig.Send(env); err != nil {
		logger.Errorw("error relaying signal", err, "peer_id", peerID, "type", data.Type)
	}
}

// handleData parses inbound application data. A parse failure is logged and
// dropped; it never terminates the connection.
func (m *Manager) handleData(peerID string, payload []byte) {
	var msg types.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Errorw("dropping unparseable message", err, "peer_id", peerID)
		return
	}
	if msg.Type.IsSignaling() {
		logger.Infow("dropping signaling message received on data channel", "peer_id", peerID, "type", msg.Type)
		return
	}

	m.mu.Lock()
	h := m.onMessage
	m.mu.Unlock()
	if h != nil {
		h(peerID, msg)
	}
}

// closeLink tears down one peer. Closed is terminal: the entry is removed
// so the same id can connect again with a fresh transport.
func (m *Manager) closeLink(peerID string) {
	m.mu.Lock()
	l, ok := m.links[peerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.links, peerID)
	l.state = types.PeerClosed
	h := m.onPeerClosed
	m.mu.Unlock()

	if err := l.transport.Destroy(); err != nil {
		logger.Errorw("error destroying transport", err, "peer_id", peerID)
	}
	if h != nil {
		h(peerID)
	}
}

// Broadcast sends one application message to every connected peer. A
// per-peer send failure is isolated and never aborts the remaining sends.
// Peers still connecting are skipped, not queued.
func (m *Manager) Broadcast(msg types.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Errorw("error marshaling message", err, "type", msg.Type)
		return
	}

	m.mu.Lock()
	targets := make(map[string]Transport, len(m.links))
	for id, l := range m.links {
		if l.state == types.PeerConnected {
			targets[id] = l.transport
		}
	}
	m.mu.Unlock()

	for id, transport := range targets {
		if err := transport.Send(raw); err != nil {
			logger.Errorw("error broadcasting to peer", err, "peer_id", id, "type", msg.Type)
		}
	}
}

// SendTo sends one application message to a single peer. Sends to unknown
// or not-yet-connected peers are dropped silently.
func (m *Manager) SendTo(peerID string, msg types.Message) error {
	m.mu.Lock()
	l, ok := m.links[peerID]
	connected := ok && l.state == types.PeerConnected
	m.mu.Unlock()

	if !connected {
		return nil
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return l.transport.Send(raw)
}

// ConnectedPeers returns the ids of peers currently in connected state.
func (m *Manager) ConnectedPeers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.links))
	for id, l := range m.links {
		if l.state == types.PeerConnected {
			ids = append(ids, id)
		}
	}
	return ids
}

// Close destroys every transport and clears the mesh. Idempotent; per-peer
// destroy failures are isolated.
func (m *Manager) Close() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[string]*link)
	m.roomID = ""
	m.mu.Unlock()

	for id, l := range links {
		l.state = types.PeerClosed
		if err := l.transport.Destroy(); err != nil {
			logger.Errorw("error destroying transport", err, "peer_id", id)
		}
	}
}
