// Package session implements the sole entry point the application uses for
// collaborative sync: session lifecycle, the peer roster, the shared
// document mirror and the sync-request / sync-response catch-up protocol.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/elliotchance/orderedmap"
	"github.com/getlantern/deepcopy"
	"github.com/lucsky/cuid"

	"github.com/cryptagon/meetmesh/pkg/logger"
	"github.com/cryptagon/meetmesh/pkg/types"
)

var log = logger.GetLogger().WithName("session")

var (
	// ErrSessionNotInitialized an operation ran before the coordinator had
	// a signaling client and transport layer
	ErrSessionNotInitialized = errors.New("session: not initialized")
	// ErrSessionActive create/join was called while a session is running
	ErrSessionActive = errors.New("session: already in an active session")
	// ErrTimedOut a lifecycle operation exceeded the configured timeout
	ErrTimedOut = errors.New("session: operation timed out")
)

// State is the coordinator lifecycle: idle -> hosting|guesting -> idle.
type State string

const (
	StateIdle     State = "idle"
	StateHosting  State = "hosting"
	StateGuesting State = "guesting"
)

// Signaling is the slice of the relay client the coordinator drives.
type Signaling interface {
	Connect() (<-chan struct{}, error)
	JoinRoom(ctx context.Context, roomID string) ([]string, error)
	LeaveRoom(ctx context.Context, roomID string) error
	Close() error
}

// Mesh is the transport layer: fan-out and directed delivery of application
// messages plus peer lifecycle notifications.
type Mesh interface {
	Bind(roomID string)
	Broadcast(msg types.Message)
	SendTo(peerID string, msg types.Message) error
	Close()
	OnPeerAdded(h func(peerID string))
	OnPeerConnected(h func(peerID string))
	OnPeerClosed(h func(peerID string))
	OnMessage(h func(peerID string, msg types.Message))
}

// Config tunables for a Coordinator.
type Config struct {
	// LocalID identifies this participant; defaults to a fresh cuid.
	LocalID string
	// LinkBase is the origin+path share links are built on.
	LinkBase string
	// OperationTimeout bounds create/join round trips.
	OperationTimeout time.Duration
	// CursorInterval collapses bursts of local cursor moves into one
	// broadcast per window.
	CursorInterval time.Duration
}

func (c *Config) defaults() {
	if c.LocalID == "" {
		c.LocalID = cuid.New()
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = 15 * time.Second
	}
	if c.CursorInterval == 0 {
		c.CursorInterval = 50 * time.Millisecond
	}
}

// Coordinator owns session state, the peer roster and the in-memory shared
// document block set. All mutation happens behind one mutex; consumers get
// read-only snapshots and route changes back through the public operations.
type Coordinator struct {
	cfg  Config
	sig  Signaling
	mesh Mesh

	mu           sync.Mutex
	state        State
	starting     bool
	roomID       string
	shareLink    string
	lastErr      error
	sigConnected bool

	roster map[string]*types.Peer
	blocks *orderedmap.OrderedMap

	resolver    Resolver
	syncPending bool

	notesHandler   func([]types.Block)
	blocksProvider func() []types.Block

	cursorFlush   func(func())
	pendingCursor types.CursorUpdate
}

// New builds a Coordinator at the composition root. sig and mesh may be nil
// for an offline coordinator: lifecycle operations then fail but roster and
// broadcast operations stay safe no-ops.
func New(cfg Config, sig Signaling, mesh Mesh) *Coordinator {
	cfg.defaults()

	c := &Coordinator{
		cfg:         cfg,
		sig:         sig,
		mesh:        mesh,
		state:       StateIdle,
		roster:      make(map[string]*types.Peer),
		blocks:      orderedmap.NewOrderedMap(),
		cursorFlush: debounce.New(cfg.CursorInterval),
	}

	if mesh != nil {
		mesh.OnPeerAdded(c.handlePeerAdded)
		mesh.OnPeerConnected(c.handlePeerConnected)
		mesh.OnPeerClosed(c.handlePeerClosed)
		mesh.OnMessage(c.handleMessage)
	}
	return c
}

// LocalID returns this participant's peer id.
func (c *Coordinator) LocalID() string { return c.cfg.LocalID }

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a session is active.
func (c *Coordinator) IsConnected() bool {
	return c.State() != StateIdle
}

// RoomID returns the active room id, empty when idle.
func (c *Coordinator) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// ShareLink returns the shareable link for the active room.
func (c *Coordinator) ShareLink() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shareLink
}

// Err returns the last session-lifecycle error, for display.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SetNotesUpdateHandler registers the document-model callback receiving the
// merged block list after every applied remote update.
func (c *Coordinator) SetNotesUpdateHandler(h func([]types.Block)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notesHandler = h
}

// SetBlocksProvider registers the document-model source of truth consulted
// when answering sync-requests. Without one the coordinator answers from
// its own mirror.
func (c *Coordinator) SetBlocksProvider(f func() []types.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocksProvider = f
}

// CreateSession generates a room, joins it as host and computes the share
// link. Returns the room id.
func (c *Coordinator) CreateSession(ctx context.Context) (string, error) {
	roomID := cuid.New()
	if err := c.start(ctx, roomID, StateHosting); err != nil {
		return "", err
	}
	log.Info("session created", "room_id", roomID)
	return roomID, nil
}

// JoinSession joins an existing room as guest and immediately requests the
// current document state from the members already there.
func (c *Coordinator) JoinSession(ctx context.Context, roomID string) error {
	if err := c.start(ctx, roomID, StateGuesting); err != nil {
		return err
	}
	log.Info("session joined", "room_id", roomID)
	c.RequestSync()
	return nil
}

func (c *Coordinator) start(ctx context.Context, roomID string, next State) error {
	if c.sig == nil || c.mesh == nil {
		return ErrSessionNotInitialized
	}

	// starting holds the gate across the await so a second create/join
	// cannot slip in while this one is still connecting
	c.mu.Lock()
	if c.starting || c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.starting = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.connectAndJoin(ctx, roomID) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ErrTimedOut
		} else {
			err = ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		c.lastErr = err
		c.state = StateIdle
		return err
	}

	c.state = next
	c.roomID = roomID
	c.shareLink = GenerateSessionLink(c.cfg.LinkBase, roomID)
	c.lastErr = nil
	return nil
}

func (c *Coordinator) connectAndJoin(ctx context.Context, roomID string) error {
	c.mu.Lock()
	connected := c.sigConnected
	c.mu.Unlock()

	if !connected {
		closed, err := c.sig.Connect()
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.sigConnected = true
		c.mu.Unlock()

		go func() {
			<-closed
			c.mu.Lock()
			c.sigConnected = false
			c.mu.Unlock()
		}()
	}

	// bind the mesh before presence registration so handshakes from peers
	// reacting to our join are not lost
	c.mesh.Bind(roomID)

	peers, err := c.sig.JoinRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("join room %q: %w", roomID, err)
	}

	// members already present will initiate toward us; seed the roster so
	// presence shows them as connecting right away
	for _, id := range peers {
		c.AddPeer(id)
	}
	return nil
}

// LeaveSession tears down every transport, clears the roster and returns to
// idle. It converges even when individual teardown calls fail.
func (c *Coordinator) LeaveSession(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	roomID := c.roomID
	c.state = StateIdle
	c.roomID = ""
	c.shareLink = ""
	c.syncPending = false
	c.roster = make(map[string]*types.Peer)
	c.blocks = orderedmap.NewOrderedMap()
	c.mu.Unlock()

	if c.mesh != nil {
		c.mesh.Close()
	}

	var err error
	if c.sig != nil {
		if err = c.sig.LeaveRoom(ctx, roomID); err != nil {
			log.Error(err, "error leaving room", "room_id", roomID)
		}
	}

	log.Info("session left", "room_id", roomID)
	return err
}

// AddPeer upserts a roster entry. Idempotent by peer id.
func (c *Coordinator) AddPeer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.roster[id]; ok {
		return
	}
	c.roster[id] = &types.Peer{ID: id, State: types.PeerConnecting}
}

// RemovePeer deletes a roster entry. Idempotent by peer id.
func (c *Coordinator) RemovePeer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roster, id)
}

// UpdatePeerCursor merges a cursor position onto an existing entry. No-op
// when the peer is absent.
func (c *Coordinator) UpdatePeerCursor(id string, x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.roster[id]
	if !ok {
		return
	}
	p.Cursor = &types.Cursor{X: x, Y: y}
}

// Peers returns a read-only roster snapshot sorted by peer id.
func (c *Coordinator) Peers() []types.Peer {
	c.mu.Lock()
	src := make([]types.Peer, 0, len(c.roster))
	for _, p := range c.roster {
		src = append(src, *p)
	}
	c.mu.Unlock()

	var out []types.Peer
	if err := deepcopy.Copy(&out, &src); err != nil {
		log.Error(err, "error copying roster snapshot")
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Blocks returns a read-only snapshot of the shared document mirror in
// document order.
func (c *Coordinator) Blocks() []types.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockSnapshotLocked()
}

func (c *Coordinator) blockSnapshotLocked() []types.Block {
	out := make([]types.Block, 0, c.blocks.Len())
	for el := c.blocks.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(types.Block))
	}
	return out
}

// BroadcastNotesUpdate applies a local document mutation to the mirror and
// fans it out to every connected peer. A silent no-op when no transport
// layer is active.
func (c *Coordinator) BroadcastNotesUpdate(blocks []types.Block, op types.BlockOperation, blockID string) {
	update := types.NotesUpdate{Blocks: blocks, Operation: op, BlockID: blockID}

	c.mu.Lock()
	c.resolver.Apply(c.blocks, update)
	active := c.state != StateIdle
	c.mu.Unlock()

	if c.mesh == nil || !active {
		return
	}

	msg, err := types.NewMessage(types.MessageNotesUpdate, c.cfg.LocalID, update)
	if err != nil {
		log.Error(err, "error building notes-update")
		return
	}
	c.mesh.Broadcast(msg)
}

// BroadcastCursor publishes the local cursor position, debounced so bursts
// of moves collapse into one message per window.
func (c *Coordinator) BroadcastCursor(x, y float64) {
	c.mu.Lock()
	c.pendingCursor = types.CursorUpdate{X: x, Y: y}
	active := c.state != StateIdle
	c.mu.Unlock()

	if c.mesh == nil || !active {
		return
	}
	c.cursorFlush(c.flushCursor)
}

func (c *Coordinator) flushCursor() {
	c.mu.Lock()
	cursor := c.pendingCursor
	active := c.state != StateIdle
	c.mu.Unlock()

	if c.mesh == nil || !active {
		return
	}
	msg, err := types.NewMessage(types.MessageCursorUpdate, c.cfg.LocalID, cursor)
	if err != nil {
		log.Error(err, "error building cursor-update")
		return
	}
	c.mesh.Broadcast(msg)
}

// RequestSync broadcasts an empty sync-request so any existing member can
// answer with its full block list. Only the first response is applied.
func (c *Coordinator) RequestSync() {
	c.mu.Lock()
	c.syncPending = true
	c.mu.Unlock()

	if c.mesh == nil {
		return
	}
	msg, err := types.NewMessage(types.MessageSyncRequest, c.cfg.LocalID, nil)
	if err != nil {
		log.Error(err, "error building sync-request")
		return
	}
	c.mesh.Broadcast(msg)
}

// SendSyncResponse answers a requester directly with the full block list.
func (c *Coordinator) SendSyncResponse(peerID string, blocks []types.Block) error {
	if c.mesh == nil {
		return ErrSessionNotInitialized
	}
	msg, err := types.NewMessage(types.MessageSyncResponse, c.cfg.LocalID, types.SyncResponse{Notes: blocks})
	if err != nil {
		return err
	}
	return c.mesh.SendTo(peerID, msg)
}

func (c *Coordinator) handlePeerAdded(peerID string) {
	c.AddPeer(peerID)
}

func (c *Coordinator) handlePeerConnected(peerID string) {
	c.mu.Lock()
	if p, ok := c.roster[peerID]; ok {
		p.State = types.PeerConnected
	} else {
		c.roster[peerID] = &types.Peer{ID: peerID, State: types.PeerConnected}
	}
	needSync := c.syncPending
	c.mu.Unlock()

	// a sync-request broadcast before any link was up went nowhere; repeat
	// it toward the newly connected peer while the sync is still unanswered
	if needSync && c.mesh != nil {
		msg, err := types.NewMessage(types.MessageSyncRequest, c.cfg.LocalID, nil)
		if err != nil {
			log.Error(err, "error building sync-request")
			return
		}
		if err := c.mesh.SendTo(peerID, msg); err != nil {
			log.Error(err, "error requesting sync", "peer_id", peerID)
		}
	}
}

func (c *Coordinator) handlePeerClosed(peerID string) {
	c.RemovePeer(peerID)
}

// handleMessage is the single entry point for inbound application messages;
// the mesh serializes nothing, so all mutation stays behind the mutex here.
func (c *Coordinator) handleMessage(peerID string, msg types.Message) {
	switch msg.Type {
	case types.MessageNotesUpdate:
		var update types.NotesUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			log.Error(err, "dropping unparseable notes-update", "peer_id", peerID)
			return
		}
		c.mu.Lock()
		c.resolver.Apply(c.blocks, update)
		snapshot := c.blockSnapshotLocked()
		h := c.notesHandler
		c.mu.Unlock()

		if h != nil {
			h(snapshot)
		}

	case types.MessageCursorUpdate:
		var cursor types.CursorUpdate
		if err := json.Unmarshal(msg.Data, &cursor); err != nil {
			log.Error(err, "dropping unparseable cursor-update", "peer_id", peerID)
			return
		}
		c.UpdatePeerCursor(msg.SenderID, cursor.X, cursor.Y)

	case types.MessageSyncRequest:
		c.mu.Lock()
		provider := c.blocksProvider
		var blocks []types.Block
		if provider == nil {
			blocks = c.blockSnapshotLocked()
		}
		c.mu.Unlock()

		if provider != nil {
			blocks = provider()
		}
		if err := c.SendSyncResponse(peerID, blocks); err != nil {
			log.Error(err, "error answering sync-request", "peer_id", peerID)
		}

	case types.MessageSyncResponse:
		var resp types.SyncResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			log.Error(err, "dropping unparseable sync-response", "peer_id", peerID)
			return
		}

		c.mu.Lock()
		if !c.syncPending {
			c.mu.Unlock()
			log.V(1).Info("ignoring extra sync-response", "peer_id", peerID)
			return
		}
		c.syncPending = false
		c.resolver.Replace(c.blocks, resp.Notes)
		snapshot := c.blockSnapshotLocked()
		h := c.notesHandler
		c.mu.Unlock()

		if h != nil {
			h(snapshot)
		}

	default:
		log.V(1).Info("dropping unknown message", "peer_id", peerID, "type", msg.Type)
	}
}
