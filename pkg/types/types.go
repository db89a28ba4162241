// Package types holds the wire model shared by the relay, the signaling
// client and the peer mesh.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
)

// MessageType discriminates every message that can appear on the signaling
// channel or the peer data channel.
type MessageType string

const (
	MessageOffer        MessageType = "offer"
	MessageAnswer       MessageType = "answer"
	MessageICECandidate MessageType = "ice-candidate"
	MessageNotesUpdate  MessageType = "notes-update"
	MessageCursorUpdate MessageType = "cursor-update"
	MessageSyncRequest  MessageType = "sync-request"
	MessageSyncResponse MessageType = "sync-response"
)

// IsSignaling reports whether the type belongs on the signaling relay only.
// Signaling messages never appear on the peer data channel.
func (t MessageType) IsSignaling() bool {
	switch t {
	case MessageOffer, MessageAnswer, MessageICECandidate:
		return true
	}
	return false
}

// Message is the envelope exchanged on the peer data channel.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	SenderID  string          `json:"senderId"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage builds a Message, marshaling payload and stamping sender and
// current time (unix milliseconds).
func NewMessage(t MessageType, senderID string, payload interface{}) (Message, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		data = raw
	}
	return Message{
		Type:      t,
		Data:      data,
		SenderID:  senderID,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
	}, nil
}

// BlockOperation tags a shared-document block while it is in transit.
type BlockOperation string

const (
	BlockInsert BlockOperation = "insert"
	BlockUpdate BlockOperation = "update"
	BlockDelete BlockOperation = "delete"
)

// Block is one shared-document block. Exactly one local copy exists per id;
// conflict resolution replaces blocks wholesale, never field-merges.
type Block struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Operation BlockOperation `json:"operation,omitempty"`
}

// NotesUpdate is the payload of a notes-update message.
type NotesUpdate struct {
	Blocks    []Block        `json:"blocks"`
	Operation BlockOperation `json:"operation"`
	BlockID   string         `json:"blockId,omitempty"`
}

// CursorUpdate is the payload of a cursor-update message.
type CursorUpdate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SyncResponse carries the full current block list of an existing member.
type SyncResponse struct {
	Notes []Block `json:"notes"`
}

// PeerState is the lifecycle of one remote peer's transport.
type PeerState string

const (
	PeerConnecting PeerState = "connecting"
	PeerConnected  PeerState = "connected"
	PeerClosed     PeerState = "closed"
)

// Cursor is a remote participant's pointer position.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Peer is one roster entry as seen by consumers.
type Peer struct {
	ID     string    `json:"id"`
	State  PeerState `json:"state"`
	Cursor *Cursor   `json:"cursor,omitempty"`
}

// Envelope is the directed handshake container forwarded by the relay.
// Data is type-specific: a session description for offer/answer, an ICE
// candidate for ice-candidate.
type Envelope struct {
	Type         MessageType     `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	RoomID       string          `json:"roomId"`
	PeerID       string          `json:"peerId"`
	TargetPeerID string          `json:"targetPeerId,omitempty"`
}

// SignalData is the transport-level handshake payload carried by an Envelope.
type SignalData struct {
	Type      MessageType                `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// SessionDescriptor is the portable room descriptor embedded in share links.
type SessionDescriptor struct {
	RoomID    string `json:"roomId"`
	Timestamp int64  `json:"timestamp"`
}
