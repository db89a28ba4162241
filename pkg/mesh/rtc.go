package mesh

import (
	"errors"
	"sync"

	"github.com/gammazero/deque"
	"github.com/pion/webrtc/v3"

	"github.com/cryptagon/meetmesh/pkg/types"
)

const dataChannelLabel = "notes"

var (
	// ErrChannelNotOpen a send was attempted before the data channel opened
	ErrChannelNotOpen = errors.New("mesh: data channel not open")
)

// RTCTransport is the WebRTC implementation of Transport: one
// PeerConnection carrying a single ordered data channel, so delivery within
// the link preserves send order.
type RTCTransport struct {
	mu sync.Mutex
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	// remote candidates received before the remote description
	pending deque.Deque

	destroyed bool

	onSignal  func(types.SignalData)
	onData    func([]byte)
	onConnect func()
	onClose   func()
	onError   func(error)
}

// NewRTCTransport creates a transport backed by a fresh PeerConnection.
func NewRTCTransport(cfg webrtc.Configuration) (*RTCTransport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	t := &RTCTransport{pc: pc}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		t.emitSignal(types.SignalData{Type: types.MessageICECandidate, Candidate: &init})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed:
			t.emitError(errors.New("mesh: peer connection failed"))
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			t.emitClose()
		}
	})

	// responder side receives the channel created by the initiator
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.bindChannel(dc)
	})

	return t, nil
}

// Initiate starts the handshake. The initiator creates the ordered data
// channel and emits an offer; the responder waits for the inbound offer.
func (t *RTCTransport) Initiate(initiator bool) error {
	if !initiator {
		return nil
	}

	dc, err := t.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return err
	}
	t.bindChannel(dc)

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	t.emitSignal(types.SignalData{Type: types.MessageOffer, SDP: &offer})
	return nil
}

// Signal applies an inbound handshake payload.
func (t *RTCTransport) Signal(data types.SignalData) error {
	switch data.Type {
	case types.MessageOffer:
		if data.SDP == nil {
			return errors.New("mesh: offer missing description")
		}
		if err := t.pc.SetRemoteDescription(*data.SDP); err != nil {
			return err
		}
		t.drainCandidates()

		answer, err := t.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err := t.pc.SetLocalDescription(answer); err != nil {
			return err
		}
		t.emitSignal(types.SignalData{Type: types.MessageAnswer, SDP: &answer})
		return nil

	case types.MessageAnswer:
		if data.SDP == nil {
			return errors.New("mesh: answer missing description")
		}
		if err := t.pc.SetRemoteDescription(*data.SDP); err != nil {
			return err
		}
		t.drainCandidates()
		return nil

	case types.MessageICECandidate:
		if data.Candidate == nil {
			return errors.New("mesh: signal missing candidate")
		}
		t.mu.Lock()
		if t.pc.RemoteDescription() == nil {
			t.pending.PushBack(*data.Candidate)
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
		return t.pc.AddICECandidate(*data.Candidate)

	default:
		return errors.New("mesh: unknown signal type " + string(data.Type))
	}
}

// drainCandidates applies candidates buffered before the remote description
// arrived, in arrival order.
func (t *RTCTransport) drainCandidates() {
	t.mu.Lock()
	buffered := make([]webrtc.ICECandidateInit, 0, t.pending.Len())
	for t.pending.Len() > 0 {
		buffered = append(buffered, t.pending.PopFront().(webrtc.ICECandidateInit))
	}
	t.mu.Unlock()

	for _, candidate := range buffered {
		if err := t.pc.AddICECandidate(candidate); err != nil {
			t.emitError(err)
		}
	}
}

// Send writes one application payload to the data channel.
func (t *RTCTransport) Send(payload []byte) error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(payload)
}

// Destroy closes the data channel and peer connection. Idempotent.
func (t *RTCTransport) Destroy() error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return nil
	}
	t.destroyed = true
	dc := t.dc
	t.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	return t.pc.Close()
}

// OnSignal hooks local handshake payloads to forward to the remote side.
func (t *RTCTransport) OnSignal(h func(types.SignalData)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSignal = h
}

// OnData hooks inbound application payloads.
func (t *RTCTransport) OnData(h func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onData = h
}

// OnConnect hooks data channel open.
func (t *RTCTransport) OnConnect(h func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = h
}

// OnClose hooks connection teardown.
func (t *RTCTransport) OnClose(h func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = h
}

// OnError hooks transport failures.
func (t *RTCTransport) OnError(h func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = h
}

func (t *RTCTransport) bindChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		t.mu.Lock()
		h := t.onConnect
		t.mu.Unlock()
		if h != nil {
			h()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.mu.Lock()
		h := t.onData
		t.mu.Unlock()
		if h != nil {
			h(msg.Data)
		}
	})
	dc.OnClose(func() {
		t.emitClose()
	})
}

func (t *RTCTransport) emitSignal(data types.SignalData) {
	t.mu.Lock()
	h := t.onSignal
	t.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (t *RTCTransport) emitClose() {
	t.mu.Lock()
	h := t.onClose
	t.mu.Unlock()
	if h != nil {
		h()
	}
}

func (t *RTCTransport) emitError(err error) {
	t.mu.Lock()
	h := t.onError
	t.mu.Unlock()
	if h != nil {
		h(err)
	}
}
