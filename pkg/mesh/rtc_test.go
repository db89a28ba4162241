package mesh

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/cryptagon/meetmesh/pkg/types"
)

// remoteOffer produces a real offer from a throwaway peer connection so
// SetRemoteDescription sees valid ICE credentials and an application m-line.
func remoteOffer(t *testing.T) webrtc.SessionDescription {
	t.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()

	_, err = pc.CreateDataChannel(dataChannelLabel, nil)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	return offer
}

func hostCandidate(seq int) webrtc.ICECandidateInit {
	mid := "0"
	var idx uint16
	return webrtc.ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.0.%d %d typ host", seq, seq, 5000+seq),
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

func pendingCandidates(tr *RTCTransport) []webrtc.ICECandidateInit {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, 0, tr.pending.Len())
	for i := 0; i < tr.pending.Len(); i++ {
		out = append(out, tr.pending.At(i).(webrtc.ICECandidateInit))
	}
	return out
}

func TestRTCTransportBuffersCandidatesBeforeRemoteDescription(t *testing.T) {
	tr, err := NewRTCTransport(webrtc.Configuration{})
	require.NoError(t, err)
	defer tr.Destroy()

	var mu sync.Mutex
	var signals []types.SignalData
	var errs []error
	tr.OnSignal(func(d types.SignalData) { mu.Lock(); signals = append(signals, d); mu.Unlock() })
	tr.OnError(func(e error) { mu.Lock(); errs = append(errs, e); mu.Unlock() })

	first, second := hostCandidate(1), hostCandidate(2)
	require.NoError(t, tr.Signal(types.SignalData{Type: types.MessageICECandidate, Candidate: &first}))
	require.NoError(t, tr.Signal(types.SignalData{Type: types.MessageICECandidate, Candidate: &second}))

	buffered := pendingCandidates(tr)
	require.Len(t, buffered, 2)
	require.Equal(t, first.Candidate, buffered[0].Candidate, "buffer must keep arrival order")
	require.Equal(t, second.Candidate, buffered[1].Candidate)

	offer := remoteOffer(t)
	require.NoError(t, tr.Signal(types.SignalData{Type: types.MessageOffer, SDP: &offer}))

	require.Empty(t, pendingCandidates(tr), "buffered candidates must drain once the remote description lands")

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, errs, "every buffered candidate must apply cleanly")

	answers := 0
	for _, s := range signals {
		if s.Type == types.MessageAnswer {
			answers++
			require.NotNil(t, s.SDP)
		}
	}
	require.Equal(t, 1, answers)
}

func TestRTCTransportAddsCandidateAfterRemoteDescription(t *testing.T) {
	tr, err := NewRTCTransport(webrtc.Configuration{})
	require.NoError(t, err)
	defer tr.Destroy()

	tr.OnSignal(func(types.SignalData) {})

	offer := remoteOffer(t)
	require.NoError(t, tr.Signal(types.SignalData{Type: types.MessageOffer, SDP: &offer}))

	late := hostCandidate(9)
	require.NoError(t, tr.Signal(types.SignalData{Type: types.MessageICECandidate, Candidate: &late}))
	require.Empty(t, pendingCandidates(tr), "candidates after the remote description apply directly")
}

func TestRTCTransportSendBeforeChannelOpen(t *testing.T) {
	tr, err := NewRTCTransport(webrtc.Configuration{})
	require.NoError(t, err)
	defer tr.Destroy()

	require.ErrorIs(t, tr.Send([]byte("x")), ErrChannelNotOpen)
}

func TestRTCTransportDestroyIdempotent(t *testing.T) {
	tr, err := NewRTCTransport(webrtc.Configuration{})
	require.NoError(t, err)

	require.NoError(t, tr.Initiate(true))
	require.NoError(t, tr.Destroy())
	require.NoError(t, tr.Destroy())
}
