package sfu

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/zsazsa/lefauxpain-sub000/internal/core"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

// fakeInbound feeds packets to a relay through a channel; closing the
// channel ends the read loop like a dropped transport would.
type fakeInbound struct {
	id       string
	streamID string
	kind     core.TrackKind
	ssrc     uint32
	pkts     chan *rtp.Packet
}

func newFakeInbound(id string, kind core.TrackKind, ssrc uint32) *fakeInbound {
	return &fakeInbound{id: id, streamID: id, kind: kind, ssrc: ssrc, pkts: make(chan *rtp.Packet, 16)}
}

func (f *fakeInbound) ID() string           { return f.id }
func (f *fakeInbound) StreamID() string     { return f.streamID }
func (f *fakeInbound) Kind() core.TrackKind { return f.kind }
func (f *fakeInbound) SSRC() uint32         { return f.ssrc }

func (f *fakeInbound) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-f.pkts
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

func (f *fakeInbound) push(seq uint16) {
	f.pkts <- &rtp.Packet{Header: rtp.Header{SequenceNumber: seq, SSRC: f.ssrc}}
}

type fakeOutbound struct {
	id string

	mu   sync.Mutex
	pkts []*rtp.Packet
	fail bool
}

func (f *fakeOutbound) ID() string { return f.id }

func (f *fakeOutbound) WriteRTP(pkt *rtp.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write failed")
	}
	f.pkts = append(f.pkts, pkt)
	return nil
}

func (f *fakeOutbound) received() []*rtp.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*rtp.Packet, len(f.pkts))
	copy(out, f.pkts)
	return out
}

func (f *fakeOutbound) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

type fakeTransport struct {
	mu         sync.Mutex
	offerCount int
	answers    []string
	candidates []webrtc.ICECandidateInit
	tracks     map[string]*fakeOutbound
	removed    []string
	keyframes  []uint32
	closed     bool
	answerErr  error

	onTrack    func(core.InboundTrack)
	onICE      func(webrtc.ICECandidateInit)
	onKeyframe func()
	onClosed   func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{tracks: make(map[string]*fakeOutbound)}
}

func (t *fakeTransport) CreateOffer() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offerCount++
	return fmt.Sprintf("offer-%d", t.offerCount), nil
}

func (t *fakeTransport) ApplyAnswer(sdp string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.answerErr != nil {
		return t.answerErr
	}
	t.answers = append(t.answers, sdp)
	return nil
}

func (t *fakeTransport) setAnswerErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answerErr = err
}

func (t *fakeTransport) AddICECandidate(cand webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, cand)
	return nil
}

func (t *fakeTransport) AddTrack(kind core.TrackKind, id, streamID string) (core.OutboundTrack, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := &fakeOutbound{id: id}
	t.tracks[id] = out
	return out, nil
}

func (t *fakeTransport) RemoveTrack(track core.OutboundTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tracks, track.ID())
	t.removed = append(t.removed, track.ID())
	return nil
}

func (t *fakeTransport) RequestKeyframe(ssrc uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keyframes = append(t.keyframes, ssrc)
	return nil
}

func (t *fakeTransport) OnTrack(fn func(core.InboundTrack))              { t.onTrack = fn }
func (t *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { t.onICE = fn }
func (t *fakeTransport) OnKeyframeRequest(fn func())                     { t.onKeyframe = fn }
func (t *fakeTransport) OnClosed(fn func())                              { t.onClosed = fn }

func (t *fakeTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

func (t *fakeTransport) emitTrack(track core.InboundTrack) {
	t.onTrack(track)
}

func (t *fakeTransport) fireClosed() {
	if t.onClosed != nil {
		t.onClosed()
	}
}

func (t *fakeTransport) removedTracks() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.removed))
	copy(out, t.removed)
	return out
}

func (t *fakeTransport) offers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offerCount
}

func (t *fakeTransport) track(id string) (*fakeOutbound, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out, ok := t.tracks[id]
	return out, ok
}

func (t *fakeTransport) requestedKeyframes() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint32, len(t.keyframes))
	copy(out, t.keyframes)
	return out
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type transportKey struct {
	user domain.UserID
	role domain.Role
}

type fakeFactory struct {
	mu         sync.Mutex
	transports map[transportKey]*fakeTransport
	failNext   error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{transports: make(map[transportKey]*fakeTransport)}
}

func (f *fakeFactory) NewTransport(role domain.Role, user domain.UserID) (core.MediaTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	t := newFakeTransport()
	f.transports[transportKey{user: user, role: role}] = t
	return t, nil
}

func (f *fakeFactory) transport(user domain.UserID, role domain.Role) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[transportKey{user: user, role: role}]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

type sinkOffer struct {
	user domain.UserID
	role domain.Role
	sdp  string
}

type fakeSink struct {
	mu          sync.Mutex
	sentOffers  []sinkOffer
	voiceStates []domain.VoiceState
	started     []domain.ScreenShare
	stopped     []domain.ScreenShare
	rejected    []core.RejectReason
}

func (s *fakeSink) Offer(user domain.UserID, role domain.Role, sdp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentOffers = append(s.sentOffers, sinkOffer{user: user, role: role, sdp: sdp})
}

func (s *fakeSink) Candidate(domain.UserID, domain.Role, webrtc.ICECandidateInit) {}

func (s *fakeSink) VoiceStateChanged(state domain.VoiceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceStates = append(s.voiceStates, state)
}

func (s *fakeSink) ScreenShareStarted(share domain.ScreenShare) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, share)
}

func (s *fakeSink) ScreenShareStopped(share domain.ScreenShare) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, share)
}

func (s *fakeSink) ScreenShareRejected(_ domain.UserID, reason core.RejectReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, reason)
}

func (s *fakeSink) offers() []sinkOffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkOffer, len(s.sentOffers))
	copy(out, s.sentOffers)
	return out
}

func (s *fakeSink) offersFor(user domain.UserID, role domain.Role) []sinkOffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkOffer
	for _, o := range s.sentOffers {
		if o.user == user && o.role == role {
			out = append(out, o)
		}
	}
	return out
}

func (s *fakeSink) lastVoiceState() (domain.VoiceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.voiceStates) == 0 {
		return domain.VoiceState{}, false
	}
	return s.voiceStates[len(s.voiceStates)-1], true
}

func (s *fakeSink) stoppedShares() []domain.ScreenShare {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScreenShare, len(s.stopped))
	copy(out, s.stopped)
	return out
}
