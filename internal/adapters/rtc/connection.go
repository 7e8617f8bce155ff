package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zsazsa/lefauxpain-sub000/internal/core"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

// Connection implements core.MediaTransport for one peer. The SFU side
// is the offerer: offers go out trickle-style, the remote answer comes
// back through ApplyAnswer, and candidates arriving before the answer
// are buffered until it lands.
type Connection struct {
	pc     *webrtc.PeerConnection
	engine *Engine

	mu         sync.Mutex
	pending    []webrtc.ICECandidateInit
	remoteSet  bool
	senders    map[core.OutboundTrack]*webrtc.RTPSender
	onTrack    func(core.InboundTrack)
	onICE      func(webrtc.ICECandidateInit)
	onKeyframe func()
	onClosed   func()

	closeOnce sync.Once
	logger    zerolog.Logger
}

// NewTransport mints a transport from the role-matching engine. Voice
// and presenter connections start with recv-only transceivers so the
// first offer already solicits the client's upstream media; viewer
// connections send only, their track set grows via AddTrack.
func (e *Engine) NewTransport(role domain.Role, user domain.UserID) (core.MediaTransport, error) {
	api := e.voiceAPI
	if role != domain.RoleVoice {
		api = e.screenAPI
	}
	pc, err := api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	recvonly := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}
	switch role {
	case domain.RoleVoice:
		_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, recvonly)
	case domain.RolePresenter:
		if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, recvonly); err == nil {
			_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, recvonly)
		}
	}
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add transceiver: %w", err)
	}

	c := &Connection{
		pc:      pc,
		engine:  e,
		senders: make(map[core.OutboundTrack]*webrtc.RTPSender),
		logger: log.With().
			Str("module", "rtc").
			Str("user", string(user)).
			Str("role", role.String()).
			Logger(),
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		if fn := c.trackHandler(); fn != nil {
			fn(inboundTrack{t: track})
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Debug().Str("state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.mu.Lock()
			fn := c.onClosed
			c.onClosed = nil
			c.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	})

	return c, nil
}

func (c *Connection) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

func (c *Connection) ApplyAnswer(sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.logger.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
	return nil
}

func (c *Connection) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(cand)
}

func (c *Connection) AddTrack(kind core.TrackKind, id, streamID string) (core.OutboundTrack, error) {
	capability := c.engine.audioCap
	if kind == core.KindVideo {
		capability = c.engine.videoCap
	}
	local, err := webrtc.NewTrackLocalStaticRTP(capability, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := c.pc.AddTrack(local)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	ot := outboundTrack{t: local}
	c.mu.Lock()
	c.senders[ot] = sender
	c.mu.Unlock()

	go c.senderRTCPLoop(sender)
	return ot, nil
}

func (c *Connection) RemoveTrack(ot core.OutboundTrack) error {
	c.mu.Lock()
	sender, ok := c.senders[ot]
	delete(c.senders, ot)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.pc.RemoveTrack(sender)
}

func (c *Connection) RequestKeyframe(ssrc uint32) error {
	return c.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: ssrc},
	})
}

// senderRTCPLoop drains receiver reports for one outbound track and
// surfaces remote keyframe requests (PLI/FIR). Draining also keeps the
// NACK interceptors fed.
func (c *Connection) senderRTCPLoop(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.mu.Lock()
				fn := c.onKeyframe
				c.mu.Unlock()
				if fn != nil {
					fn()
				}
			}
		}
	}
}

func (c *Connection) OnTrack(fn func(core.InboundTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) trackHandler() func(core.InboundTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onTrack
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnKeyframeRequest(fn func()) {
	c.mu.Lock()
	c.onKeyframe = fn
	c.mu.Unlock()
}

func (c *Connection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		// Drop the closed handler first: teardown initiated by the
		// owner must not loop back into it.
		c.mu.Lock()
		c.onClosed = nil
		c.mu.Unlock()
		if err := c.pc.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("close")
		}
	})
}
