package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/zsazsa/lefauxpain-sub000/internal/core"
)

// inboundTrack adapts *webrtc.TrackRemote to core.InboundTrack.
type inboundTrack struct {
	t *webrtc.TrackRemote
}

func (it inboundTrack) ID() string       { return it.t.ID() }
func (it inboundTrack) StreamID() string { return it.t.StreamID() }
func (it inboundTrack) SSRC() uint32     { return uint32(it.t.SSRC()) }

func (it inboundTrack) Kind() core.TrackKind {
	if it.t.Kind() == webrtc.RTPCodecTypeVideo {
		return core.KindVideo
	}
	return core.KindAudio
}

func (it inboundTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return it.t.ReadRTP()
}

// outboundTrack adapts *webrtc.TrackLocalStaticRTP to core.OutboundTrack.
type outboundTrack struct {
	t *webrtc.TrackLocalStaticRTP
}

func (ot outboundTrack) ID() string { return ot.t.ID() }

func (ot outboundTrack) WriteRTP(pkt *rtp.Packet) error {
	return ot.t.WriteRTP(pkt)
}
