// Package core defines the interfaces the SFU core is written against.
// Adapters own the concrete resources behind them; the core never
// closes a transport it did not create.
package core

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

type TrackKind int

const (
	KindAudio TrackKind = iota
	KindVideo
)

func (k TrackKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// InboundTrack is one encoded media stream received from a session's
// own client. The core only reads packets from it; payloads are never
// inspected beyond routing metadata.
type InboundTrack interface {
	ID() string
	StreamID() string
	Kind() TrackKind
	SSRC() uint32
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// OutboundTrack is one forwarding slot on a session's transport. Writes
// that cannot complete are dropped by the caller, never queued.
type OutboundTrack interface {
	ID() string
	WriteRTP(*rtp.Packet) error
}

// MediaTransport wraps one negotiated peer connection. The SFU is
// always the offerer: it creates offers and applies remote answers.
type MediaTransport interface {
	// CreateOffer produces a fresh local offer SDP covering the
	// transport's current track set.
	CreateOffer() (string, error)
	// ApplyAnswer applies the remote answer and flushes any ICE
	// candidates buffered before it arrived.
	ApplyAnswer(sdp string) error
	AddICECandidate(webrtc.ICECandidateInit) error

	// AddTrack creates an outbound forwarding slot. The slot persists
	// until RemoveTrack; mute state only gates the data flowing
	// through it.
	AddTrack(kind TrackKind, id, streamID string) (OutboundTrack, error)
	RemoveTrack(OutboundTrack) error

	// RequestKeyframe asks the remote encoder behind ssrc for a fully
	// self-contained frame.
	RequestKeyframe(ssrc uint32) error

	OnTrack(func(InboundTrack))
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnKeyframeRequest fires when the remote end of this transport
	// asks for a keyframe on one of our outbound tracks.
	OnKeyframeRequest(func())
	// OnClosed fires once when the underlying connection fails or
	// closes, however that happened.
	OnClosed(func())

	Close()
}

// TransportFactory mints transports from the role-appropriate media
// engine (voice: audio only; presenter/viewer: screen engine).
type TransportFactory interface {
	NewTransport(role domain.Role, user domain.UserID) (MediaTransport, error)
}
