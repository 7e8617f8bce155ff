package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

// RejectReason is the machine-readable cause carried by a targeted
// screen_share_rejected artifact.
type RejectReason string

const (
	RejectAlreadyPresenting RejectReason = "already_presenting"
	RejectNotInVoice        RejectReason = "not_in_voice"
	RejectNoActiveShare     RejectReason = "no_active_share"
)

// EventSink receives every signaling artifact the SFU core produces.
// The signaling bridge implements it; the core never talks to a socket.
type EventSink interface {
	// Offer and Candidate target one user in one role; a user may hold
	// a voice session and a viewer session at the same time.
	Offer(user domain.UserID, role domain.Role, sdp string)
	Candidate(user domain.UserID, role domain.Role, cand webrtc.ICECandidateInit)

	// VoiceStateChanged is broadcast-worthy state; it never implies a
	// renegotiation happened.
	VoiceStateChanged(state domain.VoiceState)

	ScreenShareStarted(share domain.ScreenShare)
	ScreenShareStopped(share domain.ScreenShare)
	ScreenShareRejected(user domain.UserID, reason RejectReason)
}
