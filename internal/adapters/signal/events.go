package signal

import (
	"github.com/pion/webrtc/v4"

	"github.com/zsazsa/lefauxpain-sub000/internal/core"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

// The Controller is the manager's core.EventSink: every artifact the
// SFU produces goes out through these.

// Offer targets one user in one role.
func (ctl *Controller) Offer(user domain.UserID, role domain.Role, sdp string) {
	ctl.sendTo(user, struct {
		Type string `json:"type"`
		Role string `json:"role"`
		SDP  string `json:"sdp"`
	}{Type: "offer", Role: role.String(), SDP: sdp})
}

func (ctl *Controller) Candidate(user domain.UserID, role domain.Role, cand webrtc.ICECandidateInit) {
	resp := struct {
		Type          string `json:"type"`
		Role          string `json:"role"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid,omitempty"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	}{Type: "ice_candidate", Role: role.String(), Candidate: cand.Candidate}
	if cand.SDPMid != nil {
		resp.SDPMid = *cand.SDPMid
	}
	if cand.SDPMLineIndex != nil {
		resp.SDPMLineIndex = *cand.SDPMLineIndex
	}
	ctl.sendTo(user, resp)
}

// VoiceStateChanged goes to every connected user so observers' views
// converge; an empty channel_id is the terminal artifact for a
// torn-down session.
func (ctl *Controller) VoiceStateChanged(state domain.VoiceState) {
	ctl.broadcast(struct {
		Type string `json:"type"`
		domain.VoiceState
	}{Type: "voice_state_changed", VoiceState: state})
}

// ScreenShareStarted goes to all online users: viewers need not be room
// members to learn a share exists.
func (ctl *Controller) ScreenShareStarted(share domain.ScreenShare) {
	ctl.broadcast(struct {
		Type string `json:"type"`
		domain.ScreenShare
	}{Type: "screen_share_started", ScreenShare: share})
}

func (ctl *Controller) ScreenShareStopped(share domain.ScreenShare) {
	ctl.broadcast(struct {
		Type string `json:"type"`
		domain.ScreenShare
	}{Type: "screen_share_stopped", ScreenShare: share})
}

func (ctl *Controller) ScreenShareRejected(user domain.UserID, reason core.RejectReason) {
	ctl.sendTo(user, struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}{Type: "screen_share_rejected", Reason: string(reason)})
}

func (ctl *Controller) sendTo(user domain.UserID, v any) {
	if conn, ok := ctl.connOf(user); ok {
		ctl.sendJSON(conn, v)
	}
}

func (ctl *Controller) broadcast(v any) {
	ctl.mu.RLock()
	conns := make([]*wsConn, 0, len(ctl.conns))
	for _, c := range ctl.conns {
		conns = append(conns, c)
	}
	ctl.mu.RUnlock()
	for _, c := range conns {
		ctl.sendJSON(c, v)
	}
}
