package signal

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/zsazsa/lefauxpain-sub000/internal/app/sfu"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

func (ctl *Controller) handleJoinVoice(user domain.UserID, conn *wsConn, data []byte) {
	var p struct {
		Type    string `json:"type"`
		Channel string `json:"channel_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Channel == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join_voice payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	if err := ctl.Manager.JoinVoice(domain.ChannelID(p.Channel), user); err != nil {
		if errors.Is(err, sfu.ErrAlreadyInRoom) {
			ctl.sendError(conn, "already_in_room")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("user", string(user)).Msg("join_voice")
		ctl.sendError(conn, "join_failed")
	}
}

func (ctl *Controller) handleAnswer(user domain.UserID, conn *wsConn, data []byte) {
	var p struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.SDP == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Manager.ApplyAnswer(user, domain.RoleVoice, p.SDP); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("answer")
	}
}

func (ctl *Controller) handleCandidate(user domain.UserID, conn *wsConn, data []byte) {
	cand, ok := decodeCandidate(conn, ctl, data)
	if !ok {
		return
	}
	if err := ctl.Manager.ApplyRemoteCandidate(user, domain.RoleVoice, cand); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("ice_candidate")
	}
}

func decodeCandidate(conn *wsConn, ctl *Controller, data []byte) (webrtc.ICECandidateInit, bool) {
	var p struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Candidate == "" {
		ctl.sendError(conn, "bad_payload")
		return webrtc.ICECandidateInit{}, false
	}
	cand := webrtc.ICECandidateInit{Candidate: p.Candidate}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex
	return cand, true
}

func (ctl *Controller) handleSelfMute(user domain.UserID, conn *wsConn, data []byte) {
	var p struct {
		Type  string `json:"type"`
		Muted bool   `json:"muted"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.Manager.SetSelfMute(user, p.Muted)
}

func (ctl *Controller) handleSelfDeafen(user domain.UserID, conn *wsConn, data []byte) {
	var p struct {
		Type     string `json:"type"`
		Deafened bool   `json:"deafened"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.Manager.SetSelfDeafen(user, p.Deafened)
}

func (ctl *Controller) handleSpeaking(user domain.UserID, conn *wsConn, data []byte) {
	var p struct {
		Type     string `json:"type"`
		Speaking bool   `json:"speaking"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.Manager.SetSpeaking(user, p.Speaking)
}

// handleServerMute targets another user. Privilege is enforced before
// the event reaches this adapter.
func (ctl *Controller) handleServerMute(user domain.UserID, conn *wsConn, data []byte) {
	var p struct {
		Type   string `json:"type"`
		Target string `json:"target_user_id"`
		Muted  bool   `json:"muted"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Target == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	log.Info().Str("module", "signal").
		Str("by", string(user)).
		Str("target", p.Target).
		Bool("muted", p.Muted).
		Msg("server_mute")
	ctl.Manager.SetServerMute(domain.UserID(p.Target), p.Muted)
}
