package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/zsazsa/lefauxpain-sub000/internal/app/sfu"
	"github.com/zsazsa/lefauxpain-sub000/internal/core"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

// handleScreenShareStart presents in the channel the user currently has
// voice in; the operation carries no channel of its own.
func (ctl *Controller) handleScreenShareStart(user domain.UserID, conn *wsConn) {
	channel, ok := ctl.Manager.VoiceChannelOf(user)
	if !ok {
		ctl.ScreenShareRejected(user, core.RejectNotInVoice)
		return
	}
	if err := ctl.Manager.StartScreenShare(channel, user); err != nil {
		if reason, ok := rejectReason(err); ok {
			ctl.ScreenShareRejected(user, reason)
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("user", string(user)).Msg("screen_share_start")
		ctl.sendError(conn, "screen_share_failed")
	}
}

func (ctl *Controller) handleScreenShareStop(user domain.UserID, _ *wsConn) {
	channel, ok := ctl.Manager.VoiceChannelOf(user)
	if !ok {
		return
	}
	ctl.Manager.StopScreenShare(channel, user)
}

func (ctl *Controller) handleScreenSubscribe(user domain.UserID, conn *wsConn, data []byte) {
	var p struct {
		Type    string `json:"type"`
		Channel string `json:"channel_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Channel == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Manager.SubscribeScreenShare(domain.ChannelID(p.Channel), user); err != nil {
		if reason, ok := rejectReason(err); ok {
			ctl.ScreenShareRejected(user, reason)
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("user", string(user)).Msg("screen_share_subscribe")
		ctl.sendError(conn, "screen_share_failed")
	}
}

func (ctl *Controller) handleScreenUnsubscribe(user domain.UserID, conn *wsConn, data []byte) {
	var p struct {
		Type    string `json:"type"`
		Channel string `json:"channel_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Channel == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.Manager.UnsubscribeScreenShare(domain.ChannelID(p.Channel), user)
}

func (ctl *Controller) handleScreenAnswer(user domain.UserID, conn *wsConn, data []byte) {
	var p struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.SDP == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Manager.RouteScreenAnswer(user, p.SDP); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("screen_answer")
	}
}

func (ctl *Controller) handleScreenCandidate(user domain.UserID, conn *wsConn, data []byte) {
	cand, ok := decodeCandidate(conn, ctl, data)
	if !ok {
		return
	}
	if err := ctl.Manager.RouteScreenCandidate(user, cand); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("screen_ice_candidate")
	}
}

func rejectReason(err error) (core.RejectReason, bool) {
	switch {
	case errors.Is(err, sfu.ErrAlreadyPresenting):
		return core.RejectAlreadyPresenting, true
	case errors.Is(err, sfu.ErrNotInVoice):
		return core.RejectNotInVoice, true
	case errors.Is(err, sfu.ErrNoActiveShare):
		return core.RejectNoActiveShare, true
	default:
		return "", false
	}
}
