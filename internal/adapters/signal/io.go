package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	pingPeriod := ctl.cfg.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, user domain.UserID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(user)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("user", string(user)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(user, c, data)
		}
	}
}

func (ctl *Controller) handleSignal(user domain.UserID, c *wsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join_voice":
		ctl.handleJoinVoice(user, c, data)
	case "leave_voice":
		ctl.Manager.LeaveVoice(user)
	case "answer":
		ctl.handleAnswer(user, c, data)
	case "ice_candidate":
		ctl.handleCandidate(user, c, data)
	case "self_mute":
		ctl.handleSelfMute(user, c, data)
	case "self_deafen":
		ctl.handleSelfDeafen(user, c, data)
	case "speaking":
		ctl.handleSpeaking(user, c, data)
	case "server_mute":
		ctl.handleServerMute(user, c, data)
	case "screen_share_start":
		ctl.handleScreenShareStart(user, c)
	case "screen_share_stop":
		ctl.handleScreenShareStop(user, c)
	case "screen_share_subscribe":
		ctl.handleScreenSubscribe(user, c, data)
	case "screen_share_unsubscribe":
		ctl.handleScreenUnsubscribe(user, c, data)
	case "screen_answer":
		ctl.handleScreenAnswer(user, c, data)
	case "screen_ice_candidate":
		ctl.handleScreenCandidate(user, c, data)
	case "ping":
		ctl.sendJSON(c, map[string]string{"type": "pong"})
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsConn, msg string) {
	ctl.sendJSON(c, map[string]any{
		"type":  "error",
		"error": msg,
	})
}
