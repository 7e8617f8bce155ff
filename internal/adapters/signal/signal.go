// Package signal is the boundary adapter between the real-time
// messaging transport and the SFU core: inbound WS events become
// manager calls, SFU artifacts become outbound WS events.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zsazsa/lefauxpain-sub000/internal/app/sfu"
	"github.com/zsazsa/lefauxpain-sub000/internal/config"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the per-user connection hub and implements
// core.EventSink for the manager.
type Controller struct {
	Manager *sfu.Manager
	cfg     *config.Config

	mu    sync.RWMutex
	conns map[domain.UserID]*wsConn
}

func NewController(cfg *config.Config, manager *sfu.Manager) *Controller {
	return &Controller{
		Manager: manager,
		cfg:     cfg,
		conns:   make(map[domain.UserID]*wsConn),
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades one authenticated user's signaling connection
// and runs its pumps. A reconnect replaces the previous socket.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	user := domain.UserID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("user", string(user)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.cfg.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctl.mu.Lock()
	if old, ok := ctl.conns[user]; ok {
		old.Close()
	}
	ctl.conns[user] = conn
	ctl.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, user, conn)
		ctl.dropConn(user, conn)
		// The lifecycle owner's obligation: unconditional cleanup on
		// transport loss, whatever the cause.
		ctl.Manager.OnDisconnect(user)
	}()

	ctl.sendReady(user, conn)
}

// dropConn unregisters conn unless the user already reconnected.
func (ctl *Controller) dropConn(user domain.UserID, conn *wsConn) {
	ctl.mu.Lock()
	if cur, ok := ctl.conns[user]; ok && cur == conn {
		delete(ctl.conns, user)
	}
	ctl.mu.Unlock()
	conn.Close()
}

func (ctl *Controller) connOf(user domain.UserID) (*wsConn, bool) {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	c, ok := ctl.conns[user]
	return c, ok
}

// sendReady pushes the initial snapshot so a late joiner's view starts
// consistent: every voice state and every active share.
func (ctl *Controller) sendReady(user domain.UserID, conn *wsConn) {
	ctl.sendJSON(conn, struct {
		Type        string               `json:"type"`
		VoiceStates []domain.VoiceState  `json:"voice_states"`
		Shares      []domain.ScreenShare `json:"screen_shares"`
	}{
		Type:        "ready",
		VoiceStates: ctl.Manager.VoiceStates(),
		Shares:      ctl.Manager.ActiveShares(),
	})
}
