package sfu

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zsazsa/lefauxpain-sub000/internal/core"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

// ScreenRoom is the one-to-many forwarding group for one channel's
// screen share: exactly one presenter sending video (and optionally
// audio) upstream, any number of viewers receiving it. Viewer churn
// never touches the presenter's negotiation; the presenter's session is
// created recv-only once and left alone.
type ScreenRoom struct {
	channel   domain.ChannelID
	presenter *Session

	mu      sync.RWMutex
	viewers map[domain.UserID]*Session
	relays  map[core.TrackKind]*Relay

	videoSSRC atomic.Uint32
	stopOnce  sync.Once

	logger zerolog.Logger
}

func newScreenRoom(channel domain.ChannelID, presenter *Session) *ScreenRoom {
	return &ScreenRoom{
		channel:   channel,
		presenter: presenter,
		viewers:   make(map[domain.UserID]*Session),
		relays:    make(map[core.TrackKind]*Relay),
		logger: log.With().
			Str("module", "sfu.screen").
			Str("channel", string(channel)).
			Str("presenter", string(presenter.User())).
			Logger(),
	}
}

func (sr *ScreenRoom) Channel() domain.ChannelID  { return sr.channel }
func (sr *ScreenRoom) Presenter() *Session        { return sr.presenter }
func (sr *ScreenRoom) PresenterID() domain.UserID { return sr.presenter.User() }

func (sr *ScreenRoom) Share() domain.ScreenShare {
	return domain.ScreenShare{UserID: sr.presenter.User(), ChannelID: sr.channel}
}

// OnPresenterTrack starts relaying one of the presenter's tracks and
// wires it to every viewer already subscribed.
func (sr *ScreenRoom) OnPresenterTrack(ctx context.Context, track core.InboundTrack) {
	relay := NewRelay(track, nil, sr.presenter.User())

	sr.mu.Lock()
	if old, ok := sr.relays[track.Kind()]; ok {
		old.Stop()
	}
	sr.relays[track.Kind()] = relay
	viewers := sr.viewersLocked()
	sr.mu.Unlock()

	if track.Kind() == core.KindVideo {
		sr.videoSSRC.Store(track.SSRC())
	}

	relay.Start(ctx)

	for _, viewer := range viewers {
		ot, err := viewer.AddForward(sr.presenter.User(), track.Kind())
		if err != nil {
			sr.logger.Error().Err(err).Str("viewer", string(viewer.User())).Msg("wire viewer on track")
			continue
		}
		relay.Attach(viewer.User(), ot)
		viewer.RequestNegotiation()
	}
}

// AddViewer subscribes a new viewer to every presenter track already
// flowing. The caller issues the viewer's first negotiation and the
// upstream keyframe request afterwards.
func (sr *ScreenRoom) AddViewer(sess *Session) {
	sr.mu.Lock()
	sr.viewers[sess.User()] = sess
	relays := make(map[core.TrackKind]*Relay, len(sr.relays))
	for kind, relay := range sr.relays {
		relays[kind] = relay
	}
	sr.mu.Unlock()

	for kind, relay := range relays {
		ot, err := sess.AddForward(sr.presenter.User(), kind)
		if err != nil {
			sr.logger.Error().Err(err).Str("viewer", string(sess.User())).Msg("wire viewer on subscribe")
			continue
		}
		relay.Attach(sess.User(), ot)
	}
	sr.logger.Info().Str("viewer", string(sess.User())).Int("viewers", sr.ViewerCount()).Msg("viewer added")
}

// RequestKeyframe asks the presenter's encoder for a self-contained
// frame so a mid-stream viewer is not stuck waiting for the next
// scheduled one. Control-plane only; no forwarding involved.
func (sr *ScreenRoom) RequestKeyframe() {
	ssrc := sr.videoSSRC.Load()
	if ssrc == 0 {
		return
	}
	if err := sr.presenter.transport.RequestKeyframe(ssrc); err != nil {
		sr.logger.Debug().Err(err).Msg("keyframe request")
	}
}

// RemoveViewer unsubscribes one viewer without touching anyone else.
// The returned session is for the caller to close.
func (sr *ScreenRoom) RemoveViewer(user domain.UserID) (*Session, bool) {
	sr.mu.Lock()
	sess, ok := sr.viewers[user]
	if !ok {
		sr.mu.Unlock()
		return nil, false
	}
	delete(sr.viewers, user)
	relays := make([]*Relay, 0, len(sr.relays))
	for _, relay := range sr.relays {
		relays = append(relays, relay)
	}
	sr.mu.Unlock()

	for _, relay := range relays {
		relay.Detach(user)
	}
	sr.logger.Info().Str("viewer", string(user)).Int("viewers", sr.ViewerCount()).Msg("viewer removed")
	return sess, true
}

func (sr *ScreenRoom) Viewer(user domain.UserID) (*Session, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	sess, ok := sr.viewers[user]
	return sess, ok
}

func (sr *ScreenRoom) ViewerCount() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.viewers)
}

func (sr *ScreenRoom) viewersLocked() []*Session {
	out := make([]*Session, 0, len(sr.viewers))
	for _, v := range sr.viewers {
		out = append(out, v)
	}
	return out
}

// Stop tears the whole room down: presenter and every viewer, exactly
// once. Losing the presenter is a hard boundary; nobody keeps a frozen
// last frame.
func (sr *ScreenRoom) Stop() {
	sr.stopOnce.Do(func() {
		sr.mu.Lock()
		relays := make([]*Relay, 0, len(sr.relays))
		for _, relay := range sr.relays {
			relays = append(relays, relay)
		}
		sr.relays = make(map[core.TrackKind]*Relay)
		viewers := sr.viewersLocked()
		sr.viewers = make(map[domain.UserID]*Session)
		sr.mu.Unlock()

		for _, relay := range relays {
			relay.Stop()
		}
		for _, viewer := range viewers {
			viewer.Close()
		}
		sr.presenter.Close()
		sr.logger.Info().Msg("screen room stopped")
	})
}
