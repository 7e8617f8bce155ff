// Package sfu is the media-routing core: it relays encoded packets
// between negotiated peer sessions and never decodes or re-encodes.
package sfu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zsazsa/lefauxpain-sub000/internal/core"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

// Manager is the only component that knows which rooms exist. Rooms and
// screen rooms are created lazily on first use and pruned on last
// departure; all membership mutations pass through the Manager's lock,
// which is the per-process serialization point the ordering guarantees
// rest on. Everything it holds is reconstructible from live
// connections.
type Manager struct {
	factory core.TransportFactory
	events  core.EventSink

	negotiationTimeout time.Duration
	ctx                context.Context

	mu           sync.RWMutex
	rooms        map[domain.ChannelID]*Room
	screens      map[domain.ChannelID]*ScreenRoom
	voiceByUser  map[domain.UserID]domain.ChannelID
	viewerByUser map[domain.UserID]domain.ChannelID

	logger zerolog.Logger
}

func NewManager(ctx context.Context, factory core.TransportFactory, negotiationTimeout time.Duration) *Manager {
	return &Manager{
		factory:            factory,
		negotiationTimeout: negotiationTimeout,
		ctx:                ctx,
		rooms:              make(map[domain.ChannelID]*Room),
		screens:            make(map[domain.ChannelID]*ScreenRoom),
		voiceByUser:        make(map[domain.UserID]domain.ChannelID),
		viewerByUser:       make(map[domain.UserID]domain.ChannelID),
		logger:             log.With().Str("module", "sfu").Logger(),
	}
}

// BindEvents wires the signaling sink. Must be called once before any
// operation; split from the constructor because the bridge and the
// manager reference each other.
func (m *Manager) BindEvents(events core.EventSink) {
	m.events = events
}

// JoinVoice admits a user into a channel's voice room and starts the
// session's first negotiation. The resulting offer reaches the client
// through the event sink.
func (m *Manager) JoinVoice(channel domain.ChannelID, user domain.UserID) error {
	m.mu.Lock()
	if prior, ok := m.voiceByUser[user]; ok {
		m.mu.Unlock()
		m.logger.Warn().Str("user", string(user)).Str("in", string(prior)).Msg("join rejected")
		return fmt.Errorf("%w: %s", ErrAlreadyInRoom, prior)
	}

	transport, err := m.factory.NewTransport(domain.RoleVoice, user)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("voice transport: %w", err)
	}

	room, ok := m.rooms[channel]
	if !ok {
		room = newRoom(channel)
		m.rooms[channel] = room
	}

	sess := newSession(user, channel, domain.RoleVoice, transport, m.negotiationTimeout)
	m.wireSession(sess, transport)
	transport.OnTrack(func(t core.InboundTrack) {
		room.OnSenderTrack(m.ctx, sess, t)
	})

	m.voiceByUser[user] = channel
	room.AddSession(sess)
	m.mu.Unlock()

	m.logger.Info().Str("user", string(user)).Str("channel", string(channel)).Msg("voice join")
	sess.RequestNegotiation()
	m.events.VoiceStateChanged(sess.VoiceState())
	return nil
}

// LeaveVoice removes the user's voice session wherever it is. Idempotent;
// a user with no session is a no-op. If the user was presenting in the
// same channel the whole screen room goes down with them.
func (m *Manager) LeaveVoice(user domain.UserID) {
	m.leaveVoice(user, nil)
}

// leaveVoice is LeaveVoice scoped to one session generation: a non-nil
// expect removes only that exact session. Failure callbacks pass the
// session they were created for, so one firing late, after the user
// already left and rejoined, cannot take the fresh session down.
func (m *Manager) leaveVoice(user domain.UserID, expect *Session) {
	m.mu.Lock()
	channel, ok := m.voiceByUser[user]
	if !ok {
		m.mu.Unlock()
		return
	}
	if expect != nil {
		if cur, ok := m.rooms[channel].Get(user); !ok || cur != expect {
			m.mu.Unlock()
			return
		}
	}
	delete(m.voiceByUser, user)

	var stopped *ScreenRoom
	if sr, ok := m.screens[channel]; ok && sr.PresenterID() == user {
		stopped = sr
		m.dropScreenRoomLocked(channel)
	}

	room := m.rooms[channel]
	sess, affected := room.RemoveSession(user)
	if room.Empty() {
		delete(m.rooms, channel)
	}
	m.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	for _, other := range affected {
		other.RequestNegotiation()
	}
	m.logger.Info().Str("user", string(user)).Str("channel", string(channel)).Msg("voice leave")
	m.events.VoiceStateChanged(domain.VoiceState{UserID: user})

	if stopped != nil {
		share := stopped.Share()
		stopped.Stop()
		m.events.ScreenShareStopped(share)
	}
}

// StartScreenShare creates the channel's screen room with this user as
// presenter. The presenter must already hold a voice session in the
// channel, and a second presenter is always rejected.
func (m *Manager) StartScreenShare(channel domain.ChannelID, user domain.UserID) error {
	m.mu.Lock()
	room, ok := m.rooms[channel]
	if !ok {
		m.mu.Unlock()
		return ErrNotInVoice
	}
	if _, ok := room.Get(user); !ok {
		m.mu.Unlock()
		return ErrNotInVoice
	}
	if _, ok := m.screens[channel]; ok {
		m.mu.Unlock()
		return ErrAlreadyPresenting
	}

	transport, err := m.factory.NewTransport(domain.RolePresenter, user)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("presenter transport: %w", err)
	}

	sess := newSession(user, channel, domain.RolePresenter, transport, m.negotiationTimeout)
	sr := newScreenRoom(channel, sess)
	m.wireSession(sess, transport)
	transport.OnTrack(func(t core.InboundTrack) {
		sr.OnPresenterTrack(m.ctx, t)
	})
	m.screens[channel] = sr
	m.mu.Unlock()

	m.logger.Info().Str("user", string(user)).Str("channel", string(channel)).Msg("screen share started")
	sess.RequestNegotiation()
	m.events.ScreenShareStarted(sr.Share())
	return nil
}

// StopScreenShare tears down the channel's share if user is its
// presenter. No-op otherwise; cascading callers (leave, disconnect)
// funnel through LeaveVoice instead.
func (m *Manager) StopScreenShare(channel domain.ChannelID, user domain.UserID) {
	m.stopScreenShare(channel, user, nil)
}

func (m *Manager) stopScreenShare(channel domain.ChannelID, user domain.UserID, expect *Session) {
	m.mu.Lock()
	sr, ok := m.screens[channel]
	if !ok || sr.PresenterID() != user {
		m.mu.Unlock()
		return
	}
	if expect != nil && sr.Presenter() != expect {
		m.mu.Unlock()
		return
	}
	m.dropScreenRoomLocked(channel)
	m.mu.Unlock()

	share := sr.Share()
	sr.Stop()
	m.logger.Info().Str("user", string(user)).Str("channel", string(channel)).Msg("screen share stopped")
	m.events.ScreenShareStopped(share)
}

// SubscribeScreenShare adds the user as a viewer of the channel's
// active share. Viewers need no voice membership. Subscribing twice
// re-sends the existing offer instead of duplicating the session. A
// user holds at most one viewer session: a subscribe toward a second
// channel is rejected until the first is unsubscribed, which is what
// keeps (user, role) routing and disconnect cleanup unambiguous.
func (m *Manager) SubscribeScreenShare(channel domain.ChannelID, user domain.UserID) error {
	m.mu.Lock()
	sr, ok := m.screens[channel]
	if !ok {
		m.mu.Unlock()
		return ErrNoActiveShare
	}
	if existing, ok := sr.Viewer(user); ok {
		m.mu.Unlock()
		if sdp := existing.LastOffer(); sdp != "" {
			m.events.Offer(user, domain.RoleViewer, sdp)
		}
		return nil
	}
	if prior, ok := m.viewerByUser[user]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyViewing, prior)
	}

	transport, err := m.factory.NewTransport(domain.RoleViewer, user)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("viewer transport: %w", err)
	}

	sess := newSession(user, channel, domain.RoleViewer, transport, m.negotiationTimeout)
	m.wireSession(sess, transport)
	transport.OnKeyframeRequest(func() {
		sr.RequestKeyframe()
	})
	m.viewerByUser[user] = channel
	sr.AddViewer(sess)
	m.mu.Unlock()

	m.logger.Info().Str("user", string(user)).Str("channel", string(channel)).Msg("screen subscribe")
	sess.RequestNegotiation()
	sr.RequestKeyframe()
	return nil
}

// UnsubscribeScreenShare drops the user's viewer session. Idempotent;
// naming a channel the user is not viewing changes nothing.
func (m *Manager) UnsubscribeScreenShare(channel domain.ChannelID, user domain.UserID) {
	m.unsubscribeScreenShare(channel, user, nil)
}

func (m *Manager) unsubscribeScreenShare(channel domain.ChannelID, user domain.UserID, expect *Session) {
	m.mu.Lock()
	sr, ok := m.screens[channel]
	if !ok {
		m.mu.Unlock()
		return
	}
	if expect != nil {
		if cur, ok := sr.Viewer(user); !ok || cur != expect {
			m.mu.Unlock()
			return
		}
	}
	sess, ok := sr.RemoveViewer(user)
	if ok {
		delete(m.viewerByUser, user)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.Close()
	m.logger.Info().Str("user", string(user)).Str("channel", string(channel)).Msg("screen unsubscribe")
}

// ApplyAnswer routes a remote answer to the session identified by
// (user, role) and lets its coordinator advance.
func (m *Manager) ApplyAnswer(user domain.UserID, role domain.Role, sdp string) error {
	sess, ok := m.sessionFor(user, role)
	if !ok {
		return fmt.Errorf("answer for unknown session %s/%s", user, role)
	}
	return sess.HandleAnswer(sdp)
}

// ApplyRemoteCandidate routes a trickled ICE candidate the same way.
func (m *Manager) ApplyRemoteCandidate(user domain.UserID, role domain.Role, cand webrtc.ICECandidateInit) error {
	sess, ok := m.sessionFor(user, role)
	if !ok {
		return fmt.Errorf("candidate for unknown session %s/%s", user, role)
	}
	return sess.AddICECandidate(cand)
}

// SetSelfMute flips the flag and broadcasts the new state. Pure state:
// no negotiation ever results from mute changes.
func (m *Manager) SetSelfMute(user domain.UserID, muted bool) {
	if sess, ok := m.voiceSession(user); ok {
		sess.selfMute.Store(muted)
		m.events.VoiceStateChanged(sess.VoiceState())
	}
}

func (m *Manager) SetSelfDeafen(user domain.UserID, deafened bool) {
	if sess, ok := m.voiceSession(user); ok {
		sess.selfDeafen.Store(deafened)
		m.events.VoiceStateChanged(sess.VoiceState())
	}
}

// SetServerMute suppresses forwarding of the target's audio to everyone
// without touching any track. Privilege checks happen upstream.
func (m *Manager) SetServerMute(user domain.UserID, muted bool) {
	if sess, ok := m.voiceSession(user); ok {
		sess.serverMute.Store(muted)
		m.events.VoiceStateChanged(sess.VoiceState())
	}
}

// SetSpeaking records the client-reported audio-energy hint.
// Presentational only; forwarding never consults it.
func (m *Manager) SetSpeaking(user domain.UserID, speaking bool) {
	if sess, ok := m.voiceSession(user); ok {
		sess.speaking.Store(speaking)
		m.events.VoiceStateChanged(sess.VoiceState())
	}
}

// OnDisconnect is the unconditional cleanup hook the connection
// lifecycle owner calls when a user's transport drops. It removes the
// user from every room type and is safe to call when there is nothing
// to clean.
func (m *Manager) OnDisconnect(user domain.UserID) {
	m.mu.RLock()
	viewerChannel, isViewer := m.viewerByUser[user]
	m.mu.RUnlock()
	if isViewer {
		m.UnsubscribeScreenShare(viewerChannel, user)
	}
	// LeaveVoice cascades presenter teardown with it.
	m.LeaveVoice(user)
}

// VoiceChannelOf reports which channel the user's voice session is in.
func (m *Manager) VoiceChannelOf(user domain.UserID) (domain.ChannelID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.voiceByUser[user]
	return channel, ok
}

// RouteScreenAnswer delivers a screen-role answer: a user can hold at
// most one presenter and one viewer session, presenter tried first.
func (m *Manager) RouteScreenAnswer(user domain.UserID, sdp string) error {
	if sess, ok := m.sessionFor(user, domain.RolePresenter); ok {
		return sess.HandleAnswer(sdp)
	}
	if sess, ok := m.sessionFor(user, domain.RoleViewer); ok {
		return sess.HandleAnswer(sdp)
	}
	return fmt.Errorf("screen answer for unknown session %s", user)
}

// RouteScreenCandidate delivers a screen-role trickled candidate.
func (m *Manager) RouteScreenCandidate(user domain.UserID, cand webrtc.ICECandidateInit) error {
	if sess, ok := m.sessionFor(user, domain.RolePresenter); ok {
		return sess.AddICECandidate(cand)
	}
	if sess, ok := m.sessionFor(user, domain.RoleViewer); ok {
		return sess.AddICECandidate(cand)
	}
	return fmt.Errorf("screen candidate for unknown session %s", user)
}

// ListVoiceStates is the read-only snapshot a late joiner populates its
// view from.
func (m *Manager) ListVoiceStates(channel domain.ChannelID) []domain.VoiceState {
	m.mu.RLock()
	room, ok := m.rooms[channel]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return room.VoiceStates()
}

// VoiceStates returns the states of every voice session process-wide.
func (m *Manager) VoiceStates() []domain.VoiceState {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	var out []domain.VoiceState
	for _, room := range rooms {
		out = append(out, room.VoiceStates()...)
	}
	return out
}

// GetActiveShare reports the channel's active share, if any.
func (m *Manager) GetActiveShare(channel domain.ChannelID) (domain.ScreenShare, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sr, ok := m.screens[channel]
	if !ok {
		return domain.ScreenShare{}, false
	}
	return sr.Share(), true
}

// ActiveShares lists every channel's active share.
func (m *Manager) ActiveShares() []domain.ScreenShare {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ScreenShare, 0, len(m.screens))
	for _, sr := range m.screens {
		out = append(out, sr.Share())
	}
	return out
}

// wireSession connects a session's signaling artifacts to the sink and
// its failure paths to role-scoped teardown. Negotiation failure and
// transport loss are treated identically to a disconnect.
func (m *Manager) wireSession(sess *Session, transport core.MediaTransport) {
	user, role := sess.User(), sess.Role()
	sess.neg.sendOffer = func(sdp string) {
		sess.rememberOffer(sdp)
		m.events.Offer(user, role, sdp)
	}
	teardown := m.teardownFunc(sess)
	sess.neg.onFailure = teardown
	transport.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		m.events.Candidate(user, role, cand)
	})
	transport.OnClosed(teardown)
}

// teardownFunc returns the cleanup matching the session's role. Always
// async: transport callbacks may fire while the manager lock is held by
// the very operation that triggered them. The closures carry the
// session itself, so a callback from a dead generation never touches
// the session a rejoin created.
func (m *Manager) teardownFunc(sess *Session) func() {
	user, channel := sess.User(), sess.Channel()
	switch sess.Role() {
	case domain.RolePresenter:
		return func() {
			go m.stopScreenShare(channel, user, sess)
		}
	case domain.RoleViewer:
		return func() {
			go m.unsubscribeScreenShare(channel, user, sess)
		}
	default:
		return func() {
			go m.leaveVoice(user, sess)
		}
	}
}

func (m *Manager) sessionFor(user domain.UserID, role domain.Role) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch role {
	case domain.RoleViewer:
		channel, ok := m.viewerByUser[user]
		if !ok {
			return nil, false
		}
		sr, ok := m.screens[channel]
		if !ok {
			return nil, false
		}
		return sr.Viewer(user)
	case domain.RolePresenter:
		channel, ok := m.voiceByUser[user]
		if !ok {
			return nil, false
		}
		sr, ok := m.screens[channel]
		if !ok || sr.PresenterID() != user {
			return nil, false
		}
		return sr.Presenter(), true
	default:
		channel, ok := m.voiceByUser[user]
		if !ok {
			return nil, false
		}
		room, ok := m.rooms[channel]
		if !ok {
			return nil, false
		}
		return room.Get(user)
	}
}

func (m *Manager) voiceSession(user domain.UserID) (*Session, bool) {
	return m.sessionFor(user, domain.RoleVoice)
}

// dropScreenRoomLocked unlinks a screen room and its viewer index
// entries. Caller holds m.mu and performs the Stop outside it.
func (m *Manager) dropScreenRoomLocked(channel domain.ChannelID) {
	delete(m.screens, channel)
	for user, ch := range m.viewerByUser {
		if ch == channel {
			delete(m.viewerByUser, user)
		}
	}
}
