package sfu

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zsazsa/lefauxpain-sub000/internal/core"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

type forwardKey struct {
	peer domain.UserID
	kind core.TrackKind
}

// Session is one user's one negotiated connection for one role. It is
// owned exclusively by its Room or ScreenRoom and holds only its
// channel's ID, never a reference back to the owner. Destruction is
// terminal; a rejoin gets a fresh session.
type Session struct {
	user    domain.UserID
	channel domain.ChannelID
	role    domain.Role

	transport core.MediaTransport
	neg       *negotiator

	mu       sync.Mutex
	forwards map[forwardKey]*OutTrack

	selfMute   atomic.Bool
	selfDeafen atomic.Bool
	serverMute atomic.Bool
	speaking   atomic.Bool

	closed    atomic.Bool
	lastOffer atomic.Value // string; most recent offer sent out
	logger    zerolog.Logger
}

func newSession(user domain.UserID, channel domain.ChannelID, role domain.Role,
	transport core.MediaTransport, negotiationTimeout time.Duration) *Session {
	logger := log.With().
		Str("module", "sfu.session").
		Str("user", string(user)).
		Str("channel", string(channel)).
		Str("role", role.String()).
		Logger()

	s := &Session{
		user:      user,
		channel:   channel,
		role:      role,
		transport: transport,
		forwards:  make(map[forwardKey]*OutTrack),
		logger:    logger,
	}
	s.neg = newNegotiator(negotiationTimeout, logger)
	s.neg.createOffer = transport.CreateOffer
	s.neg.applyAnswer = transport.ApplyAnswer
	return s
}

func (s *Session) User() domain.UserID       { return s.user }
func (s *Session) Channel() domain.ChannelID { return s.channel }
func (s *Session) Role() domain.Role         { return s.role }

// AddForward creates the outbound slot on this session that will mirror
// peer's track of the given kind. The slot persists for the session's
// whole lifetime; mute only gates the data flowing through it. If the
// peer's upstream track re-fired, the stale slot for the same key is
// retired first so the transport never accumulates dead senders.
func (s *Session) AddForward(peer domain.UserID, kind core.TrackKind) (*OutTrack, error) {
	if s.closed.Load() {
		return nil, errSessionClosed
	}
	key := forwardKey{peer: peer, kind: kind}

	s.mu.Lock()
	stale := s.forwards[key]
	delete(s.forwards, key)
	s.mu.Unlock()
	if stale != nil {
		stale.MarkDelete()
		if err := s.transport.RemoveTrack(stale.Track); err != nil {
			s.logger.Debug().Err(err).Msg("remove stale track")
		}
	}

	id := fmt.Sprintf("%s-%s", kind, peer)
	track, err := s.transport.AddTrack(kind, id, string(peer))
	if err != nil {
		return nil, fmt.Errorf("add forward %s: %w", id, err)
	}
	ot := NewOutTrack(track)
	s.mu.Lock()
	s.forwards[key] = ot
	s.mu.Unlock()
	return ot, nil
}

// RemoveForwards drops every outbound slot sourced from peer. Returns
// true if the session's track set changed (a renegotiation is due).
func (s *Session) RemoveForwards(peer domain.UserID) bool {
	s.mu.Lock()
	var removed []*OutTrack
	for key, ot := range s.forwards {
		if key.peer != peer {
			continue
		}
		delete(s.forwards, key)
		removed = append(removed, ot)
	}
	s.mu.Unlock()

	for _, ot := range removed {
		ot.MarkDelete()
		if err := s.transport.RemoveTrack(ot.Track); err != nil {
			s.logger.Debug().Err(err).Msg("remove track")
		}
	}
	return len(removed) > 0
}

func (s *Session) ForwardCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forwards)
}

// RequestNegotiation hands the session to its coordinator. Safe to call
// at any time; concurrent topology changes coalesce.
func (s *Session) RequestNegotiation() {
	s.neg.Request()
}

func (s *Session) HandleAnswer(sdp string) error {
	return s.neg.HandleAnswer(sdp)
}

func (s *Session) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return s.transport.AddICECandidate(cand)
}

func (s *Session) VoiceState() domain.VoiceState {
	return domain.VoiceState{
		UserID:     s.user,
		ChannelID:  s.channel,
		SelfMute:   s.selfMute.Load(),
		SelfDeafen: s.selfDeafen.Load(),
		ServerMute: s.serverMute.Load(),
		Speaking:   s.speaking.Load(),
	}
}

// Close tears the session down. Idempotent and terminal.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.neg.Close()
	s.transport.Close()
	s.logger.Debug().Msg("session closed")
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

// LastOffer returns the most recent offer sent for this session, empty
// if none went out yet. Used to answer a duplicate subscribe without
// starting a second negotiation.
func (s *Session) LastOffer() string {
	if v, ok := s.lastOffer.Load().(string); ok {
		return v
	}
	return ""
}

func (s *Session) rememberOffer(sdp string) {
	s.lastOffer.Store(sdp)
}
