package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zsazsa/lefauxpain-sub000/internal/core"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

// Room is the mutual-forwarding group for one voice channel: every
// member's inbound audio is relayed to every other member. Membership
// mutations are serialized by the Manager; the Room's own lock only
// guards its maps against concurrent track arrival callbacks.
type Room struct {
	channel domain.ChannelID

	mu       sync.RWMutex
	sessions map[domain.UserID]*Session
	relays   map[domain.UserID]*Relay

	logger zerolog.Logger
}

func newRoom(channel domain.ChannelID) *Room {
	return &Room{
		channel:  channel,
		sessions: make(map[domain.UserID]*Session),
		relays:   make(map[domain.UserID]*Relay),
		logger:   log.With().Str("module", "sfu.room").Str("channel", string(channel)).Logger(),
	}
}

func (r *Room) Channel() domain.ChannelID { return r.channel }

// AddSession admits a new member and wires its outbound slots for every
// sender already producing audio. The caller issues the session's first
// negotiation afterwards, so one offer covers the whole initial set.
func (r *Room) AddSession(sess *Session) {
	r.mu.Lock()
	r.sessions[sess.User()] = sess
	senders := make(map[domain.UserID]*Relay, len(r.relays))
	for sender, relay := range r.relays {
		senders[sender] = relay
	}
	r.mu.Unlock()

	for sender, relay := range senders {
		if sender == sess.User() {
			continue
		}
		ot, err := sess.AddForward(sender, core.KindAudio)
		if err != nil {
			r.logger.Error().Err(err).
				Str("user", string(sess.User())).
				Str("sender", string(sender)).
				Msg("wire forward on join")
			continue
		}
		relay.Attach(sess.User(), ot)
	}
	r.logger.Info().Str("user", string(sess.User())).Int("members", r.Size()).Msg("member added")
}

// OnSenderTrack runs when a member's inbound audio appears. It starts
// the sender's relay and fans a new outbound slot out to every other
// member, batching one renegotiation per affected session. Each session
// converges on its own time; a slow client blocks nobody.
func (r *Room) OnSenderTrack(ctx context.Context, sess *Session, track core.InboundTrack) {
	relay := NewRelay(track, &sess.serverMute, sess.User())

	r.mu.Lock()
	if old, ok := r.relays[sess.User()]; ok {
		// The client renegotiated its upstream; the fresh track wins.
		old.Stop()
	}
	r.relays[sess.User()] = relay
	others := r.othersLocked(sess.User())
	r.mu.Unlock()

	relay.Start(ctx)

	for _, other := range others {
		ot, err := other.AddForward(sess.User(), core.KindAudio)
		if err != nil {
			r.logger.Error().Err(err).
				Str("user", string(other.User())).
				Str("sender", string(sess.User())).
				Msg("wire forward on track")
			continue
		}
		relay.Attach(other.User(), ot)
		other.RequestNegotiation()
	}
}

// RemoveSession detaches a member everywhere and returns the sibling
// sessions whose track set changed, so the caller can enqueue their
// renegotiations. The removed session itself is not closed here.
func (r *Room) RemoveSession(user domain.UserID) (*Session, []*Session) {
	r.mu.Lock()
	sess, ok := r.sessions[user]
	if !ok {
		r.mu.Unlock()
		return nil, nil
	}
	delete(r.sessions, user)
	if relay, ok := r.relays[user]; ok {
		relay.Stop()
		delete(r.relays, user)
	}
	others := r.othersLocked(user)
	relays := make([]*Relay, 0, len(r.relays))
	for _, relay := range r.relays {
		relays = append(relays, relay)
	}
	r.mu.Unlock()

	// This user no longer receives anyone.
	for _, relay := range relays {
		relay.Detach(user)
	}

	var affected []*Session
	for _, other := range others {
		if other.RemoveForwards(user) {
			affected = append(affected, other)
		}
	}
	r.logger.Info().Str("user", string(user)).Int("members", r.Size()).Msg("member removed")
	return sess, affected
}

func (r *Room) othersLocked(user domain.UserID) []*Session {
	others := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id != user {
			others = append(others, s)
		}
	}
	return others
}

func (r *Room) Get(user domain.UserID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[user]
	return sess, ok
}

func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Room) Empty() bool {
	return r.Size() == 0
}

func (r *Room) VoiceStates() []domain.VoiceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.VoiceState, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.VoiceState())
	}
	return out
}
