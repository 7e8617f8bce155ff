package sfu

import "errors"

var (
	// ErrAlreadyInRoom: a user holds at most one voice session; the
	// caller must leave the prior room first.
	ErrAlreadyInRoom = errors.New("user already in a voice room")
	// ErrAlreadyPresenting: a second presenter is rejected, never
	// silently replaces the active one.
	ErrAlreadyPresenting = errors.New("screen share already active in channel")
	// ErrNotInVoice: only a voice-channel member may present.
	ErrNotInVoice = errors.New("user not in this voice channel")
	// ErrNoActiveShare: nothing to subscribe to.
	ErrNoActiveShare = errors.New("no active screen share in channel")
	// ErrAlreadyViewing: a user holds at most one viewer session; the
	// caller must unsubscribe from the prior share first.
	ErrAlreadyViewing = errors.New("user already viewing a screen share")

	errSessionClosed = errors.New("session closed")
)
