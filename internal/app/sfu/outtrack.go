package sfu

import (
	"sync/atomic"

	"github.com/zsazsa/lefauxpain-sub000/internal/core"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateDelete
)

// OutTrack is one subscriber slot on a relay. The slot itself lives for
// the whole session; only its state changes. A Delete mark is picked up
// by the forwarding loop, which prunes the slot outside its hot path.
type OutTrack struct {
	Track core.OutboundTrack
	state atomic.Int32 // zero value is TrackStateOk
}

func NewOutTrack(track core.OutboundTrack) *OutTrack {
	return &OutTrack{Track: track}
}

func (ot *OutTrack) State() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
