package sfu

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsazsa/lefauxpain-sub000/internal/core"
)

func TestRelayForwardsToAllSubscribers(t *testing.T) {
	src := newFakeInbound("mic", core.KindAudio, 11)
	relay := NewRelay(src, nil, "alice")
	defer relay.Stop()

	bob := &fakeOutbound{id: "audio-alice"}
	carol := &fakeOutbound{id: "audio-alice"}
	relay.Attach("bob", NewOutTrack(bob))
	relay.Attach("carol", NewOutTrack(carol))

	relay.Start(context.Background())
	src.push(1)
	src.push(2)
	src.push(3)

	require.Eventually(t, func() bool {
		return len(bob.received()) == 3 && len(carol.received()) == 3
	}, time.Second, 5*time.Millisecond)

	// Per-receiver order follows arrival order.
	for i, pkt := range bob.received() {
		require.Equal(t, uint16(i+1), pkt.SequenceNumber)
	}
}

func TestRelayServerMuteGatesData(t *testing.T) {
	src := newFakeInbound("mic", core.KindAudio, 11)
	var muted atomic.Bool
	relay := NewRelay(src, &muted, "alice")
	defer relay.Stop()

	bob := &fakeOutbound{id: "audio-alice"}
	relay.Attach("bob", NewOutTrack(bob))
	relay.Start(context.Background())

	src.push(1)
	require.Eventually(t, func() bool {
		return len(bob.received()) == 1
	}, time.Second, 5*time.Millisecond)

	// Mute drops packets without detaching the subscriber.
	muted.Store(true)
	src.push(2)
	src.push(3)
	src.push(4)
	require.Eventually(t, func() bool {
		return len(src.pkts) == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, bob.received(), 1)

	muted.Store(false)
	src.push(5)
	require.Eventually(t, func() bool {
		pkts := bob.received()
		return len(pkts) == 2 && pkts[1].SequenceNumber == 5
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, relay.SubscriberCount())
}

func TestRelayPrunesFailingSubscriber(t *testing.T) {
	src := newFakeInbound("mic", core.KindAudio, 11)
	relay := NewRelay(src, nil, "alice")
	defer relay.Stop()

	bob := &fakeOutbound{id: "audio-alice"}
	broken := &fakeOutbound{id: "audio-alice"}
	broken.setFail(true)
	relay.Attach("bob", NewOutTrack(bob))
	relay.Attach("mallory", NewOutTrack(broken))
	require.Equal(t, 2, relay.SubscriberCount())

	relay.Start(context.Background())
	src.push(1)

	// The failing slot is dropped; the healthy one keeps receiving.
	require.Eventually(t, func() bool {
		return relay.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	src.push(2)
	require.Eventually(t, func() bool {
		return len(bob.received()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRelayDetachStopsDelivery(t *testing.T) {
	src := newFakeInbound("mic", core.KindAudio, 11)
	relay := NewRelay(src, nil, "alice")
	defer relay.Stop()

	bob := &fakeOutbound{id: "audio-alice"}
	relay.Attach("bob", NewOutTrack(bob))
	relay.Start(context.Background())

	src.push(1)
	require.Eventually(t, func() bool {
		return len(bob.received()) == 1
	}, time.Second, 5*time.Millisecond)

	relay.Detach("bob")
	require.Equal(t, 0, relay.SubscriberCount())

	src.push(2)
	// Nothing new may arrive after detach; give the loop a beat.
	time.Sleep(20 * time.Millisecond)
	require.Len(t, bob.received(), 1)
}

func TestRelayEndsOnSourceEOF(t *testing.T) {
	src := newFakeInbound("mic", core.KindAudio, 11)
	relay := NewRelay(src, nil, "alice")

	bob := &fakeOutbound{id: "audio-alice"}
	relay.Attach("bob", NewOutTrack(bob))
	relay.Start(context.Background())

	src.push(1)
	close(src.pkts)

	require.Eventually(t, func() bool {
		return len(bob.received()) == 1
	}, time.Second, 5*time.Millisecond)
}
