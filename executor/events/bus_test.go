package events

import (
	"testing"

	"github.com/brensch/gomokuzero/game"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	for i := 0; i < 3; i++ {
		bus.Publish(Event{Kind: MoveCommitted, Turn: i})
	}
	for i := 0; i < 3; i++ {
		ev := <-ch
		require.Equal(t, i, ev.Turn)
	}
	require.Equal(t, int64(3), bus.Stats().Published)
	require.Zero(t, bus.Stats().Dropped)
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	slow, cancelSlow := bus.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := bus.Subscribe(10)
	defer cancelFast()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Kind: MoveCommitted, Turn: i})
	}

	require.Len(t, fast, 5)
	require.Len(t, slow, 1)
	require.Equal(t, 0, (<-slow).Turn, "the oldest event is the one kept")
	require.Equal(t, int64(4), bus.Stats().Dropped)
}

func TestBus_CancelAndClose(t *testing.T) {
	var bus Bus
	ch, cancel := bus.Subscribe(1)
	require.Equal(t, 1, bus.Stats().Subscribers)
	cancel()
	cancel()
	_, open := <-ch
	require.False(t, open)
	require.Zero(t, bus.Stats().Subscribers)

	other, _ := bus.Subscribe(1)
	bus.Close()
	_, open = <-other
	require.False(t, open)

	bus.Publish(Event{Kind: GameReset})
	late, _ := bus.Subscribe(1)
	_, open = <-late
	require.False(t, open)
}

func TestSnapshot(t *testing.T) {
	s := game.New(7)
	ev := Snapshot(GameReset, "g1", s)
	require.Equal(t, game.NoMove, ev.Move)
	require.Equal(t, -1, ev.Row)
	require.Equal(t, 0, ev.Turn)

	require.True(t, s.PlayAt(2, 3))
	require.True(t, s.PlayAt(4, 4))
	ev = Snapshot(MoveCommitted, "g1", s)
	require.Equal(t, 2, ev.Turn)
	require.Equal(t, 4, ev.Row)
	require.Equal(t, 4, ev.Col)
	require.Equal(t, game.White, ev.Player)
	require.Equal(t, int8(1), ev.Board[s.MoveOf(2, 3)])
	require.Equal(t, int8(-1), ev.Board[s.MoveOf(4, 4)])
	require.Equal(t, game.Empty, ev.Winner)
}
