package cardgame

import (
	"context"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestRoom(t *testing.T) *Room {
	t.Helper()
	r, err := NewRoom(context.Background(), "test-room-id", "test room", slog.Disabled)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestRoom_AddPlayer(t *testing.T) {
	r := createTestRoom(t)

	p1 := &Player{ID: "p1", Name: "Ash"}
	p2 := &Player{ID: "p2", Name: "Gary"}
	p3 := &Player{ID: "p3", Name: "Brock"}

	assert.True(t, r.AddPlayer(p1))
	assert.True(t, r.AddPlayer(p2))
	assert.True(t, p1.Present)

	// Third seat is rejected.
	assert.False(t, r.AddPlayer(p3))
	assert.Len(t, r.GetPlayers(), 2)

	// Rejoining refreshes presence instead of duplicating the seat.
	p1.SetPresent(false)
	assert.True(t, r.AddPlayer(&Player{ID: "p1"}))
	assert.Len(t, r.GetPlayers(), 2)
	assert.True(t, r.GetPlayer("p1").SetPresent(true))
}

func TestRoom_Full(t *testing.T) {
	r := createTestRoom(t)
	require.True(t, r.AddPlayer(&Player{ID: "p1"}))
	assert.False(t, r.Full())

	require.True(t, r.AddPlayer(&Player{ID: "p2"}))
	assert.True(t, r.Full())

	r.GetPlayer("p2").SetPresent(false)
	assert.False(t, r.Full())
}

func TestRoom_RemovePlayer(t *testing.T) {
	r := createTestRoom(t)
	r.AddPlayer(&Player{ID: "p1"})
	r.AddPlayer(&Player{ID: "p2"})

	assert.False(t, r.RemovePlayer("p1"))
	assert.Nil(t, r.GetPlayer("p1"))
	assert.True(t, r.RemovePlayer("p2"))

	// Removing an unknown player does not panic.
	assert.True(t, r.RemovePlayer("ghost"))
}

func TestRoom_Opponent(t *testing.T) {
	r := createTestRoom(t)
	r.AddPlayer(&Player{ID: "p1"})
	assert.Nil(t, r.Opponent("p1"))

	r.AddPlayer(&Player{ID: "p2"})
	require.NotNil(t, r.Opponent("p1"))
	assert.Equal(t, "p2", r.Opponent("p1").ID)
	assert.Equal(t, "p1", r.Opponent("p2").ID)
}

func TestRoom_DispatchSerializes(t *testing.T) {
	r := createTestRoom(t)

	// Concurrent dispatches with an unguarded counter; the executor makes
	// them race-free.
	n := 0
	done := make(chan struct{})
	const writers = 10
	for i := 0; i < writers; i++ {
		go func() {
			ok := r.DispatchWait(func() { n++ })
			assert.True(t, ok)
			done <- struct{}{}
		}()
	}
	for i := 0; i < writers; i++ {
		<-done
	}
	require.True(t, r.DispatchWait(func() {
		assert.Equal(t, writers, n)
	}))
}

func TestRoom_DispatchAfterClose(t *testing.T) {
	r := createTestRoom(t)
	r.Close()
	assert.False(t, r.Dispatch(func() {}))
	assert.False(t, r.DispatchWait(func() {}))
}

func TestRoom_Countdown(t *testing.T) {
	r := createTestRoom(t)

	ticks := make(chan int, 8)
	expired := make(chan struct{})
	r.StartCountdown(2, func(remaining int) {
		ticks <- remaining
	}, func() {
		close(expired)
	})

	// Starting again while running is a no-op (no second expire fires).
	r.StartCountdown(2, func(int) {}, func() { t.Error("second countdown ran") })

	select {
	case remaining := <-ticks:
		assert.Equal(t, 1, remaining)
	case <-time.After(3 * time.Second):
		t.Fatal("countdown never ticked")
	}
	select {
	case <-expired:
	case <-time.After(3 * time.Second):
		t.Fatal("countdown never expired")
	}
	assert.False(t, r.Marshal().CountdownActive)
}

func TestRoom_StopCountdown(t *testing.T) {
	r := createTestRoom(t)
	r.StartCountdown(5, func(int) {}, func() { t.Error("stopped countdown expired") })
	r.StopCountdown()
	assert.False(t, r.Marshal().CountdownActive)

	// Stopping twice is safe.
	r.StopCountdown()
	time.Sleep(50 * time.Millisecond)
}

func TestRoom_Marshal(t *testing.T) {
	r := createTestRoom(t)
	r.AddPlayer(&Player{ID: "p1", Name: "Ash", WalletAddress: "0xabc"})

	info := r.Marshal()
	assert.Equal(t, "test-room-id", info.ID)
	assert.Equal(t, RoomWaiting, info.Status)
	require.NotNil(t, info.Player1)
	assert.Equal(t, "Ash", info.Player1.Name)
	assert.Nil(t, info.Player2)
}

func TestManager_Rooms(t *testing.T) {
	m := NewManager(slog.Disabled)

	ctx := context.Background()
	r1, err := m.GetOrCreateRoom(ctx, "room-a", "a")
	require.NoError(t, err)
	t.Cleanup(r1.Close)

	// Same id returns the same room.
	again, err := m.GetOrCreateRoom(ctx, "room-a", "different name")
	require.NoError(t, err)
	assert.Same(t, r1, again)

	assert.Nil(t, m.GetRoom("room-b"))
	assert.Len(t, m.Rooms(), 1)
}

func TestManager_PlayerBinding(t *testing.T) {
	m := NewManager(slog.Disabled)
	ctx := context.Background()

	r, err := m.GetOrCreateRoom(ctx, "room-a", "a")
	require.NoError(t, err)
	r.AddPlayer(&Player{ID: "p1"})
	m.BindPlayer("p1", "room-a")

	assert.Same(t, r, m.GetRoomFromPlayer("p1"))
	assert.Nil(t, m.GetRoomFromPlayer("p2"))

	m.ReleasePlayer("p1")
	assert.Nil(t, m.GetRoomFromPlayer("p1"))
}

func TestManager_RemoveRoom(t *testing.T) {
	m := NewManager(slog.Disabled)
	ctx := context.Background()

	r, err := m.GetOrCreateRoom(ctx, "room-a", "a")
	require.NoError(t, err)
	r.AddPlayer(&Player{ID: "p1"})
	m.BindPlayer("p1", "room-a")

	var removed *Room
	m.OnRoomRemoved = func(room *Room) { removed = room }

	m.RemoveRoom("room-a")
	assert.Same(t, r, removed)
	assert.Nil(t, m.GetRoom("room-a"))
	assert.Nil(t, m.GetRoomFromPlayer("p1"))
	assert.False(t, r.Dispatch(func() {}))

	// Unknown room is a no-op and does not refire the hook.
	removed = nil
	m.RemoveRoom("room-a")
	assert.Nil(t, removed)
}
