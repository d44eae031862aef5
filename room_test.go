package main

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/fishka/games"
)

var pass = json.RawMessage(`{"kind":"pass"}`)

func TestRoomJoinOrder(t *testing.T) {
	cfg := testConfig()
	_, room, host, _ := newTestRoom(t, cfg, "")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	c := newTestSession(t, sessions, "Вика")

	_, err := room.Join(b, &fakeSub{})
	require.NoError(t, err)
	view, err := room.Join(c, &fakeSub{})
	require.NoError(t, err)

	require.Len(t, view.Players, 3)
	assert.Equal(t, host.PlayerID, view.HostID)
	assert.Equal(t, PhaseLobby, view.Phase)
	assert.Equal(t, games.Default().ID, view.Game)

	for i, want := range []string{host.PlayerID, b.PlayerID, c.PlayerID} {
		assert.Equal(t, want, view.Players[i].ID)
		assert.Equal(t, i, view.Players[i].JoinOrder)
		assert.Equal(t, PlayerConnected, view.Players[i].State)
	}
	assert.True(t, view.Players[0].IsHost)
	assert.False(t, view.Players[1].IsHost)
}

func TestRoomBroadcastsRosterChanges(t *testing.T) {
	cfg := testConfig()
	_, room, _, hostSub := newTestRoom(t, cfg, "")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	bSub := &fakeSub{}
	_, err := room.Join(b, bSub)
	require.NoError(t, err)

	last := hostSub.lastRoom()
	assert.Equal(t, EventRosterChanged, last.Event)
	assert.Len(t, last.Room.Players, 2)

	// Both subscribers see the same event.
	assert.Equal(t, last, bSub.lastRoom())

	c := newTestSession(t, sessions, "Вика")
	_, err = room.Join(c, &fakeSub{})
	require.NoError(t, err)

	events := hostSub.roomEvents()
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Room.Seq, events[i-1].Room.Seq)
	}
}

func TestRoomRejoinSendsSnapshot(t *testing.T) {
	cfg := testConfig()
	_, room, host, _ := newTestRoom(t, cfg, "")

	second := &fakeSub{}
	view, err := room.Join(host, second)
	require.NoError(t, err)
	require.Len(t, view.Players, 1)

	events := second.roomEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventSnapshot, events[0].Event)
	assert.Equal(t, view.Seq, events[0].Room.Seq)
}

func TestRoomReconnectKeepsSlot(t *testing.T) {
	cfg := testConfig()
	cfg.graceWindow = time.Hour
	_, room, _, _ := newTestRoom(t, cfg, "")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	c := newTestSession(t, sessions, "Вика")
	_, err := room.Join(b, &fakeSub{})
	require.NoError(t, err)
	_, err = room.Join(c, &fakeSub{})
	require.NoError(t, err)

	require.NoError(t, room.Leave(b.PlayerID, nil))

	view, err := room.View()
	require.NoError(t, err)
	p, ok := playerByID(view, b.PlayerID)
	require.True(t, ok)
	assert.Equal(t, PlayerDisconnected, p.State)

	view, err = room.Join(b, &fakeSub{})
	require.NoError(t, err)
	p, ok = playerByID(view, b.PlayerID)
	require.True(t, ok)
	assert.Equal(t, PlayerConnected, p.State)
	assert.Equal(t, 1, p.JoinOrder)
	assert.Len(t, view.Players, 3)
}

func TestRoomLeaveTransfersHost(t *testing.T) {
	cfg := testConfig()
	cfg.graceWindow = time.Hour
	_, room, host, hostSub := newTestRoom(t, cfg, "")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	c := newTestSession(t, sessions, "Вика")
	bSub := &fakeSub{}
	_, err := room.Join(b, bSub)
	require.NoError(t, err)
	_, err = room.Join(c, &fakeSub{})
	require.NoError(t, err)

	require.NoError(t, room.Leave(host.PlayerID, hostSub))

	assert.Equal(t, 1, hostSub.count("left"))

	view, err := room.View()
	require.NoError(t, err)
	assert.Equal(t, b.PlayerID, view.HostID)

	last := bSub.lastRoom()
	assert.Equal(t, EventHostChanged, last.Event)
	assert.Equal(t, b.PlayerID, last.Room.HostID)

	// The old host is no longer subscribed.
	before := len(hostSub.messages())
	require.NoError(t, room.Rename(c.PlayerID, "Виктория"))
	assert.Len(t, hostSub.messages(), before)
}

func TestRoomHostFallsBackToDisconnectedPlayer(t *testing.T) {
	cfg := testConfig()
	cfg.graceWindow = time.Hour
	_, room, host, _ := newTestRoom(t, cfg, "")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	_, err := room.Join(b, &fakeSub{})
	require.NoError(t, err)

	require.NoError(t, room.Leave(b.PlayerID, nil))
	require.NoError(t, room.Leave(host.PlayerID, nil))

	view, err := room.View()
	require.NoError(t, err)
	assert.Equal(t, b.PlayerID, view.HostID)

	// Whoever comes back first while the host is away takes over.
	_, err = room.Join(host, &fakeSub{})
	require.NoError(t, err)
	view, err = room.View()
	require.NoError(t, err)
	assert.Equal(t, host.PlayerID, view.HostID)
}

func TestRoomStart(t *testing.T) {
	cfg := testConfig()
	_, room, host, hostSub := newTestRoom(t, cfg, "")
	sessions := newSessionStore()

	assert.ErrorIs(t, room.Start(host.PlayerID), ErrInsufficientPlayers)

	b := newTestSession(t, sessions, "Боря")
	bSub := &fakeSub{}
	_, err := room.Join(b, bSub)
	require.NoError(t, err)

	assert.ErrorIs(t, room.Start(b.PlayerID), ErrNotHost)

	require.NoError(t, room.Start(host.PlayerID))

	view, err := room.View()
	require.NoError(t, err)
	assert.Equal(t, PhaseInProgress, view.Phase)

	assert.Equal(t, EventPhaseChanged, bSub.lastRoom().Event)
	assert.Equal(t, 1, bSub.count("game"))
	assert.Equal(t, 1, hostSub.count("game"))

	// Starting twice is harmless.
	require.NoError(t, room.Start(host.PlayerID))
	assert.Equal(t, 1, bSub.count("game"))

	c := newTestSession(t, sessions, "Вика")
	_, err = room.Join(c, &fakeSub{})
	assert.ErrorIs(t, err, ErrRoomNotJoinable)

	// Players already seated can still come back mid-game and get the state.
	again := &fakeSub{}
	_, err = room.Join(b, again)
	require.NoError(t, err)
	assert.Equal(t, 1, again.count("game"))
}

func TestRoomStartCountsConnectedPlayersOnly(t *testing.T) {
	cfg := testConfig()
	cfg.graceWindow = time.Hour
	_, room, host, _ := newTestRoom(t, cfg, "")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	_, err := room.Join(b, &fakeSub{})
	require.NoError(t, err)
	require.NoError(t, room.Leave(b.PlayerID, nil))

	assert.ErrorIs(t, room.Start(host.PlayerID), ErrInsufficientPlayers)
}

func TestRoomStartHonorsKindMinimum(t *testing.T) {
	cfg := testConfig()
	_, room, host, _ := newTestRoom(t, cfg, "crocodile")
	sessions := newSessionStore()

	_, err := room.Join(newTestSession(t, sessions, "Боря"), &fakeSub{})
	require.NoError(t, err)
	assert.ErrorIs(t, room.Start(host.PlayerID), ErrInsufficientPlayers)

	_, err = room.Join(newTestSession(t, sessions, "Вика"), &fakeSub{})
	require.NoError(t, err)
	assert.NoError(t, room.Start(host.PlayerID))
}

func TestRoomFull(t *testing.T) {
	cfg := testConfig()
	_, room, _, _ := newTestRoom(t, cfg, "tapeworm")
	sessions := newSessionStore()

	kind, ok := games.Lookup("tapeworm")
	require.True(t, ok)

	for i := 1; i < kind.MaxPlayers; i++ {
		_, err := room.Join(newTestSession(t, sessions, "Игрок"), &fakeSub{})
		require.NoError(t, err)
	}

	_, err := room.Join(newTestSession(t, sessions, "Лишний"), &fakeSub{})
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestRoomActPlaysToCompletion(t *testing.T) {
	cfg := testConfig()
	reg, room, host, hostSub := newTestRoom(t, cfg, "tapeworm")
	sessions := newSessionStore()

	assert.ErrorIs(t, room.Act(host.PlayerID, pass), ErrGameNotRunning)

	b := newTestSession(t, sessions, "Боря")
	_, err := room.Join(b, &fakeSub{})
	require.NoError(t, err)
	require.NoError(t, room.Start(host.PlayerID))

	assert.ErrorIs(t, room.Act(b.PlayerID, pass), games.ErrNotYourTurn)
	assert.ErrorIs(t, room.Act(host.PlayerID, json.RawMessage(`{"kind":"draw"}`)), games.ErrBadAction)

	// Three rounds of two seats each.
	order := []string{host.PlayerID, b.PlayerID}
	for turn := 0; turn < 6; turn++ {
		require.NoError(t, room.Act(order[turn%2], pass))
	}

	assert.Equal(t, PhaseClosed, hostSub.lastRoom().Room.Phase)

	_, err = room.View()
	assert.ErrorIs(t, err, ErrRoomNotFound)

	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRoomDetachDisconnectsAfterTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.graceWindow = time.Hour
	_, room, _, hostSub := newTestRoom(t, cfg, "")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	bSub := &fakeSub{}
	_, err := room.Join(b, bSub)
	require.NoError(t, err)

	room.Detach(bSub)

	view, err := room.View()
	require.NoError(t, err)
	p, _ := playerByID(view, b.PlayerID)
	assert.Equal(t, PlayerConnected, p.State)

	require.Eventually(t, func() bool {
		view, err := room.View()
		if err != nil {
			return false
		}
		p, _ := playerByID(view, b.PlayerID)
		return p.State == PlayerDisconnected
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, EventRosterChanged, hostSub.lastRoom().Event)
}

func TestRoomReattachWithinTimeoutStaysConnected(t *testing.T) {
	cfg := testConfig()
	_, room, _, _ := newTestRoom(t, cfg, "")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	first := &fakeSub{}
	_, err := room.Join(b, first)
	require.NoError(t, err)

	room.Detach(first)
	_, err = room.Join(b, &fakeSub{})
	require.NoError(t, err)

	time.Sleep(3 * cfg.disconnectTimeout)

	view, err := room.View()
	require.NoError(t, err)
	p, ok := playerByID(view, b.PlayerID)
	require.True(t, ok)
	assert.Equal(t, PlayerConnected, p.State)
}

func TestRoomGraceExpiryRemovesPlayer(t *testing.T) {
	cfg := testConfig()
	_, room, _, _ := newTestRoom(t, cfg, "")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	_, err := room.Join(b, &fakeSub{})
	require.NoError(t, err)
	require.NoError(t, room.Leave(b.PlayerID, nil))

	require.Eventually(t, func() bool {
		view, err := room.View()
		return err == nil && len(view.Players) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A fresh join after removal gets a new join order.
	view, err := room.Join(b, &fakeSub{})
	require.NoError(t, err)
	p, ok := playerByID(view, b.PlayerID)
	require.True(t, ok)
	assert.Equal(t, 2, p.JoinOrder)
}

func TestRoomClosesWhenLastPlayerExpires(t *testing.T) {
	cfg := testConfig()
	reg, room, host, _ := newTestRoom(t, cfg, "")

	require.NoError(t, room.Leave(host.PlayerID, nil))

	require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err := room.Join(host, &fakeSub{})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomDropsSlowSubscriber(t *testing.T) {
	cfg := testConfig()
	_, room, _, _ := newTestRoom(t, cfg, "")
	sessions := newSessionStore()

	slow := &fakeSub{full: true}
	_, err := room.Join(newTestSession(t, sessions, "Боря"), slow)
	require.NoError(t, err)

	assert.True(t, slow.wasDropped())

	// The room keeps serving everyone else.
	_, err = room.Join(newTestSession(t, sessions, "Вика"), &fakeSub{})
	assert.NoError(t, err)
}

func TestRoomRename(t *testing.T) {
	cfg := testConfig()
	_, room, host, hostSub := newTestRoom(t, cfg, "")

	require.NoError(t, room.Rename(host.PlayerID, "Анна"))

	last := hostSub.lastRoom()
	assert.Equal(t, EventRosterChanged, last.Event)
	assert.Equal(t, "Анна", last.Room.Players[0].Name)

	assert.ErrorIs(t, room.Rename("nobody", "Кто-то"), ErrRoomNotFound)
}

func TestRoomClosedIsTerminal(t *testing.T) {
	cfg := testConfig()
	_, room, host, _ := newTestRoom(t, cfg, "")

	room.Close()

	_, err := room.Join(host, &fakeSub{})
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.ErrorIs(t, room.Start(host.PlayerID), ErrRoomNotFound)
}

func lastGame(t *testing.T, sub *fakeSub) games.TurnsState {
	t.Helper()

	var state games.TurnsState
	found := false
	for _, m := range sub.messages() {
		if gm, ok := m.(GameMessage); ok {
			state, found = gm.State.(games.TurnsState), true
		}
	}
	require.True(t, found, "no game state delivered")
	return state
}

func TestRoomConcurrentJoins(t *testing.T) {
	cfg := testConfig()
	cfg.disconnectTimeout = time.Hour
	cfg.graceWindow = time.Hour
	_, room, _, hostSub := newTestRoom(t, cfg, "tapeworm")
	sessions := newSessionStore()

	kind, ok := games.Lookup("tapeworm")
	require.True(t, ok)

	const joiners = 20

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
		full   int
	)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			sess, err := sessions.Create("Игрок")
			if !assert.NoError(t, err) {
				return
			}
			sub := &fakeSub{}
			_, err = room.Join(sess, sub)

			mu.Lock()
			switch {
			case err == nil:
				joined++
			case assert.ErrorIs(t, err, ErrRoomFull):
				full++
			}
			mu.Unlock()

			if err != nil {
				return
			}

			// Churn alongside the other joins.
			room.Detach(sub)
			_, err = room.Join(sess, sub)
			assert.NoError(t, err)
			assert.NoError(t, room.Leave(sess.PlayerID, sub))
		}()
	}
	wg.Wait()

	assert.Equal(t, kind.MaxPlayers-1, joined)
	assert.Equal(t, joiners-joined, full)

	view, err := room.View()
	require.NoError(t, err)
	require.Len(t, view.Players, kind.MaxPlayers)

	ids := make(map[string]bool)
	for i, p := range view.Players {
		assert.False(t, ids[p.ID], "duplicate player %s", p.ID)
		ids[p.ID] = true
		assert.Equal(t, i, p.JoinOrder)
	}

	events := hostSub.roomEvents()
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Room.Seq, events[i-1].Room.Seq)
		assert.LessOrEqual(t, len(events[i].Room.Players), kind.MaxPlayers)
	}
}

func TestRoomGameContinuesAfterSeatExpires(t *testing.T) {
	cfg := testConfig()
	_, room, host, hostSub := newTestRoom(t, cfg, "tapeworm")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	c := newTestSession(t, sessions, "Вика")
	_, err := room.Join(b, &fakeSub{})
	require.NoError(t, err)
	_, err = room.Join(c, &fakeSub{})
	require.NoError(t, err)
	require.NoError(t, room.Start(host.PlayerID))

	require.NoError(t, room.Leave(b.PlayerID, nil))
	require.Eventually(t, func() bool {
		view, err := room.View()
		return err == nil && len(view.Players) == 2
	}, 2*time.Second, 10*time.Millisecond)

	state := lastGame(t, hostSub)
	assert.Len(t, state.Seats, 2)
	assert.Equal(t, host.PlayerID, state.Active)

	// The turn goes straight from the host to Вика.
	require.NoError(t, room.Act(host.PlayerID, pass))
	require.NoError(t, room.Act(c.PlayerID, pass))

	state = lastGame(t, hostSub)
	assert.Equal(t, 2, state.Round)
	assert.Equal(t, host.PlayerID, state.Active)
}

func TestRoomClosesWhenGameLosesTooManySeats(t *testing.T) {
	cfg := testConfig()
	reg, room, host, hostSub := newTestRoom(t, cfg, "tapeworm")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	_, err := room.Join(b, &fakeSub{})
	require.NoError(t, err)
	require.NoError(t, room.Start(host.PlayerID))

	require.NoError(t, room.Leave(b.PlayerID, nil))

	require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, PhaseClosed, hostSub.lastRoom().Room.Phase)
	assert.True(t, lastGame(t, hostSub).Finished)
}

func TestRoomActRequiresConnectedPlayer(t *testing.T) {
	cfg := testConfig()
	cfg.graceWindow = time.Hour
	_, room, host, _ := newTestRoom(t, cfg, "tapeworm")
	sessions := newSessionStore()

	b := newTestSession(t, sessions, "Боря")
	c := newTestSession(t, sessions, "Вика")
	_, err := room.Join(b, &fakeSub{})
	require.NoError(t, err)
	_, err = room.Join(c, &fakeSub{})
	require.NoError(t, err)
	require.NoError(t, room.Start(host.PlayerID))

	require.NoError(t, room.Leave(host.PlayerID, nil))
	assert.ErrorIs(t, room.Act(host.PlayerID, pass), ErrRoomNotFound)

	_, err = room.Join(host, &fakeSub{})
	require.NoError(t, err)
	assert.NoError(t, room.Act(host.PlayerID, pass))
}

func TestRoomCloseIfAbandoned(t *testing.T) {
	cfg := testConfig()
	cfg.graceWindow = time.Hour
	_, room, host, _ := newTestRoom(t, cfg, "")

	later := time.Now().Add(2 * time.Hour)
	assert.False(t, room.closeIfAbandoned(later))

	require.NoError(t, room.Leave(host.PlayerID, nil))
	assert.False(t, room.closeIfAbandoned(time.Now()))

	// Coming back before the reaper looks keeps the room open.
	_, err := room.Join(host, &fakeSub{})
	require.NoError(t, err)
	assert.False(t, room.closeIfAbandoned(later))

	require.NoError(t, room.Leave(host.PlayerID, nil))
	assert.True(t, room.closeIfAbandoned(later))

	_, err = room.View()
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.True(t, room.closeIfAbandoned(later))
}
