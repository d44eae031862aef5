package main

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Seednode/fishka/games"
)

type Phase string

const (
	PhaseLobby      Phase = "lobby"
	PhaseInProgress Phase = "in_progress"
	PhaseClosed     Phase = "closed"
)

type PlayerState string

const (
	PlayerConnected    PlayerState = "connected"
	PlayerDisconnected PlayerState = "disconnected"
)

// subscriber is a transport attached to a room. deliver must never block;
// a false return means the transport cannot keep up and is dropped.
type subscriber interface {
	deliver(msg any) bool
	drop()
}

// Player is a roster entry. It outlives the transport that created it for
// the grace window, so a reload lands back in the same slot.
type Player struct {
	ID        string
	Name      string
	State     PlayerState
	JoinOrder int

	disconnectedAt time.Time
	// Bumped whenever a timer armed for this player should stop mattering.
	epoch uint64
}

// Room is a single-owner actor. Every read and write of the fields below
// ops happens on the run goroutine, one closure at a time, so no two joins,
// leaves or starts against the same room ever interleave.
type Room struct {
	code    string
	kind    games.Kind
	cfg     *Config
	onClose func(*Room)

	ops  chan func()
	done chan struct{}

	phase    Phase
	hostID   string
	players  []*Player
	nextJoin int
	subs     map[subscriber]string
	engine   games.Engine
	seq      uint64
}

// newRoom seats host with join order 0. The room does nothing until run is
// started.
func newRoom(cfg *Config, code string, kind games.Kind, host Session, onClose func(*Room)) *Room {
	return &Room{
		code:    code,
		kind:    kind,
		cfg:     cfg,
		onClose: onClose,
		ops:     make(chan func()),
		done:    make(chan struct{}),
		phase:   PhaseLobby,
		hostID:  host.PlayerID,
		players: []*Player{{
			ID:        host.PlayerID,
			Name:      host.DisplayName,
			State:     PlayerConnected,
			JoinOrder: 0,
		}},
		nextJoin: 1,
		subs:     make(map[subscriber]string),
	}
}

func (r *Room) Code() string { return r.code }

func (r *Room) Kind() games.Kind { return r.kind }

func (r *Room) run() {
	defer func() {
		close(r.done)
		if r.onClose != nil {
			r.onClose(r)
		}
	}()

	// The creator has no transport yet; if none ever attaches, treat them
	// like any other dropped connection.
	r.armLivenessLocked(r.hostID)

	for op := range r.ops {
		r.apply(op)
		if r.phase == PhaseClosed {
			return
		}
	}
}

func (r *Room) apply(op func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "room").Str("room", r.code).Interface("panic", rec).Msg("room operation panicked, closing room")
			r.closeLocked()
		}
	}()

	op()
}

// do runs fn on the room goroutine and waits for it. It fails with
// ErrRoomNotFound once the room has shut down.
func (r *Room) do(fn func()) error {
	ran := make(chan bool, 1)
	op := func() {
		ok := false
		defer func() { ran <- ok }()
		fn()
		ok = true
	}

	select {
	case r.ops <- op:
	case <-r.done:
		return ErrRoomNotFound
	}

	if !<-ran {
		return ErrRoomNotFound
	}
	return nil
}

// later runs fn on the room goroutine after d, unless the room is gone.
func (r *Room) later(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		_ = r.do(fn)
	})
}

// Join seats s, or restores its existing slot, and attaches sub (which may
// be nil) to the room's event stream.
func (r *Room) Join(s Session, sub subscriber) (RoomView, error) {
	var (
		view RoomView
		err  error
	)
	if e := r.do(func() { view, err = r.joinLocked(s, sub) }); e != nil {
		return RoomView{}, e
	}
	return view, err
}

func (r *Room) joinLocked(s Session, sub subscriber) (RoomView, error) {
	if r.phase == PhaseClosed {
		return RoomView{}, ErrRoomNotJoinable
	}

	changed := false

	p := r.player(s.PlayerID)
	switch {
	case p == nil:
		if r.phase != PhaseLobby {
			return RoomView{}, ErrRoomNotJoinable
		}
		if r.kind.MaxPlayers > 0 && len(r.players) >= r.kind.MaxPlayers {
			return RoomView{}, ErrRoomFull
		}

		p = &Player{
			ID:        s.PlayerID,
			Name:      s.DisplayName,
			State:     PlayerConnected,
			JoinOrder: r.nextJoin,
		}
		r.nextJoin++
		r.players = append(r.players, p)
		changed = true

		log.Info().Str("module", "room").Str("room", r.code).Str("player", p.ID).Int("join_order", p.JoinOrder).Msg("player joined")
	case p.State == PlayerDisconnected:
		p.State = PlayerConnected
		p.disconnectedAt = time.Time{}
		p.epoch++
		changed = true

		log.Info().Str("module", "room").Str("room", r.code).Str("player", p.ID).Msg("player reconnected")
	default:
		p.epoch++
	}

	if sub != nil {
		r.subs[sub] = p.ID
	}

	hostChanged := false
	if host := r.player(r.hostID); host != nil && host.State == PlayerDisconnected {
		hostChanged = r.reassignHostLocked(host.ID)
	}

	if changed {
		r.emit(EventRosterChanged)
	} else if sub != nil {
		r.send(sub, RoomMessage{Type: "room", Event: EventSnapshot, Room: r.viewLocked()})
	}
	if hostChanged {
		r.emit(EventHostChanged)
	}

	if sub != nil && r.phase == PhaseInProgress && r.engine != nil {
		r.send(sub, GameMessage{Type: "game", State: r.engine.Snapshot()})
	}

	return r.viewLocked(), nil
}

// Leave is an explicit leave. The player is marked disconnected right away
// and keeps their slot for the grace window. Every transport they had
// attached is detached and told so, as is from (the requesting transport)
// if it was not attached.
func (r *Room) Leave(playerID string, from subscriber) error {
	return r.do(func() { r.leaveLocked(playerID, from) })
}

func (r *Room) leaveLocked(playerID string, from subscriber) {
	told := false
	for sub, id := range r.subs {
		if id == playerID {
			delete(r.subs, sub)
			sub.deliver(SimpleMessage{Type: "left"})
			told = told || sub == from
		}
	}
	if from != nil && !told {
		from.deliver(SimpleMessage{Type: "left"})
	}

	p := r.player(playerID)
	if p == nil || p.State != PlayerConnected {
		return
	}

	log.Info().Str("module", "room").Str("room", r.code).Str("player", playerID).Msg("player left")

	hostChanged := r.disconnectLocked(p)
	r.emit(EventRosterChanged)
	if hostChanged {
		r.emit(EventHostChanged)
	}
}

// Detach removes a transport whose connection dropped. The player is only
// marked disconnected if no transport comes back within the liveness
// timeout.
func (r *Room) Detach(sub subscriber) {
	_ = r.do(func() {
		id, ok := r.subs[sub]
		if !ok {
			return
		}
		delete(r.subs, sub)
		r.armLivenessLocked(id)
	})
}

func (r *Room) armLivenessLocked(playerID string) {
	if r.hasSubs(playerID) {
		return
	}
	p := r.player(playerID)
	if p == nil || p.State != PlayerConnected {
		return
	}

	p.epoch++
	epoch := p.epoch
	r.later(r.cfg.disconnectTimeout, func() {
		p := r.player(playerID)
		if p == nil || p.epoch != epoch || p.State != PlayerConnected || r.hasSubs(playerID) {
			return
		}

		log.Debug().Str("module", "room").Str("room", r.code).Str("player", playerID).Msg("connection lost")

		hostChanged := r.disconnectLocked(p)
		r.emit(EventRosterChanged)
		if hostChanged {
			r.emit(EventHostChanged)
		}
	})
}

// disconnectLocked starts the grace window for p and hands the host role
// on if p held it. It reports whether the host changed.
func (r *Room) disconnectLocked(p *Player) bool {
	p.State = PlayerDisconnected
	p.disconnectedAt = time.Now()
	p.epoch++

	epoch := p.epoch
	id := p.ID
	r.later(r.cfg.graceWindow, func() { r.expireLocked(id, epoch) })

	if r.hostID == p.ID {
		return r.reassignHostLocked(p.ID)
	}
	return false
}

// expireLocked drops a player whose grace window ran out.
func (r *Room) expireLocked(playerID string, epoch uint64) {
	i := r.index(playerID)
	if i < 0 {
		return
	}
	p := r.players[i]
	if p.State != PlayerDisconnected || p.epoch != epoch {
		return
	}

	r.players = append(r.players[:i], r.players[i+1:]...)

	log.Info().Str("module", "room").Str("room", r.code).Str("player", playerID).Msg("player removed after grace window")

	if len(r.players) == 0 {
		r.closeLocked()
		return
	}

	if r.phase == PhaseInProgress && r.engine != nil {
		out := r.engine.Leave(playerID)
		r.broadcast(GameMessage{Type: "game", State: out.State})

		if out.Finished || len(r.players) < max(2, r.kind.MinPlayers) {
			log.Info().Str("module", "room").Str("room", r.code).Int("players", len(r.players)).Msg("game ended after a player left")
			r.closeLocked()
			return
		}
	}

	hostChanged := false
	if r.hostID == playerID {
		hostChanged = r.reassignHostLocked(playerID)
	}

	r.emit(EventRosterChanged)
	if hostChanged {
		r.emit(EventHostChanged)
	}
}

// reassignHostLocked moves the host role off exclude: to the connected
// player with the lowest join order, or failing that to the lowest join
// order among everyone else still on the roster.
func (r *Room) reassignHostLocked(exclude string) bool {
	next := ""
	for _, p := range r.players {
		if p.ID != exclude && p.State == PlayerConnected {
			next = p.ID
			break
		}
	}
	if next == "" {
		for _, p := range r.players {
			if p.ID != exclude {
				next = p.ID
				break
			}
		}
	}
	if next == "" || next == r.hostID {
		return false
	}

	r.hostID = next

	log.Info().Str("module", "room").Str("room", r.code).Str("host", next).Msg("host changed")

	return true
}

// Start moves the room into play. Only the host may call it; calling it
// again once the game is running is a no-op.
func (r *Room) Start(playerID string) error {
	var err error
	if e := r.do(func() { err = r.startLocked(playerID) }); e != nil {
		return e
	}
	return err
}

func (r *Room) startLocked(playerID string) error {
	switch {
	case r.phase == PhaseClosed:
		return ErrRoomNotJoinable
	case r.hostID != playerID:
		return ErrNotHost
	case r.phase == PhaseInProgress:
		return nil
	}

	need := max(2, r.kind.MinPlayers)

	seats := make([]games.Seat, 0, len(r.players))
	for _, p := range r.players {
		if p.State == PlayerConnected {
			seats = append(seats, games.Seat{PlayerID: p.ID, Name: p.Name, Order: p.JoinOrder})
		}
	}
	if len(seats) < need {
		return ErrInsufficientPlayers
	}

	engine := r.kind.New()
	state, err := engine.Start(seats)
	if err != nil {
		return err
	}

	r.engine = engine
	r.phase = PhaseInProgress

	log.Info().Str("module", "room").Str("room", r.code).Str("game", r.kind.ID).Int("seats", len(seats)).Msg("game started")

	r.emit(EventPhaseChanged)
	r.broadcast(GameMessage{Type: "game", State: state})

	return nil
}

// Act forwards a player action to the running engine.
func (r *Room) Act(playerID string, action json.RawMessage) error {
	var err error
	if e := r.do(func() { err = r.actLocked(playerID, action) }); e != nil {
		return e
	}
	return err
}

func (r *Room) actLocked(playerID string, action json.RawMessage) error {
	if r.phase != PhaseInProgress || r.engine == nil {
		return ErrGameNotRunning
	}
	// A player who left explicitly may still have a stale transport around.
	if p := r.player(playerID); p == nil || p.State != PlayerConnected {
		return ErrRoomNotFound
	}

	out, err := r.engine.Apply(playerID, action)
	if err != nil {
		return err
	}

	r.broadcast(GameMessage{Type: "game", State: out.State})

	if out.Finished {
		log.Info().Str("module", "room").Str("room", r.code).Msg("game finished")
		r.closeLocked()
	}

	return nil
}

func (r *Room) Rename(playerID, name string) error {
	var err error
	if e := r.do(func() {
		p := r.player(playerID)
		if p == nil {
			err = ErrRoomNotFound
			return
		}
		if p.Name == name {
			return
		}
		p.Name = name
		r.emit(EventRosterChanged)
	}); e != nil {
		return e
	}
	return err
}

func (r *Room) View() (RoomView, error) {
	var view RoomView
	if err := r.do(func() { view = r.viewLocked() }); err != nil {
		return RoomView{}, err
	}
	return view, nil
}

// Close ends the room; Closed is terminal.
func (r *Room) Close() {
	_ = r.do(r.closeLocked)
}

// closeIfAbandoned closes the room if every player on it has been gone for
// longer than the grace window. The check and the close happen in one
// operation, so a player reconnecting in between is never shut out. It also
// reports true for a room that has already shut down.
func (r *Room) closeIfAbandoned(now time.Time) bool {
	gone := true
	err := r.do(func() {
		for _, p := range r.players {
			if p.State == PlayerConnected || now.Sub(p.disconnectedAt) <= r.cfg.graceWindow {
				gone = false
				return
			}
		}
		r.closeLocked()
	})
	if err != nil {
		return true
	}
	return gone
}

func (r *Room) closeLocked() {
	if r.phase == PhaseClosed {
		return
	}

	r.phase = PhaseClosed
	r.emit(EventPhaseChanged)
	clear(r.subs)

	log.Info().Str("module", "room").Str("room", r.code).Msg("room closed")
}

func (r *Room) emit(event string) {
	r.seq++
	r.broadcast(RoomMessage{Type: "room", Event: event, Room: r.viewLocked()})
}

func (r *Room) broadcast(msg any) {
	for sub := range r.subs {
		r.send(sub, msg)
	}
}

func (r *Room) send(sub subscriber, msg any) {
	if sub.deliver(msg) {
		return
	}

	id := r.subs[sub]
	delete(r.subs, sub)
	sub.drop()

	log.Warn().Str("module", "room").Str("room", r.code).Str("player", id).Msg("dropped slow connection")

	r.armLivenessLocked(id)
}

func (r *Room) viewLocked() RoomView {
	players := make([]PlayerView, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			State:     p.State,
			JoinOrder: p.JoinOrder,
			IsHost:    p.ID == r.hostID,
		})
	}

	return RoomView{
		Code:    r.code,
		Game:    r.kind.ID,
		Phase:   r.phase,
		HostID:  r.hostID,
		Players: players,
		Seq:     r.seq,
	}
}

func (r *Room) index(playerID string) int {
	for i, p := range r.players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) player(playerID string) *Player {
	if i := r.index(playerID); i >= 0 {
		return r.players[i]
	}
	return nil
}

func (r *Room) hasSubs(playerID string) bool {
	for _, id := range r.subs {
		if id == playerID {
			return true
		}
	}
	return false
}
