package games

import (
	"encoding/json"
	"slices"
)

// TurnsState is the public state of a Turns game.
type TurnsState struct {
	Seats    []Seat `json:"seats"`
	Active   string `json:"active"`
	Round    int    `json:"round"`
	Rounds   int    `json:"rounds"`
	Finished bool   `json:"finished"`
}

// Turns rotates the active seat in join order. Only the active seat may
// pass; the game finishes once the last seat passes in the final round.
type Turns struct {
	rounds int
	seats  []Seat
	active int
	round  int
	done   bool
}

func NewTurns(rounds int) *Turns {
	if rounds < 1 {
		rounds = 1
	}
	return &Turns{rounds: rounds}
}

func (t *Turns) Start(seats []Seat) (any, error) {
	if len(seats) == 0 {
		return nil, ErrNoSeats
	}

	t.seats = append([]Seat(nil), seats...)
	t.active = 0
	t.round = 1
	t.done = false

	return t.Snapshot(), nil
}

type turnsAction struct {
	Kind string `json:"kind"`
}

func (t *Turns) Apply(playerID string, action json.RawMessage) (Outcome, error) {
	var a turnsAction
	if err := json.Unmarshal(action, &a); err != nil {
		return Outcome{}, ErrBadAction
	}
	if a.Kind != "pass" || t.done || len(t.seats) == 0 {
		return Outcome{}, ErrBadAction
	}
	if t.seats[t.active].PlayerID != playerID {
		return Outcome{}, ErrNotYourTurn
	}

	t.active++
	t.wrap()

	return Outcome{State: t.Snapshot(), Finished: t.done}, nil
}

// Leave removes a seat. If it held the turn, the next seat takes it; a game
// left with fewer than two seats is over.
func (t *Turns) Leave(playerID string) Outcome {
	i := slices.IndexFunc(t.seats, func(s Seat) bool { return s.PlayerID == playerID })
	if i < 0 || t.done {
		return Outcome{State: t.Snapshot(), Finished: t.done}
	}

	t.seats = slices.Delete(t.seats, i, i+1)
	if i < t.active {
		t.active--
	}
	t.wrap()

	if len(t.seats) < 2 {
		t.done = true
	}

	return Outcome{State: t.Snapshot(), Finished: t.done}
}

// wrap starts the next round once the turn runs off the last seat.
func (t *Turns) wrap() {
	if t.active < len(t.seats) {
		return
	}

	t.active = 0
	if t.round == t.rounds {
		t.done = true
	} else {
		t.round++
	}
}

func (t *Turns) Snapshot() any {
	s := TurnsState{
		Seats:    append([]Seat(nil), t.seats...),
		Round:    t.round,
		Rounds:   t.rounds,
		Finished: t.done,
	}
	if len(t.seats) > 0 && !t.done {
		s.Active = t.seats[t.active].PlayerID
	}
	return s
}
