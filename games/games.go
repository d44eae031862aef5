// Package games holds the engines a room hands control to once play starts.
//
// A room seats its connected players in join order, calls Start once, and
// then forwards every player action to Apply. Engines never see sockets or
// room state; they return new public state and the room fans it out.
package games

import (
	"encoding/json"
	"errors"
	"sort"
)

var (
	ErrBadAction   = errors.New("malformed action")
	ErrNotYourTurn = errors.New("not your turn")
	ErrNoSeats     = errors.New("no seats to start with")
)

// Seat is a player as an engine sees them.
type Seat struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Order    int    `json:"order"`
}

// Outcome is the result of applying one action.
type Outcome struct {
	State    any
	Finished bool
}

// Engine runs one game inside one room. Calls are serialized by the room.
type Engine interface {
	Start(seats []Seat) (any, error)
	Apply(playerID string, action json.RawMessage) (Outcome, error)
	// Leave gives up a seat whose player is gone for good.
	Leave(playerID string) Outcome
	Snapshot() any
}

// Kind describes a game a room can be created for.
type Kind struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	MinPlayers int           `json:"minPlayers"`
	MaxPlayers int           `json:"maxPlayers"`
	New        func() Engine `json:"-"`
}

const defaultKind = "tapeworm"

var catalog = map[string]Kind{
	"tapeworm": {
		ID:         "tapeworm",
		Title:      "Червяк",
		MinPlayers: 2,
		MaxPlayers: 8,
		New:        func() Engine { return NewTurns(3) },
	},
	"crocodile": {
		ID:         "crocodile",
		Title:      "Крокодил",
		MinPlayers: 3,
		MaxPlayers: 12,
		New:        func() Engine { return NewTurns(2) },
	},
	"hat": {
		ID:         "hat",
		Title:      "Шляпа",
		MinPlayers: 2,
		MaxPlayers: 10,
		New:        func() Engine { return NewTurns(4) },
	},
}

// Lookup finds a kind by ID. An empty ID resolves to the default kind.
func Lookup(id string) (Kind, bool) {
	if id == "" {
		id = defaultKind
	}
	k, ok := catalog[id]
	return k, ok
}

func Default() Kind {
	return catalog[defaultKind]
}

// List returns every kind, default first, the rest by ID.
func List() []Kind {
	out := make([]Kind, 0, len(catalog))
	for _, k := range catalog {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID == defaultKind || out[j].ID == defaultKind {
			return out[i].ID == defaultKind
		}
		return out[i].ID < out[j].ID
	})
	return out
}
