package main

import (
	"encoding/json"
)

// ClientMessage is every frame a client may send.
type ClientMessage struct {
	Type    string          `json:"type"`              // "create", "join", "leave", "start", "rename", "action", "ping"
	Game    string          `json:"game,omitempty"`    // create
	Code    string          `json:"code,omitempty"`    // join
	Name    string          `json:"name,omitempty"`    // rename
	Payload json.RawMessage `json:"payload,omitempty"` // action
}

// SessionMessage is the first frame of every connection. The client stores
// the token and sends it back when it reconnects.
type SessionMessage struct {
	Type     string `json:"type"` // "session"
	Token    string `json:"token"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
}

// ReadyMessage closes the handshake. Clients keep create/join disabled
// until it arrives. An empty Room means the neutral start state.
type ReadyMessage struct {
	Type string `json:"type"` // "ready"
	Room string `json:"room"`
}

// PlayerView is one roster row.
type PlayerView struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	State     PlayerState `json:"state"`
	JoinOrder int         `json:"joinOrder"`
	IsHost    bool        `json:"isHost"`
}

// RoomView is a full copy of a room's public state at one point in its
// event sequence.
type RoomView struct {
	Code    string       `json:"code"`
	Game    string       `json:"game"`
	Phase   Phase        `json:"phase"`
	HostID  string       `json:"hostId"`
	Players []PlayerView `json:"players"`
	Seq     uint64       `json:"seq"`
}

// Connected counts players whose transport is live.
func (v RoomView) Connected() int {
	n := 0
	for _, p := range v.Players {
		if p.State == PlayerConnected {
			n++
		}
	}
	return n
}

const (
	EventSnapshot      = "snapshot"
	EventRosterChanged = "roster_changed"
	EventPhaseChanged  = "phase_changed"
	EventHostChanged   = "host_changed"
)

// RoomMessage carries a room event. Every event includes the whole room so
// a client never has to merge deltas.
type RoomMessage struct {
	Type  string   `json:"type"` // "room"
	Event string   `json:"event"`
	Room  RoomView `json:"room"`
}

// GameMessage carries engine state while a game is running.
type GameMessage struct {
	Type  string `json:"type"` // "game"
	State any    `json:"state"`
}

type CreatedMessage struct {
	Type string `json:"type"` // "created"
	Code string `json:"code"`
}

// ErrorMessage goes only to the connection whose request failed.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SimpleMessage is for bare notifications ("left", "pong").
type SimpleMessage struct {
	Type string `json:"type"`
}

func newErrorMessage(err error) ErrorMessage {
	return ErrorMessage{
		Type:    "error",
		Code:    errorCode(err),
		Message: err.Error(),
	}
}
