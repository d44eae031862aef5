/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"

	"github.com/Seednode/fishka/games"
)

var (
	ErrRoomNotFound            = errors.New("room not found")
	ErrRoomNotJoinable         = errors.New("room is not accepting players")
	ErrRoomFull                = errors.New("room is full")
	ErrNotHost                 = errors.New("only the host may do that")
	ErrInsufficientPlayers     = errors.New("not enough connected players")
	ErrCodeAllocationExhausted = errors.New("no free room code found")
	ErrUnknownGame             = errors.New("unknown game")
	ErrGameNotRunning          = errors.New("game is not running")
	ErrBadName                 = errors.New("display name must be 1-32 characters")
	ErrBadRequest              = errors.New("malformed message")
)

// errorCode maps an operation failure onto the code sent to the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrRoomNotJoinable):
		return "room_not_joinable"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrNotHost):
		return "not_host"
	case errors.Is(err, ErrInsufficientPlayers):
		return "insufficient_players"
	case errors.Is(err, ErrCodeAllocationExhausted):
		return "code_allocation_exhausted"
	case errors.Is(err, ErrUnknownGame):
		return "unknown_game"
	case errors.Is(err, ErrGameNotRunning):
		return "game_not_running"
	case errors.Is(err, ErrBadName):
		return "bad_name"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, games.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, games.ErrBadAction):
		return "bad_action"
	default:
		return "internal"
	}
}
