package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Seednode/fishka/games"
)

// Registry holds every live room keyed by code, so each code maps to one
// isolated room goroutine.
type Registry struct {
	cfg *Config

	mu    sync.Mutex
	rooms map[string]*Room

	// Swappable in tests to force collisions.
	newCode func() (string, error)
}

func newRegistry(cfg *Config) *Registry {
	return &Registry{
		cfg:     cfg,
		rooms:   make(map[string]*Room),
		newCode: newRoomCode,
	}
}

// Create allocates a code and starts a room with host seated first. Code
// allocation holds the registry lock, so two concurrent creates can never
// be handed the same code.
func (reg *Registry) Create(host Session, kind string) (*Room, error) {
	k, ok := games.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, kind)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	for range reg.cfg.codeAttempts {
		code, err := reg.newCode()
		if err != nil {
			return nil, err
		}
		if _, taken := reg.rooms[code]; taken {
			continue
		}

		room := newRoom(reg.cfg, code, k, host, reg.remove)
		reg.rooms[code] = room
		go room.run()

		log.Info().Str("module", "registry").Str("room", code).Str("game", k.ID).Str("host", host.PlayerID).Msg("created room")

		return room, nil
	}

	log.Warn().Str("module", "registry").Int("attempts", reg.cfg.codeAttempts).Int("rooms", len(reg.rooms)).Msg("room code allocation exhausted")

	return nil, ErrCodeAllocationExhausted
}

// Find accepts user input in any case and with surrounding whitespace.
func (reg *Registry) Find(code string) (*Room, error) {
	code, ok := normalizeCode(code)
	if !ok {
		return nil, ErrRoomNotFound
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// remove runs on a room's own goroutine as it exits. It only deletes the
// entry if it still points at that room.
func (reg *Registry) remove(room *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.rooms[room.code] == room {
		delete(reg.rooms, room.code)
	}
}

func (reg *Registry) snapshot() []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Reap closes rooms nobody has been connected to for the grace window.
// Rooms are queried outside the registry lock since each query waits on the
// room goroutine.
func (reg *Registry) Reap(now time.Time) int {
	n := 0
	for _, room := range reg.snapshot() {
		if !room.closeIfAbandoned(now) {
			continue
		}

		reg.remove(room)
		n++

		log.Debug().Str("module", "registry").Str("room", room.code).Msg("reaped room")
	}
	return n
}

// Shutdown closes every room.
func (reg *Registry) Shutdown() {
	for _, room := range reg.snapshot() {
		room.Close()
		reg.remove(room)
	}
}

func (reg *Registry) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(reg.cfg.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := reg.Reap(now); n > 0 {
				log.Info().Str("module", "registry").Int("reaped", n).Int("rooms", reg.Len()).Msg("reaped abandoned rooms")
			}
		}
	}
}
