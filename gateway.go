package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Gateway turns websocket connections into session and room operations.
type Gateway struct {
	cfg      *Config
	sessions *SessionStore
	rooms    *Registry
}

func newGateway(cfg *Config, sessions *SessionStore, rooms *Registry) *Gateway {
	return &Gateway{
		cfg:      cfg,
		sessions: sessions,
		rooms:    rooms,
	}
}

// Client is one websocket connection. send is never closed; done is closed
// exactly once, by whichever side gives up first.
type Client struct {
	conn      *websocket.Conn
	send      chan any
	done      chan struct{}
	closeOnce sync.Once

	token    string
	playerID string
	addr     string

	// Only touched by the read pump.
	room *Room
}

func (c *Client) deliver(msg any) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) drop() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (gw *Gateway) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Str("module", "gateway").Str("addr", realIP(r)).Err(err).Msg("upgrade failed")
			return
		}

		q := r.URL.Query()

		sess, ok := gw.sessions.Resolve(q.Get("token"))
		if !ok {
			name, err := cleanName(q.Get("name"))
			if err != nil {
				name = randomName()
			}

			sess, err = gw.sessions.Create(name)
			if err != nil {
				log.Error().Str("module", "gateway").Err(err).Msg("unable to create session")
				_ = conn.Close()
				return
			}
		}
		gw.sessions.Touch(sess.Token)

		c := &Client{
			conn:     conn,
			send:     make(chan any, sendBuffer),
			done:     make(chan struct{}),
			token:    sess.Token,
			playerID: sess.PlayerID,
			addr:     realIP(r),
		}

		log.Debug().Str("module", "gateway").Str("addr", c.addr).Str("player", c.playerID).Msg("connection opened")

		go c.writePump(gw.cfg)

		c.deliver(SessionMessage{
			Type:     "session",
			Token:    sess.Token,
			PlayerID: sess.PlayerID,
			Name:     sess.DisplayName,
		})

		code := q.Get("room")
		if code == "" {
			code = sess.RoomCode
		}
		if code != "" {
			if err := gw.attach(c, code); err != nil {
				c.deliver(newErrorMessage(err))
			}
		}

		ready := ReadyMessage{Type: "ready"}
		if c.room != nil {
			ready.Room = c.room.Code()
		}
		c.deliver(ready)

		gw.readPump(c)
	}
}

// attach joins c to the room named by code and records it on the session.
// A session pointing at a room that is gone or refuses it is cleared.
func (gw *Gateway) attach(c *Client, code string) error {
	sess, ok := gw.sessions.Resolve(c.token)
	if !ok {
		return ErrRoomNotFound
	}

	room, err := gw.rooms.Find(code)
	if err == nil {
		_, err = room.Join(sess, c)
	}
	if err != nil {
		if sess.RoomCode != "" {
			if norm, _ := normalizeCode(code); norm == sess.RoomCode {
				gw.sessions.DetachFromRoom(c.token)
			}
		}
		return err
	}

	c.room = room
	gw.sessions.AttachToRoom(c.token, room.Code())

	return nil
}

func (gw *Gateway) readPump(c *Client) {
	defer func() {
		if c.room != nil {
			c.room.Detach(c)
		}
		c.drop()
		_ = c.conn.Close()

		log.Debug().Str("module", "gateway").Str("addr", c.addr).Str("player", c.playerID).Msg("connection closed")
	}()

	pongWait := gw.cfg.pongWait()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		gw.sessions.Touch(c.token)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("module", "gateway").Str("addr", c.addr).Err(err).Msg("read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		gw.sessions.Touch(c.token)

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.deliver(newErrorMessage(fmt.Errorf("%w: %v", ErrBadRequest, err)))
			continue
		}

		if err := gw.handle(c, msg); err != nil {
			gw.fail(c, err)
		}
	}
}

func (c *Client) writePump(cfg *Config) {
	ticker := time.NewTicker(cfg.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.drop()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drop()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// fail reports err to the requesting connection only. A room that has shut
// down underneath the client is forgotten.
func (gw *Gateway) fail(c *Client, err error) {
	if errors.Is(err, ErrRoomNotFound) && c.room != nil {
		if _, viewErr := c.room.View(); viewErr != nil {
			c.room = nil
			gw.sessions.DetachFromRoom(c.token)
		}
	}

	log.Debug().Str("module", "gateway").Str("player", c.playerID).Err(err).Msg("request failed")

	c.deliver(newErrorMessage(err))
}

func (gw *Gateway) handle(c *Client, msg ClientMessage) error {
	switch msg.Type {
	case "ping":
		c.deliver(SimpleMessage{Type: "pong"})
	case "create":
		return gw.handleCreate(c, msg.Game)
	case "join":
		return gw.handleJoin(c, msg.Code)
	case "leave":
		gw.leave(c)
	case "start":
		if c.room == nil {
			return ErrRoomNotFound
		}
		return c.room.Start(c.playerID)
	case "rename":
		return gw.handleRename(c, msg.Name)
	case "action":
		if c.room == nil {
			return ErrRoomNotFound
		}
		return c.room.Act(c.playerID, msg.Payload)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadRequest, msg.Type)
	}

	return nil
}

func (gw *Gateway) handleCreate(c *Client, game string) error {
	sess, ok := gw.sessions.Resolve(c.token)
	if !ok {
		return ErrRoomNotFound
	}

	if c.room != nil {
		gw.leave(c)
	}

	room, err := gw.rooms.Create(sess, game)
	if err != nil {
		return err
	}

	c.deliver(CreatedMessage{Type: "created", Code: room.Code()})

	return gw.attach(c, room.Code())
}

func (gw *Gateway) handleJoin(c *Client, code string) error {
	norm, ok := normalizeCode(code)
	if !ok {
		return ErrRoomNotFound
	}

	if c.room != nil && c.room.Code() != norm {
		gw.leave(c)
	}

	return gw.attach(c, norm)
}

func (gw *Gateway) handleRename(c *Client, requested string) error {
	name, err := cleanName(requested)
	if err != nil {
		return err
	}

	gw.sessions.Rename(c.token, name)

	if c.room != nil {
		if err := c.room.Rename(c.playerID, name); err != nil {
			return err
		}
	}

	c.deliver(SessionMessage{
		Type:     "session",
		Token:    c.token,
		PlayerID: c.playerID,
		Name:     name,
	})

	return nil
}

// leave always ends with the client told it has left, even if the room was
// already gone.
func (gw *Gateway) leave(c *Client) {
	gw.sessions.DetachFromRoom(c.token)

	if c.room == nil {
		c.deliver(SimpleMessage{Type: "left"})
		return
	}

	room := c.room
	c.room = nil

	if err := room.Leave(c.playerID, c); err != nil {
		c.deliver(SimpleMessage{Type: "left"})
	}
}
