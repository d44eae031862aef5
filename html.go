/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"embed"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/fishka/games"
)

//go:embed assets/*
var assets embed.FS

func newPage(cfg *Config, title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="ru"><head><meta charset="utf-8">`)
	htmlBody.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
	htmlBody.WriteString(fmt.Sprintf(`<link rel="icon" type="image/svg+xml" href="%s/assets/favicon.svg">`, cfg.prefix))
	htmlBody.WriteString(fmt.Sprintf(`<link rel="stylesheet" href="%s/assets/app.css">`, cfg.prefix))
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", html.EscapeString(title)))
	htmlBody.WriteString(fmt.Sprintf("<body>%s</body></html>", body))

	return htmlBody.String()
}

// appShell is the page the client script boots from. room is empty for the
// neutral start state.
func appShell(cfg *Config, room string) string {
	body := fmt.Sprintf(`<main id="app" data-prefix="%s" data-room="%s"><h1>Фишка</h1><p id="status">Подключение…</p></main>`,
		html.EscapeString(cfg.prefix), room)
	body += fmt.Sprintf(`<script src="%s/assets/app.js" defer></script>`, cfg.prefix)

	return newPage(cfg, "Fishka", body)
}

func writePage(cfg *Config, w http.ResponseWriter, r *http.Request, page string, errs chan<- error) {
	startTime := time.Now()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)

	written, err := w.Write([]byte(page))
	if err != nil {
		errs <- err

		return
	}

	logServed(r, "page "+r.URL.Path, written, startTime)
}

func serveHomePage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writePage(cfg, w, r, appShell(cfg, ""), errs)
	}
}

// serveRoomPage lets a shared link land straight in a room. Anything that
// does not name a live room goes back to the start page.
func serveRoomPage(cfg *Config, rooms *Registry, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		room, err := rooms.Find(p.ByName("code"))
		if err != nil {
			http.Redirect(w, r, cfg.prefix+"/", http.StatusFound)

			return
		}

		writePage(cfg, w, r, appShell(cfg, room.Code()), errs)
	}
}

func serveHealthCheck(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveAssets(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		fname := "assets/" + strings.TrimPrefix(p.ByName("asset"), "/")

		data, err := assets.ReadFile(fname)
		if err != nil {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		ext := strings.ToLower(filepath.Ext(fname))
		switch ext {
		case ".css":
			w.Header().Set("Content-Type", "text/css; charset=utf-8")
		case ".js":
			w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		case ".svg":
			w.Header().Set("Content-Type", "image/svg+xml")
		}

		_, err = w.Write(data)
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveRobots(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data := `User-agent: *
Disallow: /room/
Disallow: /api/
Disallow: /ws

User-agent: GPTBot
Disallow: /

User-agent: CCBot
Disallow: /`

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		_, err := w.Write([]byte(data))
		if err != nil {
			errs <- err

			return
		}
	}
}

type gameSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	MinPlayers int    `json:"minPlayers"`
	MaxPlayers int    `json:"maxPlayers"`
	Default    bool   `json:"default"`
}

type roomSummary struct {
	Code      string `json:"code"`
	Game      string `json:"game"`
	Phase     Phase  `json:"phase"`
	Players   int    `json:"players"`
	Connected int    `json:"connected"`
	Joinable  bool   `json:"joinable"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any, errs chan<- error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		errs <- err
	}
}

func serveGames(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		def := games.Default()

		list := games.List()
		out := make([]gameSummary, 0, len(list))
		for _, k := range list {
			out = append(out, gameSummary{
				ID:         k.ID,
				Title:      k.Title,
				MinPlayers: k.MinPlayers,
				MaxPlayers: k.MaxPlayers,
				Default:    k.ID == def.ID,
			})
		}

		writeJSON(cfg, w, http.StatusOK, out, errs)
	}
}

// serveRoomSummary lets the client check a code before opening a socket.
func serveRoomSummary(cfg *Config, rooms *Registry, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var view RoomView

		room, err := rooms.Find(p.ByName("code"))
		if err == nil {
			view, err = room.View()
		}
		if err != nil {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": errorCode(err)}, errs)

			return
		}

		writeJSON(cfg, w, http.StatusOK, roomSummary{
			Code:      view.Code,
			Game:      view.Game,
			Phase:     view.Phase,
			Players:   len(view.Players),
			Connected: view.Connected(),
			Joinable:  view.Phase == PhaseLobby && len(view.Players) < room.Kind().MaxPlayers,
		}, errs)
	}
}
