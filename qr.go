package main

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Large enough to scan off a phone held across the room.
const qrSize = 320

// roomURL is the absolute link a QR code points at, honoring TLS and
// X-Forwarded-Proto.
func roomURL(cfg *Config, r *http.Request, code string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + cfg.prefix + "/room/" + code
}

// serveRoomQR renders a PNG share code for a live room.
func serveRoomQR(cfg *Config, rooms *Registry, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		room, err := rooms.Find(p.ByName("code"))
		if err != nil {
			http.NotFound(w, r)

			return
		}

		png, err := qrcode.Encode(roomURL(cfg, r, room.Code()), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		written, err := w.Write(png)
		if err != nil {
			errs <- err

			return
		}

		logServed(r, "qr code for "+room.Code(), written, startTime)
	}
}
