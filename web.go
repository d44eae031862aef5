package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

const timeout time.Duration = 10 * time.Second

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; connect-src 'self' ws: wss:; img-src 'self' data:")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// logServed records a finished response at debug level.
func logServed(r *http.Request, what string, written int, startTime time.Time) {
	log.Debug().
		Str("module", "web").
		Str("addr", realIP(r)).
		Str("size", humanReadableSize(int64(written))).
		Dur("took", time.Since(startTime).Round(time.Microsecond)).
		Msg("served " + what)
}

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("fishka v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logServed(r, "version", written, startTime)
	}
}

// newRouter wires every route under cfg.prefix.
func newRouter(cfg *Config, sessions *SessionStore, rooms *Registry, errs chan<- error) *httprouter.Router {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		log.Error().Str("module", "web").Str("path", r.URL.Path).Interface("panic", i).Msg("handler panicked")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		_, _ = w.Write([]byte(newPage(cfg, "Server Error", "An error has occurred. Please try again.")))
	}

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	gw := newGateway(cfg, sessions, rooms)

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, errs))

	mux.GET(cfg.prefix+"/room/:code", serveRoomPage(cfg, rooms, errs))

	mux.GET(cfg.prefix+"/room/:code/qr", serveRoomQR(cfg, rooms, errs))

	mux.GET(cfg.prefix+"/assets/*asset", serveAssets(cfg, errs))

	mux.GET(cfg.prefix+"/api/games", serveGames(cfg, errs))

	mux.GET(cfg.prefix+"/api/rooms/:code", serveRoomSummary(cfg, rooms, errs))

	mux.GET(cfg.prefix+"/ws", gw.serveWS())

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, errs))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, errs))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	return mux
}

// drainErrors logs write failures reported by handlers.
func drainErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			log.Debug().Str("module", "web").Err(err).Msg("response write failed")
		}
	}
}

func ServePage(ctx context.Context, cfg *Config) error {
	var err error

	setupLogging(cfg, os.Stderr)

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	log.Info().Str("version", releaseVersion).Msg("starting fishka")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessions := newSessionStore()
	rooms := newRegistry(cfg)

	go sessions.reaperLoop(ctx, cfg.reapInterval, cfg.sessionTimeout)
	go rooms.reaperLoop(ctx)

	errs := make(chan error, 64)
	go drainErrors(ctx, errs)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           newRouter(cfg, sessions, rooms, errs),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	go func() {
		log.Info().Msgf("listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)

		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info().Int("rooms", rooms.Len()).Int("sessions", sessions.Len()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	rooms.Shutdown()

	return nil
}
